package auth

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/yourusername/paper-batch/internal/config"
)

type testClient struct {
	t       *testing.T
	router  *gin.Engine
	cookies map[string]*http.Cookie
}

func (tc *testClient) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	tc.t.Helper()
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	for _, c := range tc.cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	tc.router.ServeHTTP(rec, req)
	for _, c := range rec.Result().Cookies() {
		tc.cookies[c.Name] = c
	}
	return rec
}

func newTestManager(t *testing.T) (*Manager, *testClient) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("failed to hash password: %v", err)
	}
	cfg := &config.Config{
		AppUsername:     "admin",
		AppPasswordHash: string(hash),
		SessionSecret:   "test-secret",
	}
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	m := NewManager(cfg, logger)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(sessions.Sessions(SessionCookieName, cookie.NewStore([]byte(cfg.SessionSecret))))
	r.POST("/auth/login", m.Login)
	r.POST("/auth/logout", m.Logout)
	protected := r.Group("/api", m.RequireLogin(), m.VerifyCSRF())
	protected.GET("/session", m.Session)
	protected.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, c.GetString(ContextUserKey)) })
	protected.POST("/action", func(c *gin.Context) { c.Status(http.StatusOK) })

	return m, &testClient{t: t, router: r, cookies: map[string]*http.Cookie{}}
}

func TestLoginAndProtectedRoutes(t *testing.T) {
	_, client := newTestManager(t)

	if rec := client.do(http.MethodGet, "/api/ping", "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 before login, got %d", rec.Code)
	}

	rec := client.do(http.MethodPost, "/auth/login", `{"username":"admin","password":"s3cret"}`, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 on login, got %d: %s", rec.Code, rec.Body.String())
	}
	token := rec.Header().Get(CSRFHeader)
	if token == "" {
		t.Fatal("expected CSRF token header on login")
	}

	rec = client.do(http.MethodGet, "/api/ping", "", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "admin" {
		t.Fatalf("expected 200 admin, got %d %q", rec.Code, rec.Body.String())
	}

	rec = client.do(http.MethodGet, "/api/session", "", nil)
	if rec.Code != http.StatusOK || rec.Header().Get(CSRFHeader) != token {
		t.Fatalf("expected session to echo CSRF token, got %d %q", rec.Code, rec.Header().Get(CSRFHeader))
	}

	if rec := client.do(http.MethodPost, "/api/action", "", nil); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without CSRF token, got %d", rec.Code)
	}
	if rec := client.do(http.MethodPost, "/api/action", "", map[string]string{CSRFHeader: "wrong"}); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 with wrong CSRF token, got %d", rec.Code)
	}
	if rec := client.do(http.MethodPost, "/api/action", "", map[string]string{CSRFHeader: token}); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with CSRF token, got %d", rec.Code)
	}

	if rec := client.do(http.MethodPost, "/auth/logout", "", nil); rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 on logout, got %d", rec.Code)
	}
	if rec := client.do(http.MethodGet, "/api/ping", "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d", rec.Code)
	}
}

func TestLoginLockout(t *testing.T) {
	m, client := newTestManager(t)
	now := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	for i := 0; i < maxLoginAttempts; i++ {
		rec := client.do(http.MethodPost, "/auth/login", `{"username":"admin","password":"nope"}`, nil)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", i+1, rec.Code)
		}
	}

	rec := client.do(http.MethodPost, "/auth/login", `{"username":"admin","password":"s3cret"}`, nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 while locked, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}

	now = now.Add(lockDuration + time.Second)
	rec = client.do(http.MethodPost, "/auth/login", `{"username":"admin","password":"s3cret"}`, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 after lock expired, got %d", rec.Code)
	}
}

func TestSessionIdleTimeout(t *testing.T) {
	m, client := newTestManager(t)
	now := time.Now()
	m.now = func() time.Time { return now }

	if rec := client.do(http.MethodPost, "/auth/login", `{"username":"admin","password":"s3cret"}`, nil); rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 on login, got %d", rec.Code)
	}

	now = now.Add(idleTimeout + time.Minute)
	rec := client.do(http.MethodGet, "/api/ping", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after idle timeout, got %d", rec.Code)
	}
	if !bytes.Contains(rec.Body.Bytes(), []byte("SESSION_IDLE_TIMEOUT")) {
		t.Fatalf("expected SESSION_IDLE_TIMEOUT, got %s", rec.Body.String())
	}
}

func TestLoginRequiresConfiguration(t *testing.T) {
	m, client := newTestManager(t)
	m.cfg = &config.Config{}

	rec := client.do(http.MethodPost, "/auth/login", `{"username":"admin","password":"s3cret"}`, nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 without credentials, got %d", rec.Code)
	}
	if rec := client.do(http.MethodPost, "/auth/login", `{"username":"admin"}`, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing password, got %d", rec.Code)
	}
}
