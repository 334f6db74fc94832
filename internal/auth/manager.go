// Package auth はセッションによるログインと CSRF 検証を提供します。
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/yourusername/paper-batch/internal/config"
)

const (
	SessionCookieName    = "pb_session"
	sessionKeyUser       = "auth_user"
	sessionKeyIssuedAt   = "issued_at"
	sessionKeyLastActive = "last_activity"
	sessionKeyCSRF       = "csrf_token"

	// CSRFHeader はCSRFトークンを送受信するヘッダー名です。
	CSRFHeader = "X-CSRF-Token"

	// ContextUserKey はログイン済みユーザー名を gin.Context に保存するキーです。
	ContextUserKey = "auth.user"
)

var (
	maxSessionLifetime = 12 * time.Hour
	idleTimeout        = 30 * time.Minute
	loginWindow        = 15 * time.Minute
	lockDuration       = 10 * time.Minute
	maxLoginAttempts   = 5
)

// SessionMaxAgeSeconds はクッキーの MaxAge に利用する秒数を返します。
func SessionMaxAgeSeconds() int {
	return int(maxSessionLifetime.Seconds())
}

// Manager はログインとセッションの検証を担当します。
type Manager struct {
	cfg     *config.Config
	logger  logrus.FieldLogger
	now     func() time.Time
	limiter *loginLimiter
}

// NewManager は Manager を作成します。
func NewManager(cfg *config.Config, logger logrus.FieldLogger) *Manager {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Manager{
		cfg:     cfg,
		logger:  logger.WithField("component", "auth"),
		now:     time.Now,
		limiter: newLoginLimiter(loginWindow, lockDuration, maxLoginAttempts),
	}
}

type credentials struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login は POST /auth/login のハンドラーです。成功すると CSRF トークンをヘッダーで返します。
func (m *Manager) Login(c *gin.Context) {
	var req credentials
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "INVALID_INPUT", "username と password を JSON で送ってください")
		return
	}
	if err := m.ensureCredentials(); err != nil {
		m.logger.WithError(err).Error("login is not configured")
		abort(c, http.StatusInternalServerError, "SERVER_MISCONFIGURATION", err.Error())
		return
	}

	ip := c.ClientIP()
	now := m.now()
	if wait := m.limiter.locked(ip, now); wait > 0 {
		c.Header("Retry-After", strconv.Itoa(int(wait.Seconds())))
		abort(c, http.StatusTooManyRequests, "TOO_MANY_ATTEMPTS", "一定時間後に再度お試しください")
		return
	}
	if !m.matches(req) {
		remaining := m.limiter.fail(ip, now)
		m.logger.WithFields(logrus.Fields{"ip": ip, "remaining": remaining}).Warn("login failed")
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"code":              "INVALID_CREDENTIALS",
			"message":           "ユーザー名またはパスワードが正しくありません",
			"remainingAttempts": remaining,
		})
		return
	}
	m.limiter.reset(ip)

	token, err := m.startSession(sessions.Default(c), now)
	if err != nil {
		m.logger.WithError(err).Error("failed to start session")
		abort(c, http.StatusInternalServerError, "SESSION_SAVE_FAILED", "セッションの保存に失敗しました")
		return
	}

	m.logger.WithField("user", m.cfg.AppUsername).Info("logged in")
	c.Header(CSRFHeader, token)
	c.Status(http.StatusNoContent)
}

// Logout は POST /auth/logout のハンドラーです。
func (m *Manager) Logout(c *gin.Context) {
	session := sessions.Default(c)
	session.Clear()
	if err := session.Save(); err != nil {
		abort(c, http.StatusInternalServerError, "SESSION_SAVE_FAILED", "セッションの削除に失敗しました")
		return
	}
	c.Status(http.StatusNoContent)
}

// Session は GET /auth/session のハンドラーです。RequireLogin の後に登録します。
func (m *Manager) Session(c *gin.Context) {
	token, _ := sessions.Default(c).Get(sessionKeyCSRF).(string)
	c.Header(CSRFHeader, token)
	c.JSON(http.StatusOK, gin.H{"user": c.GetString(ContextUserKey)})
}

// startSession は新しいセッションを保存し、発行した CSRF トークンを返します。
func (m *Manager) startSession(session sessions.Session, now time.Time) (string, error) {
	token, err := generateToken()
	if err != nil {
		return "", fmt.Errorf("CSRF トークンの生成に失敗しました: %w", err)
	}
	session.Clear()
	session.Set(sessionKeyUser, m.cfg.AppUsername)
	session.Set(sessionKeyIssuedAt, now.Unix())
	session.Set(sessionKeyLastActive, now.Unix())
	session.Set(sessionKeyCSRF, token)
	if err := session.Save(); err != nil {
		return "", err
	}
	return token, nil
}

func (m *Manager) ensureCredentials() error {
	switch {
	case m.cfg.AppUsername == "":
		return errors.New("APP_USERNAME が設定されていません")
	case m.cfg.AppPasswordHash == "":
		return errors.New("APP_PASSWORD_HASH が設定されていません")
	case m.cfg.SessionSecret == "":
		return errors.New("SESSION_SECRET が設定されていません")
	}
	return nil
}

func (m *Manager) matches(req credentials) bool {
	if subtle.ConstantTimeCompare([]byte(req.Username), []byte(m.cfg.AppUsername)) != 1 {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(m.cfg.AppPasswordHash), []byte(req.Password)) == nil
}

func abort(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{"code": code, "message": message})
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
