package auth

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
)

// RequireLogin はセッションを検証するミドルウェアを返します。
// 発行から12時間、または30分間操作が無いセッションは破棄します。
func (m *Manager) RequireLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		user, ok := session.Get(sessionKeyUser).(string)
		if !ok || user == "" {
			abort(c, http.StatusUnauthorized, "UNAUTHORIZED", "ログインが必要です")
			return
		}

		now := m.now()
		issuedAt := readUnix(session.Get(sessionKeyIssuedAt))
		lastActive := readUnix(session.Get(sessionKeyLastActive))

		if issuedAt.IsZero() || now.Sub(issuedAt) > maxSessionLifetime {
			expireSession(c, session, "SESSION_EXPIRED", "セッションの有効期限が切れました")
			return
		}
		if lastActive.IsZero() || now.Sub(lastActive) > idleTimeout {
			expireSession(c, session, "SESSION_IDLE_TIMEOUT", "しばらく操作がなかったため再ログインしてください")
			return
		}

		session.Set(sessionKeyLastActive, now.Unix())
		if err := session.Save(); err != nil {
			m.logger.WithError(err).Warn("failed to refresh session")
		}
		c.Set(ContextUserKey, user)
		c.Next()
	}
}

// VerifyCSRF は状態を変更するリクエストの X-CSRF-Token ヘッダーを検証するミドルウェアです。
func (m *Manager) VerifyCSRF() gin.HandlerFunc {
	return func(c *gin.Context) {
		if isSafeMethod(c.Request.Method) {
			c.Next()
			return
		}

		session := sessions.Default(c)
		expected, ok := session.Get(sessionKeyCSRF).(string)
		if !ok || expected == "" {
			abort(c, http.StatusForbidden, "CSRF_MISSING", "CSRF トークンが設定されていません")
			return
		}

		received := c.GetHeader(CSRFHeader)
		if subtle.ConstantTimeCompare([]byte(expected), []byte(received)) != 1 {
			abort(c, http.StatusForbidden, "CSRF_INVALID", "CSRF トークンが一致しません")
			return
		}

		c.Next()
	}
}

func expireSession(c *gin.Context, session sessions.Session, code, message string) {
	session.Clear()
	_ = session.Save()
	abort(c, http.StatusUnauthorized, code, message)
}

func readUnix(v any) time.Time {
	switch t := v.(type) {
	case int64:
		return time.Unix(t, 0)
	case int:
		return time.Unix(int64(t), 0)
	case float64:
		return time.Unix(int64(t), 0)
	default:
		return time.Time{}
	}
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	default:
		return false
	}
}
