package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// ContextSessionKey は、ハンドラー間で検証済みセッションを共有するためのキーです。
const ContextSessionKey = "auth.session"

// RequireLogin はセッションを検証するミドルウェアを返します。
func RequireLogin(issuer SessionIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		session, err := issuer.Authenticate(c)
		switch {
		case err == nil:
		case errors.Is(err, ErrSessionExpired):
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    "SESSION_EXPIRED",
				"message": "セッションの有効期限が切れました",
			})
			return
		case errors.Is(err, ErrSessionIdle):
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    "SESSION_IDLE_TIMEOUT",
				"message": "しばらく操作がなかったため再ログインしてください",
			})
			return
		default:
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    "UNAUTHORIZED",
				"message": "ログインが必要です",
			})
			return
		}

		c.Set(ContextSessionKey, session)
		c.Next()
	}
}

// VerifyCSRF は X-CSRF-Token ヘッダーを検証するミドルウェアです。
// RequireLogin の後に登録してください。
func VerifyCSRF() gin.HandlerFunc {
	return func(c *gin.Context) {
		if isSafeMethod(c.Request.Method) {
			c.Next()
			return
		}

		session := CurrentSession(c)
		if session == nil || session.CSRFToken == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"code":    "CSRF_MISSING",
				"message": "CSRF トークンが設定されていません",
			})
			return
		}

		received := c.GetHeader(csrfHeader)
		if subtle.ConstantTimeCompare([]byte(session.CSRFToken), []byte(received)) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"code":    "CSRF_INVALID",
				"message": "CSRF トークンが一致しません",
			})
			return
		}

		c.Next()
	}
}

// CurrentSession は RequireLogin が保存したセッションを返します。
func CurrentSession(c *gin.Context) *Session {
	v, ok := c.Get(ContextSessionKey)
	if !ok {
		return nil
	}
	session, _ := v.(*Session)
	return session
}
