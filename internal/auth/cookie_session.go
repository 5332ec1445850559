package auth

import (
	"net/http"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
)

const (
	sessionKeyAccountID  = "account_id"
	sessionKeyUsername   = "username"
	sessionKeyEmail      = "email"
	sessionKeyIssuedAt   = "issued_at"
	sessionKeyLastActive = "last_activity"
	sessionKeyCSRF       = "csrf_token"
	sessionKeyPersistent = "persistent"
)

// CookieSessionIssuer は gin-contrib/sessions の署名付き Cookie にセッションを保存します。
// ルーターに sessions.Sessions ミドルウェアが登録されている必要があります。
type CookieSessionIssuer struct {
	opts CookieOptions
	now  func() time.Time
}

// NewCookieSessionIssuer は CookieSessionIssuer を作成します。
func NewCookieSessionIssuer(opts CookieOptions) *CookieSessionIssuer {
	return &CookieSessionIssuer{opts: opts, now: time.Now}
}

// Issue はセッションを作り直してクレームと CSRF トークンを保存します。
func (s *CookieSessionIssuer) Issue(c *gin.Context, p Principal, persistent bool) (string, error) {
	token, err := generateToken()
	if err != nil {
		return "", err
	}

	session := sessions.Default(c)
	// 既存の値を引き継がない
	session.Clear()

	now := s.now()
	session.Set(sessionKeyAccountID, p.AccountID)
	session.Set(sessionKeyUsername, p.Username)
	session.Set(sessionKeyEmail, p.Email)
	session.Set(sessionKeyIssuedAt, now.Unix())
	session.Set(sessionKeyLastActive, now.Unix())
	session.Set(sessionKeyCSRF, token)
	session.Set(sessionKeyPersistent, persistent)
	session.Options(s.cookieOptions(s.opts.maxAgeFor(persistent)))

	if err := session.Save(); err != nil {
		return "", err
	}
	return token, nil
}

// Authenticate はセッションを検証し、期限切れの場合は破棄します。
func (s *CookieSessionIssuer) Authenticate(c *gin.Context) (*Session, error) {
	session := sessions.Default(c)
	accountID, ok := session.Get(sessionKeyAccountID).(string)
	if !ok || accountID == "" {
		return nil, ErrNoSession
	}

	persistent, _ := session.Get(sessionKeyPersistent).(bool)
	issuedAt := readUnix(session.Get(sessionKeyIssuedAt))
	lastActive := readUnix(session.Get(sessionKeyLastActive))

	now := s.now()
	if err := checkTimes(now, issuedAt, lastActive, persistent, s.opts.lifetimeFor(persistent)); err != nil {
		_ = s.Revoke(c)
		return nil, err
	}

	username, _ := session.Get(sessionKeyUsername).(string)
	email, _ := session.Get(sessionKeyEmail).(string)
	csrf, _ := session.Get(sessionKeyCSRF).(string)

	session.Set(sessionKeyLastActive, now.Unix())
	session.Options(s.cookieOptions(s.opts.maxAgeFor(persistent)))
	_ = session.Save()

	return &Session{
		Principal: Principal{
			AccountID: accountID,
			Username:  username,
			Email:     email,
		},
		CSRFToken:  csrf,
		Persistent: persistent,
		IssuedAt:   issuedAt,
	}, nil
}

// Revoke はセッションの内容を消し、Cookie を失効させます。
func (s *CookieSessionIssuer) Revoke(c *gin.Context) error {
	session := sessions.Default(c)
	session.Clear()
	session.Options(s.cookieOptions(-1))
	return session.Save()
}

func (s *CookieSessionIssuer) cookieOptions(maxAge int) sessions.Options {
	return sessions.Options{
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   s.opts.Secure,
		SameSite: http.SameSiteStrictMode,
	}
}
