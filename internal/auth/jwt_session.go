package auth

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const jwtIssuer = "login-system"

// sessionClaims は Cookie に載せる JWT のクレームです。
type sessionClaims struct {
	Username     string `json:"username"`
	Email        string `json:"email"`
	CSRF         string `json:"csrf"`
	Persistent   bool   `json:"persistent,omitempty"`
	LastActivity int64  `json:"lat"`
	jwt.RegisteredClaims
}

// JWTSessionIssuer は HS256 で署名した JWT を HttpOnly Cookie に保存します。
// サーバー側に状態を持たないため、無操作タイムアウトはリクエストごとに再署名して延長します。
type JWTSessionIssuer struct {
	secret []byte
	opts   CookieOptions
	now    func() time.Time
}

// NewJWTSessionIssuer は JWTSessionIssuer を作成します。
func NewJWTSessionIssuer(secret []byte, opts CookieOptions) (*JWTSessionIssuer, error) {
	if len(secret) == 0 {
		return nil, errors.New("jwt secret is empty")
	}
	return &JWTSessionIssuer{secret: secret, opts: opts, now: time.Now}, nil
}

// Issue は新しいトークンを署名して Cookie に設定します。
func (s *JWTSessionIssuer) Issue(c *gin.Context, p Principal, persistent bool) (string, error) {
	csrf, err := generateToken()
	if err != nil {
		return "", err
	}

	now := s.now()
	claims := sessionClaims{
		Username:     p.Username,
		Email:        p.Email,
		CSRF:         csrf,
		Persistent:   persistent,
		LastActivity: now.Unix(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    jwtIssuer,
			Subject:   p.AccountID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.opts.lifetimeFor(persistent))),
		},
	}
	if err := s.write(c, &claims); err != nil {
		return "", err
	}
	return csrf, nil
}

// Authenticate は Cookie のトークンを検証し、最終操作時刻を更新したトークンを再発行します。
func (s *JWTSessionIssuer) Authenticate(c *gin.Context) (*Session, error) {
	raw, err := c.Cookie(SessionCookieName)
	if err != nil || raw == "" {
		return nil, ErrNoSession
	}

	claims, err := s.parse(raw)
	if err != nil {
		_ = s.Revoke(c)
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrSessionExpired
		}
		return nil, ErrNoSession
	}

	now := s.now()
	issuedAt := time.Time{}
	if claims.IssuedAt != nil {
		issuedAt = claims.IssuedAt.Time
	}
	lastActive := time.Time{}
	if claims.LastActivity > 0 {
		lastActive = time.Unix(claims.LastActivity, 0)
	}
	if err := checkTimes(now, issuedAt, lastActive, claims.Persistent, s.opts.lifetimeFor(claims.Persistent)); err != nil {
		_ = s.Revoke(c)
		return nil, err
	}

	claims.LastActivity = now.Unix()
	_ = s.write(c, claims)

	return &Session{
		Principal: Principal{
			AccountID: claims.Subject,
			Username:  claims.Username,
			Email:     claims.Email,
		},
		CSRFToken:  claims.CSRF,
		Persistent: claims.Persistent,
		IssuedAt:   issuedAt,
	}, nil
}

// Revoke は Cookie を削除します。
func (s *JWTSessionIssuer) Revoke(c *gin.Context) error {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(SessionCookieName, "", -1, "/", "", s.opts.Secure, true)
	return nil
}

func (s *JWTSessionIssuer) write(c *gin.Context, claims *sessionClaims) error {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return err
	}
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(SessionCookieName, token, s.opts.maxAgeFor(claims.Persistent), "/", "", s.opts.Secure, true)
	return nil
}

func (s *JWTSessionIssuer) parse(raw string) (*sessionClaims, error) {
	parsed, err := jwt.ParseWithClaims(raw, &sessionClaims{}, func(token *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(jwtIssuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*sessionClaims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}
