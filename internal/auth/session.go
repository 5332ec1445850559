// Package auth はセッションの発行・検証と、認証系エンドポイントのハンドラーを提供します。
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/login-system/internal/account"
)

const (
	SessionCookieName = "ls_session"

	csrfHeader = "X-CSRF-Token"
)

var (
	maxSessionLifetime = 12 * time.Hour
	idleTimeout        = 30 * time.Minute
)

var (
	// ErrNoSession はセッションが存在しないことを表します。
	ErrNoSession = errors.New("auth: no session")
	// ErrSessionExpired はセッションの有効期限切れを表します。
	ErrSessionExpired = errors.New("auth: session expired")
	// ErrSessionIdle は無操作時間が上限を超えたことを表します。
	ErrSessionIdle = errors.New("auth: session idle timeout")
)

// Principal はセッションに載せるアカウント情報（クレーム）です。
type Principal struct {
	AccountID string `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
}

// PrincipalFor はアカウントからクレームを作成します。
func PrincipalFor(acct *account.Account) Principal {
	return Principal{
		AccountID: acct.ID,
		Username:  acct.Username,
		Email:     acct.Email,
	}
}

// Session は検証済みのセッションです。
type Session struct {
	Principal  Principal
	CSRFToken  string
	Persistent bool
	IssuedAt   time.Time
}

// SessionIssuer はセッションの発行・検証・破棄を行います。
// トークン形式は実装ごとに異なり、呼び出し側は意識しません。
type SessionIssuer interface {
	// Issue はセッションを発行し、セッションに紐づく CSRF トークンを返します。
	Issue(c *gin.Context, p Principal, persistent bool) (string, error)
	// Authenticate は現在のセッションを検証し、最終操作時刻を更新します。
	Authenticate(c *gin.Context) (*Session, error)
	// Revoke は現在のセッションを破棄します。
	Revoke(c *gin.Context) error
}

// CookieOptions は発行する Cookie の属性です。
type CookieOptions struct {
	Secure             bool
	PersistentLifetime time.Duration
}

// lifetimeFor は永続セッションかどうかで絶対有効期限を切り替えます。
func (o CookieOptions) lifetimeFor(persistent bool) time.Duration {
	if persistent && o.PersistentLifetime > 0 {
		return o.PersistentLifetime
	}
	return maxSessionLifetime
}

// maxAgeFor は Cookie の MaxAge を返します。0 はブラウザを閉じるまで有効な Cookie です。
func (o CookieOptions) maxAgeFor(persistent bool) int {
	if !persistent {
		return 0
	}
	return int(o.lifetimeFor(true).Seconds())
}

// checkTimes は絶対有効期限と無操作タイムアウトを検査します。
// 永続セッションには無操作タイムアウトを適用しません。
func checkTimes(now, issuedAt, lastActive time.Time, persistent bool, lifetime time.Duration) error {
	if issuedAt.IsZero() || now.Sub(issuedAt) > lifetime {
		return ErrSessionExpired
	}
	if persistent {
		return nil
	}
	if lastActive.IsZero() || now.Sub(lastActive) > idleTimeout {
		return ErrSessionIdle
	}
	return nil
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func readUnix(v interface{}) time.Time {
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
