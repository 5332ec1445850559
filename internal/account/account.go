// Package account はアカウントの登録と認証を提供します。
//
// 登録時はユーザー名・メールアドレスの一意性を事前確認し、ストアの一意制約違反も
// 同じ重複エラーとして扱います。認証失敗は理由を区別しない単一のエラーで返します。
package account

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Account は登録済みのアカウントを表します。
type Account struct {
	ID               string    `json:"id"`
	Username         string    `json:"username"`
	Email            string    `json:"email"`
	CredentialRecord string    `json:"-"`
	CreatedAt        time.Time `json:"createdAt"`
}

// RegisterInput は登録に必要な入力です。
type RegisterInput struct {
	Username string `json:"username" validate:"required,min=3,max=50"`
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,notblank,min=6,max=100"`
}

var (
	// ErrValidation は入力形式の検証に失敗したことを表します。
	ErrValidation = errors.New("account: validation failed")
	// ErrDuplicateUsername はユーザー名が既に使われていることを表します。
	ErrDuplicateUsername = errors.New("account: username already taken")
	// ErrDuplicateEmail はメールアドレスが既に使われていることを表します。
	ErrDuplicateEmail = errors.New("account: email already registered")
	// ErrInvalidCredentials は識別子またはパスワードが正しくないことを表します。
	// 識別子が存在しない場合とパスワード不一致の場合を区別しません。
	ErrInvalidCredentials = errors.New("account: invalid username/email or password")
	// ErrNotFound はストアに該当アカウントがないことを表します。
	ErrNotFound = errors.New("account: not found")
)

// ValidationError はフィールド単位の検証エラーを保持します。
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return fmt.Sprintf("%s: %s", ErrValidation.Error(), strings.Join(names, ", "))
}

// Unwrap により errors.Is(err, ErrValidation) が成立します。
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// ConstraintViolationError はストアの一意制約違反を表します。Field は "username" か "email" です。
type ConstraintViolationError struct {
	Field string
}

func (e *ConstraintViolationError) Error() string {
	return fmt.Sprintf("account: unique constraint violated on %s", e.Field)
}

const (
	FieldUsername = "username"
	FieldEmail    = "email"
)

// NormalizeUsername は前後の空白を取り除きます。大文字・小文字は区別したまま保存します。
func NormalizeUsername(username string) string {
	return strings.TrimSpace(username)
}

// NormalizeEmail は前後の空白を取り除き小文字に揃えます。
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
