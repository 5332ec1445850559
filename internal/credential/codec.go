// Package credential はパスワードの保存形式（クレデンシャルレコード）の生成と検証を提供します。
//
// レコードは "<hexSalt>.<hexDerivedKey>.<iterationCount>" 形式の文字列で、
// 反復回数を埋め込んでいるため既定値を変更しても過去のレコードを検証できます。
package credential

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	SaltSize          = 16 // 128 bit
	KeySize           = 32 // 256 bit
	DefaultIterations = 100_000

	// maxIterations を超えるレコードは改ざんとみなして検証しない
	maxIterations = 10_000_000

	separator = "."
)

// ErrInvalidArgument は空のパスワードをハッシュ化しようとした場合に返されます。
var ErrInvalidArgument = errors.New("credential: password must not be empty")

// Codec はPBKDF2-SHA256によるレコードの生成と検証を行います。
type Codec struct {
	iterations int
}

// NewCodec は反復回数を指定して Codec を作成します。0以下の場合は既定値を使います。
func NewCodec(iterations int) *Codec {
	if iterations <= 0 {
		iterations = DefaultIterations
	}
	return &Codec{iterations: iterations}
}

// Iterations は新規レコードに埋め込む反復回数を返します。
func (c *Codec) Iterations() int {
	return c.iterations
}

// Hash はパスワードから保存用のレコードを生成します。
// 呼び出しごとに新しいソルトを使うため、同じパスワードでも結果は毎回異なります。
func (c *Codec) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrInvalidArgument
	}

	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("credential: failed to generate salt: %w", err)
	}

	key := deriveKey(password, salt, c.iterations)

	return strings.Join([]string{
		hex.EncodeToString(salt),
		hex.EncodeToString(key),
		strconv.Itoa(c.iterations),
	}, separator), nil
}

// Verify はパスワードが保存済みレコードと一致するかを判定します。
// 空白だけのパスワードや不正な形式のレコードはエラーにせず false を返します。
func (c *Codec) Verify(password, stored string) bool {
	if strings.TrimSpace(password) == "" || strings.TrimSpace(stored) == "" {
		return false
	}

	salt, expected, iterations, ok := parseRecord(stored)
	if !ok {
		return false
	}

	actual := deriveKey(password, salt, iterations)
	return subtle.ConstantTimeCompare(expected, actual) == 1
}

func parseRecord(stored string) (salt, key []byte, iterations int, ok bool) {
	parts := strings.Split(stored, separator)
	if len(parts) != 3 {
		return nil, nil, 0, false
	}
	for _, p := range parts {
		if p == "" {
			return nil, nil, 0, false
		}
	}

	iterations, err := strconv.Atoi(parts[2])
	if err != nil || iterations <= 0 || iterations > maxIterations {
		return nil, nil, 0, false
	}

	// hex.DecodeString は大文字・小文字のどちらも受け付ける
	salt, err = hex.DecodeString(parts[0])
	if err != nil {
		return nil, nil, 0, false
	}
	key, err = hex.DecodeString(parts[1])
	if err != nil {
		return nil, nil, 0, false
	}

	return salt, key, iterations, true
}

func deriveKey(password string, salt []byte, iterations int) []byte {
	return pbkdf2.Key([]byte(password), salt, iterations, KeySize, sha256.New)
}

var defaultCodec = NewCodec(DefaultIterations)

// Hash は既定の反復回数でレコードを生成します。
func Hash(password string) (string, error) {
	return defaultCodec.Hash(password)
}

// Verify は既定の Codec でレコードを検証します。
func Verify(password, stored string) bool {
	return defaultCodec.Verify(password, stored)
}
