package account

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	accountKeyPrefix  = "account:id:"
	usernameKeyPrefix = "account:username:"
	emailKeyPrefix    = "account:email:"
)

// insertScript はユーザー名・メールアドレスの索引キーを確認し、空いていれば3つのキーを
// まとめて書き込みます。スクリプトは Redis 上で原子的に実行されます。
var insertScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 'username'
end
if redis.call('EXISTS', KEYS[2]) == 1 then
  return 'email'
end
redis.call('SET', KEYS[1], ARGV[1])
redis.call('SET', KEYS[2], ARGV[1])
redis.call('SET', KEYS[3], ARGV[2])
return 'ok'
`)

// redisAccount は Redis に保存する形式です。
type redisAccount struct {
	ID               string    `json:"id"`
	Username         string    `json:"username"`
	Email            string    `json:"email"`
	CredentialRecord string    `json:"credentialRecord"`
	CreatedAt        time.Time `json:"createdAt"`
}

// RedisStore はアカウントを Redis に保存します。
type RedisStore struct {
	rdb redis.UniversalClient
	now func() time.Time
}

// NewRedisStore は RedisStore を作成します。
func NewRedisStore(rdb redis.UniversalClient) *RedisStore {
	return &RedisStore{
		rdb: rdb,
		now: time.Now,
	}
}

// FindByUsernameOrEmail はユーザー名の索引を先に、次にメールアドレスの索引を引きます。
func (s *RedisStore) FindByUsernameOrEmail(ctx context.Context, identifier string) (*Account, error) {
	id, err := s.lookupID(ctx, usernameKey(identifier))
	if err != nil {
		return nil, err
	}
	if id == "" {
		id, err = s.lookupID(ctx, emailKey(identifier))
		if err != nil {
			return nil, err
		}
	}
	if id == "" {
		return nil, ErrNotFound
	}
	return s.get(ctx, id)
}

func (s *RedisStore) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	return s.exists(ctx, usernameKey(username))
}

func (s *RedisStore) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	return s.exists(ctx, emailKey(email))
}

// Insert は索引キーの存在確認と書き込みを1つのスクリプトで行います。
func (s *RedisStore) Insert(ctx context.Context, acct *Account) (*Account, error) {
	stored := redisAccount{
		ID:               uuid.NewString(),
		Username:         acct.Username,
		Email:            acct.Email,
		CredentialRecord: acct.CredentialRecord,
		CreatedAt:        s.now().UTC(),
	}
	payload, err := json.Marshal(stored)
	if err != nil {
		return nil, err
	}

	keys := []string{usernameKey(stored.Username), emailKey(stored.Email), accountKey(stored.ID)}
	result, err := insertScript.Run(ctx, s.rdb, keys, stored.ID, payload).Text()
	if err != nil {
		return nil, fmt.Errorf("redis insert: %w", err)
	}

	switch result {
	case "ok":
		return stored.toAccount(), nil
	case FieldUsername, FieldEmail:
		return nil, &ConstraintViolationError{Field: result}
	default:
		return nil, fmt.Errorf("redis insert: unexpected script result %q", result)
	}
}

func (s *RedisStore) get(ctx context.Context, id string) (*Account, error) {
	data, err := s.rdb.Get(ctx, accountKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var stored redisAccount
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, err
	}
	return stored.toAccount(), nil
}

func (s *RedisStore) lookupID(ctx context.Context, key string) (string, error) {
	id, err := s.rdb.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", err
	}
	return id, nil
}

func (s *RedisStore) exists(ctx context.Context, key string) (bool, error) {
	n, err := s.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r redisAccount) toAccount() *Account {
	return &Account{
		ID:               r.ID,
		Username:         r.Username,
		Email:            r.Email,
		CredentialRecord: r.CredentialRecord,
		CreatedAt:        r.CreatedAt,
	}
}

func accountKey(id string) string {
	return accountKeyPrefix + id
}

func usernameKey(username string) string {
	return usernameKeyPrefix + username
}

func emailKey(email string) string {
	return emailKeyPrefix + email
}
