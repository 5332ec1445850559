package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	eventKeyPrefix   = "audit:event:"
	accountKeyPrefix = "audit:account:"

	// アカウントごとに保持する直近イベント数
	maxEventsPerAccount = 100
)

// appendScript はイベント本体とアカウント別一覧を1つのスクリプトで書き込みます。
// 一覧に既にIDがあれば追加しないため、途中で失敗したタスクを再実行しても一覧から漏れません。
var appendScript = redis.NewScript(`
local ttl = tonumber(ARGV[3])
if ttl > 0 then
  redis.call('SET', KEYS[1], ARGV[1], 'NX', 'PX', ttl)
else
  redis.call('SET', KEYS[1], ARGV[1], 'NX')
end
if ARGV[4] ~= '1' then
  return 'ok'
end
if redis.call('LPOS', KEYS[2], ARGV[2]) then
  return 'ok'
end
redis.call('LPUSH', KEYS[2], ARGV[2])
redis.call('LTRIM', KEYS[2], 0, tonumber(ARGV[5]) - 1)
if ttl > 0 then
  redis.call('PEXPIRE', KEYS[2], ttl)
end
return 'ok'
`)

// Store は監査イベントを Redis に保存します。
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewStore は Store を作成します。ttl が0の場合は期限なしで保存します。
func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	return &Store{
		rdb: rdb,
		ttl: ttl,
	}
}

// Append はイベントを保存します。同じIDで再実行しても重複しません。
func (s *Store) Append(ctx context.Context, event Event) error {
	if event.ID == "" {
		return fmt.Errorf("event.ID is required")
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	hasAccount := "0"
	if event.AccountID != "" {
		hasAccount = "1"
	}
	keys := []string{eventKey(event.ID), accountKey(event.AccountID)}
	return appendScript.Run(ctx, s.rdb, keys,
		payload, event.ID, s.ttl.Milliseconds(), hasAccount, maxEventsPerAccount,
	).Err()
}

// Get はイベントを取得します。存在しない場合は nil を返します。
func (s *Store) Get(ctx context.Context, id string) (*Event, error) {
	if id == "" {
		return nil, fmt.Errorf("id is required")
	}
	data, err := s.rdb.Get(ctx, eventKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, err
	}
	return &event, nil
}

// ListByAccount はアカウントの直近イベントを新しい順に返します。
func (s *Store) ListByAccount(ctx context.Context, accountID string, limit int) ([]Event, error) {
	if accountID == "" {
		return nil, fmt.Errorf("accountID is required")
	}
	if limit <= 0 || limit > maxEventsPerAccount {
		limit = maxEventsPerAccount
	}

	ids, err := s.rdb.LRange(ctx, accountKey(accountID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}

	events := make([]Event, 0, len(ids))
	for _, id := range ids {
		event, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		// TTL 切れのイベントは読み飛ばす
		if event == nil {
			continue
		}
		events = append(events, *event)
	}
	return events, nil
}

func eventKey(id string) string {
	return eventKeyPrefix + id
}

func accountKey(accountID string) string {
	return accountKeyPrefix + accountID
}
