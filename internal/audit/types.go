// Package audit はアカウント操作の監査イベントを記録します。
//
// イベントは同期的にログへ書き出すか、Asynq キュー経由でワーカーが Redis に保存します。
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventType は監査イベントの種別を表します。
type EventType string

const (
	EventAccountRegistered EventType = "account.registered"
	EventLoginSucceeded    EventType = "account.login_succeeded"
	EventLoginFailed       EventType = "account.login_failed"
	EventLoggedOut         EventType = "account.logged_out"
)

// Event は監査対象の操作1件を表します。パスワードやクレデンシャルレコードは含めません。
type Event struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	AccountID  string    `json:"accountId,omitempty"`
	Username   string    `json:"username,omitempty"`
	Identifier string    `json:"identifier,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Publisher は監査イベントの送信先です。
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// normalize は ID と発生時刻が未設定なら補完します。
func normalize(event Event, now func() time.Time) Event {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = now().UTC()
	}
	return event
}
