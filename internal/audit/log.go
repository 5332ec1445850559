package audit

import (
	"context"
	"log/slog"
	"time"
)

// LogPublisher はイベントを構造化ログとして同期的に書き出します。
type LogPublisher struct {
	logger *slog.Logger
	now    func() time.Time
}

// NewLogPublisher は LogPublisher を作成します。
func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPublisher{logger: logger, now: time.Now}
}

// Publish はイベントをログに出力します。
func (p *LogPublisher) Publish(ctx context.Context, event Event) error {
	event = normalize(event, p.now)

	level := slog.LevelInfo
	if event.Type == EventLoginFailed {
		level = slog.LevelWarn
	}

	attrs := []any{
		"event", event.Type,
		"event_id", event.ID,
		"occurred_at", event.OccurredAt,
	}
	if event.AccountID != "" {
		attrs = append(attrs, "account_id", event.AccountID)
	}
	if event.Username != "" {
		attrs = append(attrs, "username", event.Username)
	}
	if event.Identifier != "" {
		attrs = append(attrs, "identifier", event.Identifier)
	}

	p.logger.Log(ctx, level, "audit", attrs...)
	return nil
}
