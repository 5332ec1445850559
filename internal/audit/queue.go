package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

const (
	taskTypeRecord = "audit:record"
	queueName      = "audit"
)

// Recorder は監査イベントの保存先です。
type Recorder interface {
	Append(ctx context.Context, event Event) error
}

// Queue はイベントを Asynq に投入し、ワーカーで Recorder に保存します。
type Queue struct {
	client   *asynq.Client
	server   *asynq.Server
	mux      *asynq.ServeMux
	recorder Recorder
	logger   *slog.Logger
	now      func() time.Time
}

// NewQueue は Queue を初期化します。
func NewQueue(redisURL string, recorder Recorder, logger *slog.Logger) (*Queue, error) {
	if recorder == nil {
		return nil, errors.New("recorder is nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	server := asynq.NewServer(
		opt,
		asynq.Config{
			Concurrency: 2,
			Queues: map[string]int{
				queueName: 1,
			},
		},
	)

	q := &Queue{
		client:   asynq.NewClient(opt),
		server:   server,
		mux:      asynq.NewServeMux(),
		recorder: recorder,
		logger:   logger,
		now:      time.Now,
	}
	q.mux.HandleFunc(taskTypeRecord, q.handleRecordTask)
	return q, nil
}

// Publish はイベントをキューに投入します。
// タスクIDにイベントIDを使うため、同じイベントが二重に投入されることはありません。
func (q *Queue) Publish(ctx context.Context, event Event) error {
	event = normalize(event, q.now)

	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	task := asynq.NewTask(taskTypeRecord, body, asynq.Queue(queueName))
	_, err = q.client.EnqueueContext(ctx, task, asynq.TaskID(event.ID), asynq.MaxRetry(3))
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	return err
}

// StartWorkers は Asynq サーバーをバックグラウンドで起動します。
func (q *Queue) StartWorkers() {
	go func() {
		if err := q.server.Run(q.mux); err != nil && !errors.Is(err, asynq.ErrServerClosed) {
			q.logger.Error("audit worker stopped", "error", err)
		}
	}()
}

// Shutdown はサーバーとクライアントを閉じます。
func (q *Queue) Shutdown() error {
	q.server.Shutdown()
	return q.client.Close()
}

func (q *Queue) handleRecordTask(ctx context.Context, task *asynq.Task) error {
	var event Event
	if err := json.Unmarshal(task.Payload(), &event); err != nil {
		// 壊れたペイロードはリトライしても直らない
		return fmt.Errorf("decode audit event: %v: %w", err, asynq.SkipRetry)
	}
	if event.ID == "" {
		return fmt.Errorf("missing event id in payload: %w", asynq.SkipRetry)
	}

	if err := q.recorder.Append(ctx, event); err != nil {
		return err
	}

	q.logger.InfoContext(ctx, "audit event recorded",
		"event", event.Type,
		"event_id", event.ID,
		"account_id", event.AccountID,
	)
	return nil
}
