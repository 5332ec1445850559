package main

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/yourusername/login-system/internal/account"
	"github.com/yourusername/login-system/internal/audit"
	"github.com/yourusername/login-system/internal/auth"
	"github.com/yourusername/login-system/internal/config"
)

// backends は設定に応じて選んだストアと監査の送信先をまとめたものです。
type backends struct {
	store     account.Store
	publisher audit.Publisher
	activity  auth.ActivityLister
	closers   []func() error
}

// Close は開いた接続を逆順に閉じます。
func (b *backends) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		errs = append(errs, b.closers[i]())
	}
	return errors.Join(errs...)
}

func setupBackends(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*backends, error) {
	b := &backends{}

	var rdb *redis.Client
	redisClient := func() (*redis.Client, error) {
		if rdb != nil {
			return rdb, nil
		}
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse redis url: %w", err)
		}
		client := redis.NewClient(opt)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("failed to connect redis: %w", err)
		}
		rdb = client
		b.closers = append(b.closers, client.Close)
		return rdb, nil
	}

	switch cfg.AccountStore {
	case config.StoreRedis:
		client, err := redisClient()
		if err != nil {
			return nil, errors.Join(err, b.Close())
		}
		b.store = account.NewRedisStore(client)
	case config.StorePostgres:
		db, err := openAccountsDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, errors.Join(err, b.Close())
		}
		b.closers = append(b.closers, db.Close)
		b.store = account.NewPostgresStore(db)
	default:
		logger.Warn("using in-memory account store; accounts are lost on restart")
		b.store = account.NewMemoryStore()
	}

	switch cfg.AuditMode {
	case config.AuditModeQueue:
		client, err := redisClient()
		if err != nil {
			return nil, errors.Join(err, b.Close())
		}
		events := audit.NewStore(client, time.Duration(cfg.AuditRetentionHours)*time.Hour)
		queue, err := audit.NewQueue(cfg.RedisURL, events, logger)
		if err != nil {
			return nil, errors.Join(err, b.Close())
		}
		queue.StartWorkers()
		b.closers = append(b.closers, queue.Shutdown)
		b.publisher = queue
		b.activity = events
	default:
		b.publisher = audit.NewLogPublisher(logger)
	}

	return b, nil
}

func openAccountsDB(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := account.OpenPostgres(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := account.MigratePostgres(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// sessionSecret は署名鍵を返します。未設定の場合は起動ごとの一時鍵を生成します。
func sessionSecret(cfg *config.Config, logger *slog.Logger) ([]byte, error) {
	if cfg.SessionSecret != "" {
		return []byte(cfg.SessionSecret), nil
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return nil, err
	}
	logger.Warn("SESSION_SECRET is not set; generated an ephemeral key, sessions will not survive restarts")
	return buf, nil
}

func setupSessionIssuer(cfg *config.Config, secret []byte) (auth.SessionIssuer, error) {
	opts := auth.CookieOptions{
		Secure:             cfg.GinMode == gin.ReleaseMode,
		PersistentLifetime: time.Duration(cfg.SessionPersistentHours) * time.Hour,
	}
	if cfg.SessionMode == config.SessionModeJWT {
		return auth.NewJWTSessionIssuer(secret, opts)
	}
	return auth.NewCookieSessionIssuer(opts), nil
}
