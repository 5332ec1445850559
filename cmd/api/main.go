// Package main はAPIサーバーのエントリーポイントです。
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"

	"github.com/yourusername/login-system/internal/account"
	"github.com/yourusername/login-system/internal/auth"
	"github.com/yourusername/login-system/internal/config"
	"github.com/yourusername/login-system/internal/credential"
	"github.com/yourusername/login-system/internal/platform/logger"
	"github.com/yourusername/login-system/internal/validation"
)

func main() {
	// 設定の読み込み
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Ginのモードを設定
	gin.SetMode(cfg.GinMode)

	b, err := setupBackends(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := b.Close(); err != nil {
			log.Error("failed to close backends", "error", err)
		}
	}()

	secret, err := sessionSecret(cfg, log)
	if err != nil {
		return err
	}

	router, err := newRouter(cfg, b, secret, log)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting API server", "addr", srv.Addr, "mode", cfg.GinMode, "store", cfg.AccountStore, "session", cfg.SessionMode, "audit", cfg.AuditMode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	log.Info("shutting down API server")
	return srv.Shutdown(shutdownCtx)
}

// newRouter はミドルウェアとルーティングを組み立てます。
func newRouter(cfg *config.Config, b *backends, secret []byte, log *slog.Logger) (*gin.Engine, error) {
	v, err := validation.New()
	if err != nil {
		return nil, err
	}

	service, err := account.NewService(b.store, credential.NewCodec(cfg.PasswordIterations), v, b.publisher, log)
	if err != nil {
		return nil, err
	}

	issuer, err := setupSessionIssuer(cfg, secret)
	if err != nil {
		return nil, err
	}

	handler, err := auth.NewHandler(service, issuer, v, b.activity, log)
	if err != nil {
		return nil, err
	}

	// Ginルーターの初期化（デフォルトミドルウェア: Logger, Recovery）
	router := gin.Default()

	// JWT モードでは Cookie ストアを使わない
	if cfg.SessionMode == config.SessionModeCookie {
		store, err := newCookieStore(cfg, secret)
		if err != nil {
			return nil, err
		}
		router.Use(sessions.Sessions(auth.SessionCookieName, store))
	}

	// CORSミドルウェアの設定
	corsConfig := cors.DefaultConfig()
	// CORS許可オリジンを設定（カンマ区切りの文字列を配列に変換）
	corsConfig.AllowOrigins = strings.Split(cfg.CORSAllowedOrigins, ",")
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{
		"Origin",
		"Content-Type",
		"Accept",
		"X-CSRF-Token", // CSRF保護用ヘッダー
	}
	// フロントエンドがレスポンスヘッダーから CSRF トークンを読み取れるように公開
	corsConfig.ExposeHeaders = []string{"X-CSRF-Token"}
	router.Use(cors.New(corsConfig))

	router.GET("/health", handleHealth)
	handler.RegisterRoutes(router.Group("/api/auth"))

	return router, nil
}

// newCookieStore は署名付き Cookie ストアを作成します。
// Cookie ごとの有効期限は発行時に上書きするため、署名の有効期限は永続セッションに合わせます。
func newCookieStore(cfg *config.Config, secret []byte) (cookie.Store, error) {
	maxAge := cfg.SessionPersistentHours * 60 * 60

	store := cookie.NewStore(secret)
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   cfg.GinMode == gin.ReleaseMode,
		SameSite: http.SameSiteStrictMode,
	})

	// securecookie の署名期限（既定30日）は Options では変わらない
	ager, ok := store.(interface{ MaxAge(int) })
	if !ok {
		return nil, errors.New("cookie store does not support MaxAge")
	}
	ager.MaxAge(maxAge)
	return store, nil
}

// handleHealth はヘルスチェックエンドポイントのハンドラーです。
func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "login-system-api",
		"version": "0.1.0",
	})
}
