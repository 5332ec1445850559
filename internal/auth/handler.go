package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/login-system/internal/account"
	"github.com/yourusername/login-system/internal/audit"
	"github.com/yourusername/login-system/internal/validation"
)

const (
	defaultActivityLimit = 20
	maxActivityLimit     = 100
)

// AccountService はハンドラーが利用するアカウント操作です（*account.Service が実装）。
type AccountService interface {
	Register(ctx context.Context, in account.RegisterInput) (*account.Account, error)
	ValidateRegistration(in account.RegisterInput) error
	Authenticate(ctx context.Context, identifier, password string) (*account.Account, error)
	RecordLogout(ctx context.Context, accountID, username string)
}

// ActivityLister はアカウントごとの監査イベントを新しい順に返します（*audit.Store が実装）。
type ActivityLister interface {
	ListByAccount(ctx context.Context, accountID string, limit int) ([]audit.Event, error)
}

// Validator はリクエスト構造体の形式を検証します。
type Validator interface {
	Validate(data any) error
}

// Handler は /api/auth 配下のハンドラーをまとめた構造体です。
type Handler struct {
	accounts  AccountService
	sessions  SessionIssuer
	validator Validator
	activity  ActivityLister
	logger    *slog.Logger
}

// NewHandler は Handler を作成します。activity が nil の場合、Activity は 404 を返します。
func NewHandler(accounts AccountService, sessions SessionIssuer, validator Validator, activity ActivityLister, logger *slog.Logger) (*Handler, error) {
	if accounts == nil {
		return nil, errors.New("account service is nil")
	}
	if sessions == nil {
		return nil, errors.New("session issuer is nil")
	}
	if validator == nil {
		return nil, errors.New("validator is nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		accounts:  accounts,
		sessions:  sessions,
		validator: validator,
		activity:  activity,
		logger:    logger,
	}, nil
}

// RegisterRoutes は認証系のルートを登録します。
func (h *Handler) RegisterRoutes(group *gin.RouterGroup) {
	// 登録・ログイン時はセッション未生成なので CSRF 検証は不要
	group.POST("/register", h.Register)
	group.POST("/login", h.Login)

	protected := group.Group("")
	protected.Use(RequireLogin(h.sessions), VerifyCSRF())
	{
		protected.POST("/logout", h.Logout)
		protected.GET("/me", h.Me)
		protected.GET("/activity", h.Activity)
	}
}

type registerRequest struct {
	Username        string `json:"username"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword" validate:"required,eqfield=Password"`
}

type loginRequest struct {
	UsernameOrEmail string `json:"usernameOrEmail" validate:"required"`
	Password        string `json:"password" validate:"required"`
	RememberMe      bool   `json:"rememberMe"`
}

// Register は /auth/register のハンドラーです。登録に成功するとそのままログイン状態になります。
func (h *Handler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalidJSON(c)
		return
	}
	input := account.RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	}

	// 確認用パスワードと登録内容の検証結果をまとめて返す
	fields, err := mergeFieldErrors(h.validator.Validate(req), h.accounts.ValidateRegistration(input))
	if err != nil {
		h.respondWithError(c, err)
		return
	}
	if len(fields) > 0 {
		h.respondWithError(c, fields)
		return
	}

	acct, err := h.accounts.Register(c.Request.Context(), input)
	if err != nil {
		h.respondWithError(c, err)
		return
	}

	if !h.startSession(c, acct, false) {
		return
	}
	c.JSON(http.StatusCreated, acct)
}

// Login は /auth/login のハンドラーです。
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalidJSON(c)
		return
	}
	if err := h.validator.Validate(req); err != nil {
		h.respondWithError(c, err)
		return
	}

	acct, err := h.accounts.Authenticate(c.Request.Context(), req.UsernameOrEmail, req.Password)
	if err != nil {
		h.respondWithError(c, err)
		return
	}

	if !h.startSession(c, acct, req.RememberMe) {
		return
	}
	h.logger.InfoContext(c.Request.Context(), "account signed in",
		"account_id", acct.ID,
		"persistent", req.RememberMe,
	)
	c.JSON(http.StatusOK, acct)
}

// Logout は /auth/logout のハンドラーです。
func (h *Handler) Logout(c *gin.Context) {
	session := CurrentSession(c)
	if err := h.sessions.Revoke(c); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "SESSION_SAVE_FAILED",
			"message": "セッションの削除に失敗しました",
		})
		return
	}
	if session != nil {
		h.accounts.RecordLogout(c.Request.Context(), session.Principal.AccountID, session.Principal.Username)
	}
	c.Status(http.StatusNoContent)
}

// Me はログイン中のアカウント情報を返します。
func (h *Handler) Me(c *gin.Context) {
	session := CurrentSession(c)
	if session == nil {
		c.JSON(http.StatusUnauthorized, gin.H{
			"code":    "UNAUTHORIZED",
			"message": "ログインが必要です",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"account":    session.Principal,
		"persistent": session.Persistent,
		"issuedAt":   session.IssuedAt.UTC(),
	})
}

// Activity はログイン中のアカウントの監査イベントを新しい順に返します。
func (h *Handler) Activity(c *gin.Context) {
	if h.activity == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"code":    "ACTIVITY_DISABLED",
			"message": "操作履歴は有効になっていません",
		})
		return
	}

	limit := defaultActivityLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "limit には正の整数を指定してください",
			})
			return
		}
		limit = min(n, maxActivityLimit)
	}

	session := CurrentSession(c)
	if session == nil {
		c.JSON(http.StatusUnauthorized, gin.H{
			"code":    "UNAUTHORIZED",
			"message": "ログインが必要です",
		})
		return
	}

	events, err := h.activity.ListByAccount(c.Request.Context(), session.Principal.AccountID, limit)
	if err != nil {
		h.respondWithError(c, err)
		return
	}
	if events == nil {
		events = []audit.Event{}
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// startSession はセッションを1回だけ発行し、CSRF トークンをヘッダーで返します。
func (h *Handler) startSession(c *gin.Context, acct *account.Account, persistent bool) bool {
	token, err := h.sessions.Issue(c, PrincipalFor(acct), persistent)
	if err != nil {
		h.logger.ErrorContext(c.Request.Context(), "failed to issue session", "account_id", acct.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "SESSION_SAVE_FAILED",
			"message": "セッションの保存に失敗しました",
		})
		return false
	}
	c.Header(csrfHeader, token)
	return true
}

// mergeFieldErrors はフィールド単位のエラーを1つにまとめます。
// フィールドエラー以外のエラーはそのまま返します。
func mergeFieldErrors(errs ...error) (validation.Errors, error) {
	merged := validation.Errors{}
	for _, err := range errs {
		if err == nil {
			continue
		}
		var fieldErrs validation.Errors
		var accountErr *account.ValidationError
		switch {
		case errors.As(err, &fieldErrs):
			for name, msg := range fieldErrs {
				if _, exists := merged[name]; !exists {
					merged[name] = msg
				}
			}
		case errors.As(err, &accountErr):
			for name, msg := range accountErr.Fields {
				if _, exists := merged[name]; !exists {
					merged[name] = msg
				}
			}
		default:
			return nil, err
		}
	}
	return merged, nil
}

func respondInvalidJSON(c *gin.Context) {
	c.JSON(http.StatusBadRequest, gin.H{
		"code":    "INVALID_INPUT",
		"message": "リクエストボディを JSON で送ってください",
	})
}

// respondWithError はエラー種別を HTTP レスポンスに変換します。
func (h *Handler) respondWithError(c *gin.Context, err error) {
	var fieldErrs validation.Errors
	var accountErr *account.ValidationError

	switch {
	case errors.As(err, &fieldErrs):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"code":    "VALIDATION_FAILED",
			"message": "入力内容を確認してください",
			"fields":  fieldErrs,
		})
	case errors.As(err, &accountErr):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"code":    "VALIDATION_FAILED",
			"message": "入力内容を確認してください",
			"fields":  accountErr.Fields,
		})
	case errors.Is(err, account.ErrDuplicateUsername), errors.Is(err, account.ErrDuplicateEmail):
		fields := gin.H{}
		if errors.Is(err, account.ErrDuplicateUsername) {
			fields[account.FieldUsername] = "このユーザー名は既に使用されています"
		}
		if errors.Is(err, account.ErrDuplicateEmail) {
			fields[account.FieldEmail] = "このメールアドレスは既に登録されています"
		}
		c.JSON(http.StatusConflict, gin.H{
			"code":    "DUPLICATE_ACCOUNT",
			"message": "既に登録されているアカウントがあります",
			"fields":  fields,
		})
	case errors.Is(err, account.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{
			"code":    "INVALID_CREDENTIALS",
			"message": "ユーザー名またはパスワードが正しくありません",
		})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusRequestTimeout, gin.H{
			"code":    "REQUEST_CANCELED",
			"message": "リクエストが中断されました",
		})
	default:
		h.logger.ErrorContext(c.Request.Context(), "request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "INTERNAL_ERROR",
			"message": "サーバー内部でエラーが発生しました",
		})
	}
}
