package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/yourusername/login-system/internal/audit"
	"github.com/yourusername/login-system/internal/validation"
)

// CredentialCodec はパスワードのハッシュ化と検証を行います（*credential.Codec が実装）。
type CredentialCodec interface {
	Hash(password string) (string, error)
	Verify(password, stored string) bool
}

// Validator は入力構造体の形式を検証します（*validation.Validator が実装）。
type Validator interface {
	Validate(data any) error
}

// Service はアカウントの登録と認証をまとめたサービスです。
// リクエスト間で共有する可変状態は持たず、並行に呼び出せます。
type Service struct {
	store     Store
	codec     CredentialCodec
	validator Validator
	publisher audit.Publisher
	logger    *slog.Logger

	// 存在しない識別子でもパスワード検証を1回実行するためのダミーレコード
	dummyRecord string
}

// NewService は Service を作成します。
func NewService(store Store, codec CredentialCodec, validator Validator, publisher audit.Publisher, logger *slog.Logger) (*Service, error) {
	if store == nil {
		return nil, errors.New("store is nil")
	}
	if codec == nil {
		return nil, errors.New("codec is nil")
	}
	if validator == nil {
		return nil, errors.New("validator is nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if publisher == nil {
		publisher = audit.NewLogPublisher(logger)
	}

	dummy, err := codec.Hash("dummy-password-for-unknown-identifiers")
	if err != nil {
		return nil, fmt.Errorf("failed to prepare dummy credential: %w", err)
	}

	return &Service{
		store:       store,
		codec:       codec,
		validator:   validator,
		publisher:   publisher,
		logger:      logger,
		dummyRecord: dummy,
	}, nil
}

// Register は新しいアカウントを作成します。
//
// 失敗時は *ValidationError、ErrDuplicateUsername / ErrDuplicateEmail（両方の場合は
// errors.Join でまとめたもの）、またはストアのエラーを返します。
func (s *Service) Register(ctx context.Context, in RegisterInput) (*Account, error) {
	in = normalizeInput(in)
	if err := s.validate(in); err != nil {
		return nil, err
	}

	if err := s.checkAvailability(ctx, in.Username, in.Email); err != nil {
		return nil, err
	}

	record, err := s.codec.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	created, err := s.store.Insert(ctx, &Account{
		Username:         in.Username,
		Email:            in.Email,
		CredentialRecord: record,
	})
	if err != nil {
		// 事前確認と挿入の間に同じ値で登録された場合
		var violation *ConstraintViolationError
		if errors.As(err, &violation) {
			if dupErr := duplicateFor(violation.Field); dupErr != nil {
				return nil, dupErr
			}
		}
		s.logger.ErrorContext(ctx, "failed to insert account", "username", in.Username, "error", err)
		return nil, fmt.Errorf("insert account: %w", err)
	}

	s.publish(ctx, audit.Event{
		Type:      audit.EventAccountRegistered,
		AccountID: created.ID,
		Username:  created.Username,
	})
	s.logger.InfoContext(ctx, "account registered", "username", created.Username, "account_id", created.ID)

	return created, nil
}

// ValidateRegistration は正規化後の入力形式だけを検証します。ストアには触れません。
func (s *Service) ValidateRegistration(in RegisterInput) error {
	return s.validate(normalizeInput(in))
}

func (s *Service) validate(in RegisterInput) error {
	if err := s.validator.Validate(in); err != nil {
		var fieldErrs validation.Errors
		if errors.As(err, &fieldErrs) {
			return &ValidationError{Fields: fieldErrs}
		}
		return fmt.Errorf("validate registration: %w", err)
	}
	return nil
}

func normalizeInput(in RegisterInput) RegisterInput {
	in.Username = NormalizeUsername(in.Username)
	in.Email = NormalizeEmail(in.Email)
	return in
}

func (s *Service) checkAvailability(ctx context.Context, username, email string) error {
	usernameTaken, err := s.store.ExistsByUsername(ctx, username)
	if err != nil {
		return fmt.Errorf("check username: %w", err)
	}
	emailTaken, err := s.store.ExistsByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("check email: %w", err)
	}

	var errs []error
	if usernameTaken {
		errs = append(errs, ErrDuplicateUsername)
	}
	if emailTaken {
		errs = append(errs, ErrDuplicateEmail)
	}
	return errors.Join(errs...)
}

func duplicateFor(field string) error {
	switch field {
	case FieldUsername:
		return ErrDuplicateUsername
	case FieldEmail:
		return ErrDuplicateEmail
	default:
		return nil
	}
}

// Authenticate は識別子（ユーザー名またはメールアドレス）とパスワードでアカウントを確認します。
// 識別子は正規化せずにそのまま検索します。
func (s *Service) Authenticate(ctx context.Context, identifier, password string) (*Account, error) {
	acct, err := s.store.FindByUsernameOrEmail(ctx, identifier)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.ErrorContext(ctx, "failed to look up account", "error", err)
			return nil, fmt.Errorf("find account: %w", err)
		}
		s.codec.Verify(password, s.dummyRecord)
		s.rejectLogin(ctx, identifier)
		return nil, ErrInvalidCredentials
	}

	if !s.codec.Verify(password, acct.CredentialRecord) {
		s.rejectLogin(ctx, identifier)
		return nil, ErrInvalidCredentials
	}

	s.publish(ctx, audit.Event{
		Type:      audit.EventLoginSucceeded,
		AccountID: acct.ID,
		Username:  acct.Username,
	})
	return acct, nil
}

func (s *Service) rejectLogin(ctx context.Context, identifier string) {
	s.publish(ctx, audit.Event{
		Type:       audit.EventLoginFailed,
		Identifier: identifier,
	})
}

// RecordLogout はログアウトを監査イベントとして記録します。
func (s *Service) RecordLogout(ctx context.Context, accountID, username string) {
	s.publish(ctx, audit.Event{
		Type:      audit.EventLoggedOut,
		AccountID: accountID,
		Username:  username,
	})
}

// publish の失敗はリクエストを失敗させずログに残すだけにする
func (s *Service) publish(ctx context.Context, event audit.Event) {
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish audit event", "event", event.Type, "error", err)
	}
}
