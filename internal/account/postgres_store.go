package account

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/yourusername/login-system/internal/account/migrations"
)

const (
	pgUniqueViolation = "23505"

	usernameConstraint = "accounts_username_key"
	emailConstraint    = "accounts_email_key"
)

// PostgresStore はアカウントを PostgreSQL に保存します。一意性は一意制約で保証します。
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore は PostgresStore を作成します。
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// OpenPostgres は pgx ドライバで接続し、疎通を確認します。
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// gooseUpContext はテストで差し替えられるようにしている
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// MigratePostgres は埋め込みマイグレーションを適用します。
func MigratePostgres(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	if err := gooseUpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("migrate accounts: %w", err)
	}
	return nil
}

// FindByUsernameOrEmail は一致する行のうち最も早く作成されたものを返します。
func (s *PostgresStore) FindByUsernameOrEmail(ctx context.Context, identifier string) (*Account, error) {
	query :=
		`SELECT id, username, email, credential_record, created_at FROM accounts
		 WHERE username = $1 OR email = $1
		 ORDER BY created_at
		 LIMIT 1`

	acct := &Account{}
	err := s.db.QueryRowContext(ctx, query, identifier).
		Scan(&acct.ID, &acct.Username, &acct.Email, &acct.CredentialRecord, &acct.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	acct.CreatedAt = acct.CreatedAt.UTC()
	return acct, nil
}

func (s *PostgresStore) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	return s.exists(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE username = $1)`, username)
}

func (s *PostgresStore) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	return s.exists(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE email = $1)`, email)
}

// Insert は一意制約違反を *ConstraintViolationError に変換します。
func (s *PostgresStore) Insert(ctx context.Context, acct *Account) (*Account, error) {
	query :=
		`INSERT INTO accounts (id, username, email, credential_record)
		 VALUES ($1, $2, $3, $4)
		 RETURNING created_at`

	stored := *acct
	stored.ID = uuid.NewString()

	err := s.db.QueryRowContext(ctx, query,
		stored.ID, stored.Username, stored.Email, stored.CredentialRecord).Scan(&stored.CreatedAt)
	if err != nil {
		return nil, mapInsertError(err)
	}
	stored.CreatedAt = stored.CreatedAt.UTC()
	return &stored, nil
}

func (s *PostgresStore) exists(ctx context.Context, query, value string) (bool, error) {
	var found bool
	if err := s.db.QueryRowContext(ctx, query, value).Scan(&found); err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return found, nil
}

func mapInsertError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		switch pgErr.ConstraintName {
		case usernameConstraint:
			return &ConstraintViolationError{Field: FieldUsername}
		case emailConstraint:
			return &ConstraintViolationError{Field: FieldEmail}
		}
	}
	return fmt.Errorf("db error: %w", err)
}
