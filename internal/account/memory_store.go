package account

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore はプロセス内に保持するストアです（開発・テスト用）。
type MemoryStore struct {
	mu         sync.RWMutex
	byID       map[string]Account
	byUsername map[string]string
	byEmail    map[string]string
	now        func() time.Time
}

// NewMemoryStore は空の MemoryStore を作成します。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:       make(map[string]Account),
		byUsername: make(map[string]string),
		byEmail:    make(map[string]string),
		now:        time.Now,
	}
}

// FindByUsernameOrEmail は一致するアカウントのうち最も早く作成されたものを返します。
func (s *MemoryStore) FindByUsernameOrEmail(ctx context.Context, identifier string) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found *Account
	for _, id := range []string{s.byUsername[identifier], s.byEmail[identifier]} {
		if id == "" {
			continue
		}
		acct := s.byID[id]
		if found == nil || acct.CreatedAt.Before(found.CreatedAt) {
			found = &acct
		}
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}

func (s *MemoryStore) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byUsername[username]
	return ok, nil
}

func (s *MemoryStore) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byEmail[email]
	return ok, nil
}

// Insert は一意制約を検査してから保存します。
func (s *MemoryStore) Insert(ctx context.Context, acct *Account) (*Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byUsername[acct.Username]; ok {
		return nil, &ConstraintViolationError{Field: FieldUsername}
	}
	if _, ok := s.byEmail[acct.Email]; ok {
		return nil, &ConstraintViolationError{Field: FieldEmail}
	}

	stored := *acct
	stored.ID = uuid.NewString()
	stored.CreatedAt = s.now().UTC()

	s.byID[stored.ID] = stored
	s.byUsername[stored.Username] = stored.ID
	s.byEmail[stored.Email] = stored.ID

	out := stored
	return &out, nil
}
