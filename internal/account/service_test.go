package account

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/yourusername/login-system/internal/audit"
	"github.com/yourusername/login-system/internal/credential"
	"github.com/yourusername/login-system/internal/validation"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []audit.Event
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, event audit.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) ofType(t audit.EventType) []audit.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []audit.Event
	for _, e := range p.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// racingStore は事前確認では常に空いていると答え、挿入時に制約違反を返すストアです。
type racingStore struct {
	*MemoryStore
	violation *ConstraintViolationError
}

func (s *racingStore) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	return false, nil
}

func (s *racingStore) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	return false, nil
}

func (s *racingStore) Insert(ctx context.Context, acct *Account) (*Account, error) {
	return nil, s.violation
}

type failingStore struct {
	*MemoryStore
	err error
}

func (s *failingStore) FindByUsernameOrEmail(ctx context.Context, identifier string) (*Account, error) {
	return nil, s.err
}

type ServiceSuite struct {
	suite.Suite
	store     *MemoryStore
	publisher *recordingPublisher
	validator *validation.Validator
	codec     *credential.Codec
	service   *Service
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	v, err := validation.New()
	s.Require().NoError(err)

	s.store = NewMemoryStore()
	s.publisher = &recordingPublisher{}
	s.validator = v
	s.codec = credential.NewCodec(1_000)
	s.service = s.newService(s.store)
}

func (s *ServiceSuite) newService(store Store) *Service {
	var buf bytes.Buffer
	service, err := NewService(store, s.codec, s.validator, s.publisher, slog.New(slog.NewTextHandler(&buf, nil)))
	s.Require().NoError(err)
	return service
}

func (s *ServiceSuite) register(username, email, password string) (*Account, error) {
	return s.service.Register(context.Background(), RegisterInput{
		Username: username,
		Email:    email,
		Password: password,
	})
}

func (s *ServiceSuite) TestEndToEnd() {
	ctx := context.Background()

	created, err := s.register("alice", "alice@example.com", "correctpw123")
	s.Require().NoError(err)
	s.NotEmpty(created.ID)
	s.False(created.CreatedAt.IsZero())

	byName, err := s.service.Authenticate(ctx, "alice", "correctpw123")
	s.Require().NoError(err)
	s.Equal(created.ID, byName.ID)

	byEmail, err := s.service.Authenticate(ctx, "alice@example.com", "correctpw123")
	s.Require().NoError(err)
	s.Equal(created.ID, byEmail.ID)

	_, err = s.service.Authenticate(ctx, "alice", "wrongpw")
	s.ErrorIs(err, ErrInvalidCredentials)
}

func (s *ServiceSuite) TestRegisterNormalizesAndHashes() {
	created, err := s.register("  alice  ", "  Alice@Example.COM ", "correctpw123")
	s.Require().NoError(err)

	s.Equal("alice", created.Username)
	s.Equal("alice@example.com", created.Email)
	s.NotContains(created.CredentialRecord, "correctpw123")
	s.Len(strings.Split(created.CredentialRecord, "."), 3)
	s.True(s.codec.Verify("correctpw123", created.CredentialRecord))
}

func (s *ServiceSuite) TestRegisterDuplicateUsername() {
	_, err := s.register("alice", "alice@example.com", "correctpw123")
	s.Require().NoError(err)

	_, err = s.register(" alice ", "other@example.com", "correctpw123")
	s.ErrorIs(err, ErrDuplicateUsername)
	s.NotErrorIs(err, ErrDuplicateEmail)
}

func (s *ServiceSuite) TestRegisterUsernameIsCaseSensitive() {
	_, err := s.register("alice", "alice@example.com", "correctpw123")
	s.Require().NoError(err)

	_, err = s.register("Alice", "alice2@example.com", "correctpw123")
	s.NoError(err)
}

func (s *ServiceSuite) TestRegisterDuplicateEmailIgnoresCase() {
	_, err := s.register("first", "a@b.com", "correctpw123")
	s.Require().NoError(err)

	_, err = s.register("second", "A@B.com", "correctpw123")
	s.ErrorIs(err, ErrDuplicateEmail)
	s.NotErrorIs(err, ErrDuplicateUsername)
}

func (s *ServiceSuite) TestRegisterReportsBothDuplicates() {
	_, err := s.register("alice", "alice@example.com", "correctpw123")
	s.Require().NoError(err)

	_, err = s.register("alice", "ALICE@example.com", "correctpw123")
	s.ErrorIs(err, ErrDuplicateUsername)
	s.ErrorIs(err, ErrDuplicateEmail)
}

func (s *ServiceSuite) TestRegisterValidation() {
	_, err := s.register("al", "not-an-email", "123")
	s.Require().ErrorIs(err, ErrValidation)

	var vErr *ValidationError
	s.Require().True(errors.As(err, &vErr))
	s.Contains(vErr.Fields, "username")
	s.Contains(vErr.Fields, "email")
	s.Contains(vErr.Fields, "password")

	// 空白だけのユーザー名は正規化後に必須違反になる
	_, err = s.register("     ", "alice@example.com", "correctpw123")
	s.Require().True(errors.As(err, &vErr))
	s.Contains(vErr.Fields, "username")

	s.Empty(s.publisher.events)
}

func (s *ServiceSuite) TestRegisterRejectsBlankPassword() {
	_, err := s.register("alice", "alice@example.com", "      ")
	var vErr *ValidationError
	s.Require().True(errors.As(err, &vErr))
	s.Contains(vErr.Fields, "password")

	_, err = s.service.Authenticate(context.Background(), "alice", "      ")
	s.ErrorIs(err, ErrInvalidCredentials)
}

func (s *ServiceSuite) TestValidateRegistrationDoesNotTouchStore() {
	in := RegisterInput{Username: "  alice  ", Email: " Alice@Example.com ", Password: "correctpw123"}
	s.NoError(s.service.ValidateRegistration(in))

	err := s.service.ValidateRegistration(RegisterInput{Username: "al", Email: "x", Password: "1"})
	var vErr *ValidationError
	s.Require().True(errors.As(err, &vErr))
	s.Len(vErr.Fields, 3)

	exists, err := s.store.ExistsByUsername(context.Background(), "alice")
	s.Require().NoError(err)
	s.False(exists)
	s.Empty(s.publisher.events)
}

func (s *ServiceSuite) TestRegisterMapsStoreConstraintViolation() {
	for field, want := range map[string]error{
		FieldUsername: ErrDuplicateUsername,
		FieldEmail:    ErrDuplicateEmail,
	} {
		service := s.newService(&racingStore{
			MemoryStore: NewMemoryStore(),
			violation:   &ConstraintViolationError{Field: field},
		})
		_, err := service.Register(context.Background(), RegisterInput{
			Username: "alice",
			Email:    "alice@example.com",
			Password: "correctpw123",
		})
		s.ErrorIs(err, want, "field %s", field)
	}
}

func (s *ServiceSuite) TestRegisterUnknownConstraintIsNotDuplicate() {
	service := s.newService(&racingStore{
		MemoryStore: NewMemoryStore(),
		violation:   &ConstraintViolationError{Field: "id"},
	})
	_, err := service.Register(context.Background(), RegisterInput{
		Username: "alice",
		Email:    "alice@example.com",
		Password: "correctpw123",
	})
	s.Require().Error(err)
	s.NotErrorIs(err, ErrDuplicateUsername)
	s.NotErrorIs(err, ErrDuplicateEmail)
}

func (s *ServiceSuite) TestRegisterPublishesExactlyOneEvent() {
	created, err := s.register("alice", "alice@example.com", "correctpw123")
	s.Require().NoError(err)

	events := s.publisher.ofType(audit.EventAccountRegistered)
	s.Require().Len(events, 1)
	s.Equal(created.ID, events[0].AccountID)
	s.Equal("alice", events[0].Username)

	_, err = s.register("alice", "alice@example.com", "correctpw123")
	s.Require().Error(err)
	s.Len(s.publisher.ofType(audit.EventAccountRegistered), 1)
}

func (s *ServiceSuite) TestPublisherFailureDoesNotFailRegistration() {
	s.publisher.err = errors.New("queue unavailable")

	_, err := s.register("alice", "alice@example.com", "correctpw123")
	s.NoError(err)
}

func (s *ServiceSuite) TestAuthenticateDoesNotRevealUnknownIdentifier() {
	ctx := context.Background()
	_, err := s.register("alice", "alice@example.com", "correctpw123")
	s.Require().NoError(err)

	_, wrongPassword := s.service.Authenticate(ctx, "alice", "wrongpw")
	_, unknownUser := s.service.Authenticate(ctx, "nobody", "correctpw123")

	s.Require().Error(wrongPassword)
	s.True(wrongPassword == unknownUser, "errors must be the identical value")
	s.Equal(ErrInvalidCredentials, unknownUser)

	failures := s.publisher.ofType(audit.EventLoginFailed)
	s.Require().Len(failures, 2)
	for _, e := range failures {
		s.Empty(e.AccountID)
	}
}

func (s *ServiceSuite) TestAuthenticateDoesNotNormalizeIdentifier() {
	ctx := context.Background()
	_, err := s.register("alice", "alice@example.com", "correctpw123")
	s.Require().NoError(err)

	_, err = s.service.Authenticate(ctx, " alice", "correctpw123")
	s.ErrorIs(err, ErrInvalidCredentials)
	_, err = s.service.Authenticate(ctx, "ALICE@example.com", "correctpw123")
	s.ErrorIs(err, ErrInvalidCredentials)
}

func (s *ServiceSuite) TestAuthenticateEmptyPassword() {
	_, err := s.register("alice", "alice@example.com", "correctpw123")
	s.Require().NoError(err)

	_, err = s.service.Authenticate(context.Background(), "alice", "")
	s.ErrorIs(err, ErrInvalidCredentials)
}

func (s *ServiceSuite) TestAuthenticatePublishesSuccess() {
	created, err := s.register("alice", "alice@example.com", "correctpw123")
	s.Require().NoError(err)

	_, err = s.service.Authenticate(context.Background(), "alice", "correctpw123")
	s.Require().NoError(err)

	events := s.publisher.ofType(audit.EventLoginSucceeded)
	s.Require().Len(events, 1)
	s.Equal(created.ID, events[0].AccountID)
}

func (s *ServiceSuite) TestAuthenticateSurfacesStoreFailure() {
	storeErr := errors.New("connection refused")
	service := s.newService(&failingStore{MemoryStore: NewMemoryStore(), err: storeErr})

	_, err := service.Authenticate(context.Background(), "alice", "correctpw123")
	s.ErrorIs(err, storeErr)
	s.NotErrorIs(err, ErrInvalidCredentials)
}

func (s *ServiceSuite) TestRecordLogout() {
	s.service.RecordLogout(context.Background(), "acc-1", "alice")

	events := s.publisher.ofType(audit.EventLoggedOut)
	s.Require().Len(events, 1)
	s.Equal("acc-1", events[0].AccountID)
}

func (s *ServiceSuite) TestNewServiceRequiresCollaborators() {
	_, err := NewService(nil, s.codec, s.validator, nil, nil)
	s.Error(err)
	_, err = NewService(s.store, nil, s.validator, nil, nil)
	s.Error(err)
	_, err = NewService(s.store, s.codec, nil, nil, nil)
	s.Error(err)

	service, err := NewService(s.store, s.codec, s.validator, nil, nil)
	s.NoError(err)
	s.NotNil(service.publisher)
}
