package identity

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/duobank/duobank/internal/audit"
	"github.com/duobank/duobank/internal/ledger"
	"github.com/duobank/duobank/internal/money"
)

var (
	// ErrInvalidCredentials occurs on a bad email/password combination.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrWeakPassword occurs when the password is shorter than the minimum.
	ErrWeakPassword = errors.New("password must be at least 8 characters")

	// ErrInvalidEmail occurs when the email is empty or malformed.
	ErrInvalidEmail = errors.New("invalid email address")
)

// Registration grants, matching the welcome balances credited to every new
// user: USD 1000.00 and EUR 500.00.
var welcomeGrants = map[money.Currency]int64{
	money.USD: 100_000,
	money.EUR: 50_000,
}

// Service registers users and verifies their credentials.
type Service struct {
	repo   Repository
	engine *ledger.Engine
	sink   audit.Sink
	logger *slog.Logger
}

// NewService wires the identity service.
func NewService(repo Repository, engine *ledger.Engine, sink audit.Sink, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, engine: engine, sink: sink, logger: logger}
}

// Register creates the user with its USD and EUR accounts and credits the
// welcome balances from the system account. The whole provisioning runs in
// one ledger transaction; a failure leaves no user behind.
func (s *Service) Register(ctx context.Context, emailRaw, name, password string) (User, error) {
	email := NormalizeEmail(emailRaw)
	if email == "" || !strings.Contains(email, "@") {
		return User{}, ErrInvalidEmail
	}
	if len(password) < 8 {
		return User{}, ErrWeakPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, err
	}

	user := User{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         strings.TrimSpace(name),
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}

	err = s.engine.RegisterUser(ctx, ledger.UserRecord{
		ID:           user.ID,
		Email:        user.Email,
		Name:         user.Name,
		PasswordHash: user.PasswordHash,
		CreatedAt:    user.CreatedAt,
	}, welcomeGrants)
	if errors.Is(err, ledger.ErrEmailTaken) {
		return User{}, ErrEmailTaken
	}
	if err != nil {
		return User{}, err
	}

	return user, nil
}

// Authenticate verifies the email/password pair and returns the matching
// user. Lookup misses and hash mismatches are indistinguishable to callers.
func (s *Service) Authenticate(ctx context.Context, emailRaw, password string) (User, error) {
	email := NormalizeEmail(emailRaw)

	user, err := s.repo.FindByEmail(ctx, email)
	if errors.Is(err, ErrUserNotFound) {
		return User{}, ErrInvalidCredentials
	}
	if err != nil {
		return User{}, err
	}

	if err := bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(password)); err != nil {
		return User{}, ErrInvalidCredentials
	}

	if s.sink != nil {
		if err := s.sink.Write(ctx, audit.Entry{
			UserID:     user.ID,
			Action:     "auth.login",
			EntityType: "user",
			EntityID:   user.ID,
		}); err != nil {
			s.logger.Warn("audit write failed", "action", "auth.login", "error", err)
		}
	}

	return user, nil
}

// UserByID fetches a user by id.
func (s *Service) UserByID(ctx context.Context, id string) (User, error) {
	return s.repo.FindByID(ctx, id)
}

// NormalizeEmail lowercases and trims an email the way the ledger resolves
// recipients, so lookups and uniqueness agree on one canonical form.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
