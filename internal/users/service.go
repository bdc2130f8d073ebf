// Package users manages account holders and keeps each one enrolled with
// the billing service.
package users

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"notemeter/internal/types"
)

// UserRepo is the data access the service needs.
type UserRepo interface {
	GetByID(ctx context.Context, id string) (*types.User, error)
	GetByEmail(ctx context.Context, email string) (*types.User, error)
	Create(ctx context.Context, user *types.User) error
	DeleteByEmail(ctx context.Context, email string) (string, error)
}

// Enroller guarantees a subject has a billing phase. *billing.ProvisioningGate
// satisfies it.
type Enroller interface {
	EnsureEnrolled(ctx context.Context, subject types.Subject) error
}

// Canceller ends a subject's billing enrollment.
type Canceller interface {
	Cancel(ctx context.Context, subject types.Subject) error
}

// PasswordHasher abstracts bcrypt operations for testability.
type PasswordHasher interface {
	CompareHashAndPassword(hashedPassword, password string) error
	GenerateFromPassword(password string) (string, error)
}

type bcryptHasher struct {
	cost int
}

func (b bcryptHasher) CompareHashAndPassword(hashedPassword, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
}

func (b bcryptHasher) GenerateFromPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), b.cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Config holds the dependencies for creating a Service.
type Config struct {
	Users      UserRepo
	Enroller   Enroller
	Billing    Canceller
	Hasher     PasswordHasher
	BcryptCost int
	Logger     *slog.Logger
}

// Service loads, creates, authenticates and deletes users. Every load of a
// user enrolls its billing subject before returning.
type Service struct {
	users    UserRepo
	enroller Enroller
	billing  Canceller
	hasher   PasswordHasher
	newID    func() string
	logger   *slog.Logger
}

// NewService creates a Service.
// If Hasher is nil, bcrypt at BcryptCost (default bcrypt.DefaultCost) is used.
// If Logger is nil, slog.Default() is used.
func NewService(cfg Config) *Service {
	hasher := cfg.Hasher
	if hasher == nil {
		cost := cfg.BcryptCost
		if cost == 0 {
			cost = bcrypt.DefaultCost
		}
		hasher = bcryptHasher{cost: cost}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		users:    cfg.Users,
		enroller: cfg.Enroller,
		billing:  cfg.Billing,
		hasher:   hasher,
		newID:    func() string { return uuid.New().String() },
		logger:   logger,
	}
}

// GetByID loads a user and ensures it is enrolled.
func (s *Service) GetByID(ctx context.Context, id string) (*types.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.enrolled(ctx, user)
}

// GetByEmail loads a user by email and ensures it is enrolled.
func (s *Service) GetByEmail(ctx context.Context, email string) (*types.User, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	return s.enrolled(ctx, user)
}

// Create registers a user with a hashed password and enrolls it in the free
// plan. An enrollment failure is returned after the user row exists; the
// next load of the user retries it.
func (s *Service) Create(ctx context.Context, email, password string) (*types.User, error) {
	hash, err := s.hasher.GenerateFromPassword(password)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to hash password", err)
	}

	user := &types.User{
		ID:           s.newID(),
		Email:        email,
		PasswordHash: hash,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "user created", "user_id", user.ID)
	return s.enrolled(ctx, user)
}

// VerifyLogin returns the user when password matches. Unknown emails and
// wrong passwords produce the same auth_invalid_credentials error.
func (s *Service) VerifyLogin(ctx context.Context, email, password string) (*types.User, error) {
	user, err := s.GetByEmail(ctx, email)
	if err != nil {
		if types.HasCode(err, types.ErrCodeAuthUserNotFound) {
			return nil, invalidCredentials()
		}
		return nil, err
	}

	if err := s.hasher.CompareHashAndPassword(user.PasswordHash, password); err != nil {
		if !errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			s.logger.WarnContext(ctx, "password hash comparison failed",
				"user_id", user.ID,
				"error", err,
			)
		}
		return nil, invalidCredentials()
	}
	return user, nil
}

// DeleteByEmail cancels the user's billing enrollment on a best-effort basis
// and deletes the user.
func (s *Service) DeleteByEmail(ctx context.Context, email string) error {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if types.HasCode(err, types.ErrCodeAuthUserNotFound) {
			return types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil)
		}
		return err
	}

	if err := s.billing.Cancel(ctx, user.Subject()); err != nil {
		s.logger.WarnContext(ctx, "billing cancel failed during user delete",
			"user_id", user.ID,
			"subject", string(user.Subject()),
			"error", err,
		)
	}

	if _, err := s.users.DeleteByEmail(ctx, email); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "user deleted", "user_id", user.ID)
	return nil
}

func (s *Service) enrolled(ctx context.Context, user *types.User) (*types.User, error) {
	if err := s.enroller.EnsureEnrolled(ctx, user.Subject()); err != nil {
		return nil, err
	}
	return user, nil
}

func invalidCredentials() *types.AppError {
	return types.NewAppError(types.ErrCodeAuthInvalidCreds, "invalid email or password", nil)
}
