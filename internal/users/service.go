package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials is returned by Login for a bad email or password.
// Callers must not distinguish the two cases in responses.
var ErrInvalidCredentials = errors.New("invalid credentials")

// userRepo is the storage interface consumed by Service.
// *Repository satisfies this interface.
type userRepo interface {
	Create(ctx context.Context, u *User) error
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	CountAdmins(ctx context.Context) (int, error)
}

// Service implements business logic for operator accounts.
type Service struct {
	repo   userRepo
	logger *zap.Logger
}

// NewService creates a user Service.
func NewService(repo userRepo, logger *zap.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// Signup creates a new viewer account with email/password authentication.
func (s *Service) Signup(ctx context.Context, email, password, displayName string) (*User, error) {
	if email == "" || password == "" {
		return nil, fmt.Errorf("email and password are required")
	}
	if len(password) < 8 {
		return nil, fmt.Errorf("password must be at least 8 characters")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	if displayName == "" {
		displayName = email
	}

	u := &User{
		Email:        email,
		PasswordHash: string(hash),
		DisplayName:  displayName,
		Role:         RoleViewer,
	}
	if err := s.repo.Create(ctx, u); err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			return nil, ErrDuplicateEmail
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	s.logger.Info("user signed up", zap.String("email", u.Email))
	return u, nil
}

// Login verifies the email/password pair and returns the account.
func (s *Service) Login(ctx context.Context, email, password string) (*User, error) {
	u, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		s.logger.Warn("failed login attempt", zap.String("email", email))
		return nil, ErrInvalidCredentials
	}
	return u, nil
}

// Get returns one user by ID.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.repo.GetByID(ctx, id)
}

// EnsureAdmin creates an admin account with the given credentials when no
// admin exists yet. Used by the seed tool for first-run bootstrap.
func (s *Service) EnsureAdmin(ctx context.Context, email, password string) (*User, bool, error) {
	n, err := s.repo.CountAdmins(ctx)
	if err != nil {
		return nil, false, err
	}
	if n > 0 {
		return nil, false, nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, false, fmt.Errorf("hash password: %w", err)
	}

	u := &User{
		Email:        email,
		PasswordHash: string(hash),
		DisplayName:  "Administrator",
		Role:         RoleAdmin,
	}
	if err := s.repo.Create(ctx, u); err != nil {
		return nil, false, fmt.Errorf("create admin: %w", err)
	}

	s.logger.Info("admin account bootstrapped", zap.String("email", email))
	return u, true, nil
}
