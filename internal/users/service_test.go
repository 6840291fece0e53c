package users

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

type stubUserRepo struct {
	mu      sync.RWMutex
	rows    map[uuid.UUID]*User
	byEmail map[string]uuid.UUID
}

func newStubUserRepo() *stubUserRepo {
	return &stubUserRepo{
		rows:    make(map[uuid.UUID]*User),
		byEmail: make(map[string]uuid.UUID),
	}
}

func (s *stubUserRepo) Create(_ context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byEmail[u.Email]; ok {
		return ErrDuplicateEmail
	}
	u.ID = uuid.New()
	u.CreatedAt = time.Now().UTC()
	if u.Role == "" {
		u.Role = RoleViewer
	}
	cp := *u
	s.rows[u.ID] = &cp
	s.byEmail[u.Email] = u.ID
	return nil
}

func (s *stubUserRepo) GetByEmail(_ context.Context, email string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[email]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s.rows[id]
	return &cp, nil
}

func (s *stubUserRepo) GetByID(_ context.Context, id uuid.UUID) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *stubUserRepo) CountAdmins(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, u := range s.rows {
		if u.Role == RoleAdmin {
			n++
		}
	}
	return n, nil
}

func TestSignup(t *testing.T) {
	svc := NewService(newStubUserRepo(), zap.NewNop())

	u, err := svc.Signup(context.Background(), "bob@example.com", "long-enough-pw", "Bob")
	if err != nil {
		t.Fatalf("Signup: %v", err)
	}
	if u.Role != RoleViewer {
		t.Errorf("Role = %v, want viewer by default", u.Role)
	}
	if u.PasswordHash == "long-enough-pw" {
		t.Error("password stored in plaintext")
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte("long-enough-pw")) != nil {
		t.Error("stored hash does not match the password")
	}
}

func TestSignup_validation(t *testing.T) {
	svc := NewService(newStubUserRepo(), zap.NewNop())

	if _, err := svc.Signup(context.Background(), "", "long-enough-pw", ""); err == nil {
		t.Error("signup without email accepted")
	}
	if _, err := svc.Signup(context.Background(), "a@b.c", "short", ""); err == nil {
		t.Error("signup with 5-char password accepted")
	}
}

func TestSignup_duplicateEmail(t *testing.T) {
	svc := NewService(newStubUserRepo(), zap.NewNop())

	if _, err := svc.Signup(context.Background(), "bob@example.com", "long-enough-pw", ""); err != nil {
		t.Fatalf("first signup: %v", err)
	}
	_, err := svc.Signup(context.Background(), "bob@example.com", "other-password", "")
	if !errors.Is(err, ErrDuplicateEmail) {
		t.Errorf("second signup err = %v, want ErrDuplicateEmail", err)
	}
}

func TestLogin(t *testing.T) {
	svc := NewService(newStubUserRepo(), zap.NewNop())
	if _, err := svc.Signup(context.Background(), "bob@example.com", "long-enough-pw", ""); err != nil {
		t.Fatalf("Signup: %v", err)
	}

	u, err := svc.Login(context.Background(), "bob@example.com", "long-enough-pw")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if u.Email != "bob@example.com" {
		t.Errorf("Email = %q", u.Email)
	}

	if _, err := svc.Login(context.Background(), "bob@example.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong password err = %v, want ErrInvalidCredentials", err)
	}
	if _, err := svc.Login(context.Background(), "nobody@example.com", "long-enough-pw"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown email err = %v, want ErrInvalidCredentials", err)
	}
}

func TestEnsureAdmin(t *testing.T) {
	repo := newStubUserRepo()
	svc := NewService(repo, zap.NewNop())

	u, created, err := svc.EnsureAdmin(context.Background(), "admin@sentinel.local", "bootstrap-pw")
	if err != nil {
		t.Fatalf("EnsureAdmin: %v", err)
	}
	if !created {
		t.Fatal("first EnsureAdmin did not create the admin")
	}
	if u.Role != RoleAdmin {
		t.Errorf("Role = %v, want admin", u.Role)
	}

	// Second call is a no-op.
	_, created, err = svc.EnsureAdmin(context.Background(), "other@sentinel.local", "pw")
	if err != nil {
		t.Fatalf("second EnsureAdmin: %v", err)
	}
	if created {
		t.Error("EnsureAdmin created a second admin")
	}
	if n, _ := repo.CountAdmins(context.Background()); n != 1 {
		t.Errorf("admins = %d, want 1", n)
	}
}
