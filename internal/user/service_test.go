package user

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"roomchat/internal/apperr"
)

type memStore struct {
	mu     sync.Mutex
	nextID int64
	users  map[int64]*User
}

func newMemStore() *memStore {
	return &memStore{users: map[int64]*User{}}
}

func (s *memStore) CreateUser(ctx context.Context, user *User) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == user.Username {
			return nil, apperr.ErrUserExists
		}
	}
	s.nextID++
	stored := *user
	stored.ID = s.nextID
	s.users[stored.ID] = &stored
	out := stored
	return &out, nil
}

func (s *memStore) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == username {
			out := *u
			return &out, nil
		}
	}
	return nil, apperr.ErrNotFound
}

func (s *memStore) GetUserByID(ctx context.Context, id int64) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	out := *u
	return &out, nil
}

func (s *memStore) UpdatePassword(ctx context.Context, id int64, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return apperr.ErrNotFound
	}
	u.Password = hash
	return nil
}

func (s *memStore) SetProfileImage(ctx context.Context, id int64, image string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return "", apperr.ErrNotFound
	}
	previous := u.ProfileImage
	u.ProfileImage = image
	return previous, nil
}

func (s *memStore) SearchUsers(ctx context.Context, query string) ([]User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []User
	for _, u := range s.users {
		if strings.Contains(strings.ToLower(u.Username), strings.ToLower(query)) {
			out = append(out, *u)
		}
	}
	return out, nil
}

func newTestService(store Store, ttl time.Duration) *Service {
	s := NewService(store, "test-secret", ttl, zap.NewNop())
	s.cost = bcrypt.MinCost
	return s
}

func TestRegisterIssuesToken(t *testing.T) {
	svc := newTestService(newMemStore(), time.Hour)

	res, err := svc.Register(context.Background(), &Credentials{Username: "alice", Password: "secret"})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	id, username, err := svc.ValidateToken(res.Token)
	if err != nil {
		t.Fatalf("ValidateToken() error = %v", err)
	}
	if id != res.ID || username != "alice" {
		t.Errorf("token identity = %d/%q, want %d/alice", id, username, res.ID)
	}
}

func TestRegisterValidation(t *testing.T) {
	tests := []struct {
		name  string
		creds Credentials
		want  error
	}{
		{"short username", Credentials{Username: "abc", Password: "secret"}, apperr.ErrInvalidCredentialsFormat},
		{"short password", Credentials{Username: "alice", Password: "abc"}, apperr.ErrInvalidCredentialsFormat},
		{"long username", Credentials{Username: strings.Repeat("a", 256), Password: "secret"}, apperr.ErrInvalidCredentialsFormat},
		{"taken", Credentials{Username: "taken", Password: "secret"}, apperr.ErrUserExists},
	}

	store := newMemStore()
	svc := newTestService(store, time.Hour)
	if _, err := svc.Register(context.Background(), &Credentials{Username: "taken", Password: "secret"}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Register(context.Background(), &tt.creds); !errors.Is(err, tt.want) {
				t.Errorf("Register() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestLogin(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(newMemStore(), time.Hour)
	if _, err := svc.Register(ctx, &Credentials{Username: "alice", Password: "secret"}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if _, err := svc.Login(ctx, &Credentials{Username: "alice", Password: "wrong"}); !errors.Is(err, apperr.ErrInvalidCredentials) {
		t.Errorf("Login(wrong password) error = %v, want ErrInvalidCredentials", err)
	}
	if _, err := svc.Login(ctx, &Credentials{Username: "bob", Password: "secret"}); !errors.Is(err, apperr.ErrInvalidCredentials) {
		t.Errorf("Login(unknown user) error = %v, want ErrInvalidCredentials", err)
	}

	res, err := svc.Login(ctx, &Credentials{Username: "alice", Password: "secret"})
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if res.Username != "alice" || res.Token == "" {
		t.Errorf("Login() = %+v", res)
	}
}

func TestValidateTokenRejects(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()

	expired, err := newTestService(store, -time.Minute).Register(ctx, &Credentials{Username: "alice", Password: "secret"})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	other := NewService(store, "other-secret", time.Hour, zap.NewNop())
	other.cost = bcrypt.MinCost
	foreign, err := other.Register(ctx, &Credentials{Username: "bob", Password: "secret"})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	svc := newTestService(store, time.Hour)
	for name, token := range map[string]string{
		"expired":      expired.Token,
		"wrong secret": foreign.Token,
		"garbage":      "not.a.token",
		"empty":        "",
	} {
		if _, _, err := svc.ValidateToken(token); err == nil {
			t.Errorf("ValidateToken(%s) error = nil", name)
		}
	}
}

func TestChangePassword(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(newMemStore(), time.Hour)
	res, err := svc.Register(ctx, &Credentials{Username: "alice", Password: "secret"})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	tests := []struct {
		name string
		req  PasswordChange
		want error
	}{
		{"wrong old password", PasswordChange{OldPassword: "nope", NewPassword: "changed"}, apperr.ErrInvalidCredentials},
		{"same password", PasswordChange{OldPassword: "secret", NewPassword: "secret"}, apperr.ErrNewPasswordRepeated},
		{"too short", PasswordChange{OldPassword: "secret", NewPassword: "abc"}, apperr.ErrInvalidCredentialsFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := svc.ChangePassword(ctx, res.ID, &tt.req); !errors.Is(err, tt.want) {
				t.Errorf("ChangePassword() error = %v, want %v", err, tt.want)
			}
		})
	}

	if err := svc.ChangePassword(ctx, res.ID, &PasswordChange{OldPassword: "secret", NewPassword: "changed"}); err != nil {
		t.Fatalf("ChangePassword() error = %v", err)
	}
	if _, err := svc.Login(ctx, &Credentials{Username: "alice", Password: "secret"}); !errors.Is(err, apperr.ErrInvalidCredentials) {
		t.Errorf("Login(old password) error = %v, want ErrInvalidCredentials", err)
	}
	if _, err := svc.Login(ctx, &Credentials{Username: "alice", Password: "changed"}); err != nil {
		t.Errorf("Login(new password) error = %v", err)
	}
}

func TestMeHidesPassword(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(newMemStore(), time.Hour)
	res, err := svc.Register(ctx, &Credentials{Username: "alice", Password: "secret"})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	u, err := svc.Me(ctx, res.ID)
	if err != nil {
		t.Fatalf("Me() error = %v", err)
	}
	if u.Username != "alice" {
		t.Errorf("Me() = %+v", u)
	}
	body, err := json.Marshal(u)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(body), "password") || strings.Contains(string(body), u.Password) {
		t.Errorf("user JSON leaks the password: %s", body)
	}
	if _, err := svc.Me(ctx, 999); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("Me(unknown) error = %v, want ErrNotFound", err)
	}
}
