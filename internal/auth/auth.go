// Package auth implements the local accounts. Credentials are kept as plain
// records in the key-value store; this is a convenience login, not security.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"medisense/internal/storage"
)

var (
	ErrCredentialsRequired = errors.New("Email and password are required")
	ErrAccountExists       = errors.New("An account with this email already exists")
	ErrInvalidCredentials  = errors.New("Invalid email or password")
)

type Account struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// DisplayName falls back to the email when no name was given.
func (a Account) DisplayName() string {
	if a.Name != "" {
		return a.Name
	}
	return a.Email
}

type Repository interface {
	LoadAll(ctx context.Context) ([]Account, error)
	// Insert adds a, or fails with ErrAccountExists when the email is taken.
	// The check and the write are atomic.
	Insert(ctx context.Context, a Account) error
}

// SignUpHook runs after an account has been created, e.g. to initialise the
// prediction log.
type SignUpHook func(ctx context.Context, email string) error

type Service struct {
	repo     Repository
	sessions storage.Store
	onSignUp SignUpHook
}

func NewWithRepo(repo Repository, sessions storage.Store, onSignUp SignUpHook) *Service {
	return &Service{repo: repo, sessions: sessions, onSignUp: onSignUp}
}

func currentKey(session string) string { return "currentUser:" + session }

func (s *Service) SignUp(ctx context.Context, session, name, email, password string) (Account, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return Account{}, ErrCredentialsRequired
	}
	acc := Account{Name: strings.TrimSpace(name), Email: email, Password: password}
	if err := s.repo.Insert(ctx, acc); errors.Is(err, ErrAccountExists) {
		return Account{}, ErrAccountExists
	} else if err != nil {
		return Account{}, fmt.Errorf("save user: %w", err)
	}
	if err := storage.Save(ctx, s.sessions, currentKey(session), acc); err != nil {
		return Account{}, fmt.Errorf("set current user: %w", err)
	}
	if s.onSignUp != nil {
		if err := s.onSignUp(ctx, email); err != nil {
			return acc, fmt.Errorf("init user data: %w", err)
		}
	}
	return acc, nil
}

func (s *Service) Login(ctx context.Context, session, email, password string) (Account, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return Account{}, ErrCredentialsRequired
	}
	users, err := s.repo.LoadAll(ctx)
	if err != nil {
		return Account{}, fmt.Errorf("load users: %w", err)
	}
	for _, u := range users {
		if u.Email == email && u.Password == password {
			if err := storage.Save(ctx, s.sessions, currentKey(session), u); err != nil {
				return Account{}, fmt.Errorf("set current user: %w", err)
			}
			return u, nil
		}
	}
	return Account{}, ErrInvalidCredentials
}

func (s *Service) Logout(ctx context.Context, session string) error {
	return s.sessions.Remove(ctx, currentKey(session))
}

// Current returns the account signed in on session, ok=false when nobody is.
func (s *Service) Current(ctx context.Context, session string) (Account, bool, error) {
	var acc Account
	ok, err := storage.Load(ctx, s.sessions, currentKey(session), &acc)
	if err != nil || !ok {
		return Account{}, false, err
	}
	return acc, true, nil
}

// Count reports the number of registered accounts.
func (s *Service) Count(ctx context.Context) (int, error) {
	users, err := s.repo.LoadAll(ctx)
	if err != nil {
		return 0, err
	}
	return len(users), nil
}

// Exists reports whether an account is registered for email.
func (s *Service) Exists(ctx context.Context, email string) (bool, error) {
	users, err := s.repo.LoadAll(ctx)
	if err != nil {
		return false, fmt.Errorf("load users: %w", err)
	}
	email = strings.TrimSpace(email)
	for _, u := range users {
		if u.Email == email {
			return true, nil
		}
	}
	return false, nil
}
