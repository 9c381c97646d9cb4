package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"medisense/internal/storage"
)

func newService(t *testing.T) (*Service, *[]string) {
	t.Helper()
	st := storage.NewMemoryStore()
	var initialised []string
	svc := NewWithRepo(NewKVRepository(st), st, func(_ context.Context, email string) error {
		initialised = append(initialised, email)
		return nil
	})
	return svc, &initialised
}

func TestServiceBasic(t *testing.T) {
	svc, initialised := newService(t)
	ctx := context.Background()

	acc, err := svc.SignUp(ctx, "s1", "Alice", "alice@example.com", "pw")
	if err != nil {
		t.Fatalf("signup: %v", err)
	}
	if acc.DisplayName() != "Alice" {
		t.Fatalf("unexpected display name %q", acc.DisplayName())
	}
	if len(*initialised) != 1 || (*initialised)[0] != "alice@example.com" {
		t.Fatalf("signup hook not run: %v", *initialised)
	}
	cur, ok, err := svc.Current(ctx, "s1")
	if err != nil || !ok || cur.Email != "alice@example.com" {
		t.Fatalf("signup must sign the user in: %+v ok=%v err=%v", cur, ok, err)
	}

	if _, err := svc.SignUp(ctx, "s2", "", "alice@example.com", "other"); !errors.Is(err, ErrAccountExists) {
		t.Fatalf("want ErrAccountExists, got %v", err)
	}

	if err := svc.Logout(ctx, "s1"); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, ok, _ := svc.Current(ctx, "s1"); ok {
		t.Fatalf("logout not effective")
	}

	if _, err := svc.Login(ctx, "s1", "alice@example.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("want ErrInvalidCredentials, got %v", err)
	}
	if _, err := svc.Login(ctx, "s1", "alice@example.com", "pw"); err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, ok, _ := svc.Current(ctx, "s2"); ok {
		t.Fatalf("sessions must be independent")
	}

	n, err := svc.Count(ctx)
	if err != nil || n != 1 {
		t.Fatalf("want 1 account, got %d err=%v", n, err)
	}
}

func TestServiceRequiresCredentials(t *testing.T) {
	svc, initialised := newService(t)
	ctx := context.Background()
	if _, err := svc.SignUp(ctx, "s", "Bob", "", "pw"); !errors.Is(err, ErrCredentialsRequired) {
		t.Fatalf("want ErrCredentialsRequired, got %v", err)
	}
	if _, err := svc.Login(ctx, "s", "bob@example.com", ""); !errors.Is(err, ErrCredentialsRequired) {
		t.Fatalf("want ErrCredentialsRequired, got %v", err)
	}
	if len(*initialised) != 0 {
		t.Fatalf("hook must not run on a rejected signup")
	}
	if _, ok, _ := svc.Current(ctx, "s"); ok {
		t.Fatalf("nobody should be signed in")
	}
}

func TestDisplayNameFallsBackToEmail(t *testing.T) {
	if got := (Account{Email: "x@y.z"}).DisplayName(); got != "x@y.z" {
		t.Fatalf("got %q", got)
	}
}

func TestSignUp_ConcurrentSameEmail(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	const n = 16
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.SignUp(ctx, fmt.Sprint(i), "", "race@example.com", fmt.Sprintf("pw%d", i))
		}(i)
	}
	wg.Wait()

	winner := -1
	for i, err := range errs {
		switch {
		case err == nil && winner >= 0:
			t.Fatalf("sessions %d and %d both signed up", winner, i)
		case err == nil:
			winner = i
		case !errors.Is(err, ErrAccountExists):
			t.Fatalf("session %d: unexpected error %v", i, err)
		}
	}
	if winner < 0 {
		t.Fatalf("nobody signed up")
	}
	if _, err := svc.Login(ctx, "check", "race@example.com", fmt.Sprintf("pw%d", winner)); err != nil {
		t.Fatalf("the first account must not be overwritten: %v", err)
	}
	if ok, err := svc.Exists(ctx, " race@example.com "); err != nil || !ok {
		t.Fatalf("Exists: %v %v", ok, err)
	}
	if ok, _ := svc.Exists(ctx, "nobody@example.com"); ok {
		t.Fatalf("unknown email reported as existing")
	}
}
