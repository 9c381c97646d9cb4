// Package prefs stores small per-session UI preferences.
package prefs

import (
	"context"
	"fmt"

	"medisense/internal/storage"
)

type Store struct {
	kv storage.Store
}

func New(kv storage.Store) *Store {
	return &Store{kv: kv}
}

func disclaimerKey(session string) string { return "disclaimerDismissed:" + session }

// DisclaimerDismissed reports whether the medical disclaimer was dismissed.
func (s *Store) DisclaimerDismissed(ctx context.Context, session string) (bool, error) {
	var v bool
	if _, err := storage.Load(ctx, s.kv, disclaimerKey(session), &v); err != nil {
		return false, fmt.Errorf("load disclaimer flag: %w", err)
	}
	return v, nil
}

func (s *Store) DismissDisclaimer(ctx context.Context, session string) error {
	if err := storage.Save(ctx, s.kv, disclaimerKey(session), true); err != nil {
		return fmt.Errorf("save disclaimer flag: %w", err)
	}
	return nil
}
