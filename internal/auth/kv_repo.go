package auth

import (
	"context"
	"sync"

	"medisense/internal/storage"
)

const usersKey = "users"

// KVRepository keeps every account in one list under the "users" key.
type KVRepository struct {
	store storage.Store
	mu    sync.Mutex
}

func NewKVRepository(store storage.Store) *KVRepository {
	return &KVRepository{store: store}
}

func (r *KVRepository) LoadAll(ctx context.Context) ([]Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loadUnlocked(ctx)
}

func (r *KVRepository) Insert(ctx context.Context, a Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	users, err := r.loadUnlocked(ctx)
	if err != nil {
		return err
	}
	for _, u := range users {
		if u.Email == a.Email {
			return ErrAccountExists
		}
	}
	return r.saveUnlocked(ctx, append(users, a))
}

func (r *KVRepository) loadUnlocked(ctx context.Context) ([]Account, error) {
	var users []Account
	if _, err := storage.Load(ctx, r.store, usersKey, &users); err != nil {
		return nil, err
	}
	if users == nil {
		users = []Account{}
	}
	return users, nil
}

func (r *KVRepository) saveUnlocked(ctx context.Context, users []Account) error {
	return storage.Save(ctx, r.store, usersKey, users)
}
