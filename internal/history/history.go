// Package history keeps the per-user prediction logs.
package history

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"medisense/internal/storage"
)

// ErrPersistenceSkipped is returned when a save is attempted without a
// signed-in user. Callers log it and carry on.
var ErrPersistenceSkipped = errors.New("cannot save prediction: no user logged in")

// TimestampLayout matches JavaScript's Date.toISOString.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

type Record struct {
	Timestamp string `json:"timestamp"`
	Symptoms  string `json:"symptoms"`
	Condition string `json:"condition"`
}

// Log is one user's prediction history, newest first.
type Log struct {
	Email       string   `json:"email"`
	Predictions []Record `json:"predictions"`
}

type Repository interface {
	Get(ctx context.Context, email string) (Log, bool, error)
	Upsert(ctx context.Context, l Log) error
	All(ctx context.Context) ([]Log, error)
}

type Service struct {
	repo Repository
	now  func() time.Time
	mu   sync.Mutex
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Get returns the user's log, creating an empty one on first access.
func (s *Service) Get(ctx context.Context, email string) (Log, error) {
	if email == "" {
		log.Printf("⚠️ Cannot get predictions: No user logged in")
		return Log{Predictions: []Record{}}, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getUnlocked(ctx, email)
}

func (s *Service) getUnlocked(ctx context.Context, email string) (Log, error) {
	l, ok, err := s.repo.Get(ctx, email)
	if err != nil {
		return Log{}, fmt.Errorf("load predictions for %s: %w", email, err)
	}
	if ok {
		if l.Predictions == nil {
			l.Predictions = []Record{}
		}
		return l, nil
	}
	l = Log{Email: email, Predictions: []Record{}}
	if err := s.repo.Upsert(ctx, l); err != nil {
		return Log{}, fmt.Errorf("create predictions for %s: %w", email, err)
	}
	return l, nil
}

// Init makes sure an (empty) log exists for email.
func (s *Service) Init(ctx context.Context, email string) error {
	_, err := s.Get(ctx, email)
	return err
}

// Save prepends a record stamped with the current time.
func (s *Service) Save(ctx context.Context, email, symptoms, condition string) (Record, error) {
	if email == "" {
		return Record{}, ErrPersistenceSkipped
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	l, err := s.getUnlocked(ctx, email)
	if err != nil {
		return Record{}, err
	}
	rec := Record{
		Timestamp: s.now().UTC().Format(TimestampLayout),
		Symptoms:  symptoms,
		Condition: condition,
	}
	l.Predictions = append([]Record{rec}, l.Predictions...)
	if err := s.repo.Upsert(ctx, l); err != nil {
		return Record{}, fmt.Errorf("save prediction for %s: %w", email, err)
	}
	return rec, nil
}

// KVRepository stores every log in one collection under a single key, the
// layout the browser client used in local storage.
type KVRepository struct {
	store storage.Store
	key   string
	mu    sync.Mutex
}

const DefaultKey = "userPredictions"

func NewKVRepository(store storage.Store) *KVRepository {
	return &KVRepository{store: store, key: DefaultKey}
}

func (r *KVRepository) Get(ctx context.Context, email string) (Log, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	all, err := r.loadUnlocked(ctx)
	if err != nil {
		return Log{}, false, err
	}
	for _, l := range all {
		if l.Email == email {
			return l, true, nil
		}
	}
	return Log{}, false, nil
}

func (r *KVRepository) Upsert(ctx context.Context, l Log) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	all, err := r.loadUnlocked(ctx)
	if err != nil {
		return err
	}
	updated := false
	for i, x := range all {
		if x.Email == l.Email {
			all[i] = l
			updated = true
			break
		}
	}
	if !updated {
		all = append(all, l)
	}
	return storage.Save(ctx, r.store, r.key, all)
}

func (r *KVRepository) All(ctx context.Context) ([]Log, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loadUnlocked(ctx)
}

func (r *KVRepository) loadUnlocked(ctx context.Context) ([]Log, error) {
	var all []Log
	if _, err := storage.Load(ctx, r.store, r.key, &all); err != nil {
		return nil, err
	}
	return all, nil
}
