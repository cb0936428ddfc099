package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"harvestflow/internal/store"
)

// LastFiredStore persists the instant each entry last fired.
type LastFiredStore interface {
	// LastFired reports ok=false when the entry has never fired.
	LastFired(ctx context.Context, name string) (t time.Time, ok bool, err error)
	SetLastFired(ctx context.Context, name string, t time.Time) error
}

// StoreState keeps fire instants in the key-value store as RFC3339Nano strings.
type StoreState struct {
	store store.Store
}

func NewStoreState(s store.Store) *StoreState { return &StoreState{store: s} }

func lastFiredKey(name string) string { return "beat:last_fired:" + name }

func (s *StoreState) LastFired(ctx context.Context, name string) (time.Time, bool, error) {
	raw, err := s.store.Get(ctx, lastFiredKey(name))
	if errors.Is(err, store.ErrNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("corrupt last fired for %s: %w", name, err)
	}
	return t.UTC(), true, nil
}

func (s *StoreState) SetLastFired(ctx context.Context, name string, t time.Time) error {
	return s.store.SetEx(ctx, lastFiredKey(name), t.UTC().Format(time.RFC3339Nano), 0)
}
