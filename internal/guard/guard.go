// Package guard suppresses duplicate side effects with expiring flags.
//
// A flag is acquired with an atomic SET NX EX and is never released: expiry is
// the only way a subject becomes eligible again, so a worker that crashes
// while holding a flag cannot block the subject forever.
package guard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"harvestflow/internal/store"
)

var ErrInvalidTTL = errors.New("guard ttl must be positive")

type Guard struct {
	store store.Store
}

func New(s store.Store) *Guard { return &Guard{store: s} }

// Key is the store key holding the flag for (scope, subjectID).
func Key(scope, subjectID string) string { return scope + ":" + subjectID }

// TryAcquire reports true only to the first caller for (scope, subjectID)
// until ttl elapses.
func (g *Guard) TryAcquire(ctx context.Context, scope, subjectID string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, ErrInvalidTTL
	}
	ok, err := g.store.SetNX(ctx, Key(scope, subjectID), "true", ttl)
	if err != nil {
		return false, fmt.Errorf("acquire %s: %w", Key(scope, subjectID), err)
	}
	return ok, nil
}
