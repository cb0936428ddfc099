// Package scheduler runs the beat: a single loop that enqueues envelopes for
// named entries when their triggers come due.
package scheduler

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"harvestflow/internal/broker"
	"harvestflow/internal/domain"
)

const (
	DefaultMaxSleep = time.Minute
	windowClaimTTL  = 24 * time.Hour
)

type State int32

const (
	StateIdle State = iota
	StateComputeNextFire
	StateSleeping
	StateFiring
)

func (s State) String() string {
	switch s {
	case StateComputeNextFire:
		return "compute_next_fire"
	case StateSleeping:
		return "sleeping"
	case StateFiring:
		return "firing"
	default:
		return "idle"
	}
}

// Entry is one periodic task.
type Entry struct {
	Name     string
	TaskName string
	Trigger  Trigger
	Args     []any
	Kwargs   map[string]any
}

// WindowGuard claims a fire window so concurrent beats do not double-fire it.
type WindowGuard interface {
	TryAcquire(ctx context.Context, scope, subjectID string, ttl time.Duration) (bool, error)
}

// EntryStatus is a point-in-time view of an entry for the HTTP API.
type EntryStatus struct {
	Name     string     `json:"name"`
	Task     string     `json:"task"`
	Trigger  string     `json:"trigger"`
	LastFire *time.Time `json:"last_fire,omitempty"`
	NextFire time.Time  `json:"next_fire"`
}

type slot struct {
	Entry
	next time.Time
}

type Beat struct {
	broker   broker.Broker
	state    LastFiredStore
	guard    WindowGuard
	now      func() time.Time
	maxSleep time.Duration

	mu     sync.Mutex
	slots  []*slot
	phase  atomic.Int32
	loaded bool
}

type Option func(*Beat)

func WithClock(now func() time.Time) Option { return func(b *Beat) { b.now = now } }

func WithMaxSleep(d time.Duration) Option {
	return func(b *Beat) {
		if d > 0 {
			b.maxSleep = d
		}
	}
}

func WithGuard(g WindowGuard) Option { return func(b *Beat) { b.guard = g } }

func New(b broker.Broker, st LastFiredStore, entries []Entry, opts ...Option) *Beat {
	beat := &Beat{
		broker:   b,
		state:    st,
		now:      time.Now,
		maxSleep: DefaultMaxSleep,
	}
	for _, e := range entries {
		beat.slots = append(beat.slots, &slot{Entry: e})
	}
	for _, opt := range opts {
		opt(beat)
	}
	return beat
}

func (b *Beat) State() State { return State(b.phase.Load()) }

// Load computes the first fire time of every entry from its persisted last
// fire. An entry that never fired uses the current time as its baseline.
func (b *Beat) Load(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.load(ctx)
}

func (b *Beat) load(ctx context.Context) {
	b.phase.Store(int32(StateComputeNextFire))
	now := b.now().UTC()
	for _, s := range b.slots {
		base := now
		last, ok, err := b.state.LastFired(ctx, s.Name)
		switch {
		case err != nil:
			log.Warn().Err(err).Str("entry", s.Name).Msg("failed to load last fire, using now")
		case ok:
			base = last
		}
		s.next = s.Trigger.Next(base)
		log.Info().Str("entry", s.Name).Str("task", s.TaskName).Time("next_fire", s.next).Msg("schedule loaded")
	}
	b.loaded = true
	b.phase.Store(int32(StateIdle))
}

// Tick fires every due entry once and returns how many envelopes were enqueued.
func (b *Beat) Tick(ctx context.Context) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.loaded {
		b.load(ctx)
	}

	b.phase.Store(int32(StateFiring))
	defer b.phase.Store(int32(StateIdle))

	now := b.now().UTC()
	fired := 0
	for _, s := range b.slots {
		if s.next.After(now) {
			continue
		}
		if b.fire(ctx, s, now) {
			fired++
		}
		// Missed windows collapse into this single fire.
		s.next = s.Trigger.Next(now)
	}
	return fired
}

func (b *Beat) fire(ctx context.Context, s *slot, now time.Time) bool {
	l := log.With().Str("entry", s.Name).Str("task", s.TaskName).Logger()

	if b.guard != nil {
		window := strconv.FormatInt(s.next.Unix(), 10)
		ok, err := b.guard.TryAcquire(ctx, "beat", s.Name+":"+window, windowClaimTTL)
		if err != nil {
			l.Error().Err(err).Msg("failed to claim fire window")
			return false
		}
		if !ok {
			l.Debug().Str("window", window).Msg("fire window already claimed")
			return false
		}
	}

	env := domain.NewEnvelope(s.TaskName, cloneArgs(s.Args), cloneKwargs(s.Kwargs))
	if err := b.broker.Enqueue(ctx, env); err != nil {
		l.Error().Err(err).Msg("failed to enqueue scheduled task")
		return false
	}
	if err := b.state.SetLastFired(ctx, s.Name, now); err != nil {
		l.Error().Err(err).Msg("failed to persist last fire")
	}
	l.Info().Str("task_id", env.ID.String()).Msg("scheduled task enqueued")
	return true
}

// Run loops until ctx is cancelled.
func (b *Beat) Run(ctx context.Context) error {
	b.Load(ctx)
	log.Info().Int("entries", len(b.slots)).Dur("max_sleep", b.maxSleep).Msg("beat started")

	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	for {
		b.phase.Store(int32(StateComputeNextFire))
		wait := b.untilNext()

		b.phase.Store(int32(StateSleeping))
		timer.Reset(wait)
		select {
		case <-ctx.Done():
			b.phase.Store(int32(StateIdle))
			log.Info().Msg("beat stopped")
			return nil
		case <-timer.C:
		}
		b.Tick(ctx)
	}
}

func (b *Beat) untilNext() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	wait := b.maxSleep
	now := b.now()
	for _, s := range b.slots {
		if d := s.next.Sub(now); d < wait {
			wait = d
		}
	}
	if wait < 0 {
		wait = 0
	}
	return wait
}

// Snapshot reads persisted fire times and reports the next fire of each entry.
func (b *Beat) Snapshot(ctx context.Context) ([]EntryStatus, error) {
	now := b.now().UTC()
	out := make([]EntryStatus, 0, len(b.slots))
	for _, s := range b.slots {
		st := EntryStatus{Name: s.Name, Task: s.TaskName, Trigger: s.Trigger.String()}
		last, ok, err := b.state.LastFired(ctx, s.Name)
		if err != nil {
			return nil, err
		}
		base := now
		if ok {
			st.LastFire = &last
			base = last
		}
		st.NextFire = s.Trigger.Next(base)
		out = append(out, st)
	}
	return out, nil
}

func cloneArgs(in []any) []any {
	out := make([]any, len(in))
	copy(out, in)
	return out
}

func cloneKwargs(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
