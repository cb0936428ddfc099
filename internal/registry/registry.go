// Package registry maps task names to handlers. A Registry is built once at
// process start, sealed, and then only read.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

var (
	ErrDuplicateTaskName = errors.New("duplicate task name")
	ErrUnknownTask       = errors.New("unknown task")
	ErrRegistrySealed    = errors.New("registry is sealed")
)

type Handler interface {
	Handle(ctx context.Context, args Args) (Outcome, error)
}

type HandlerFunc func(ctx context.Context, args Args) (Outcome, error)

func (f HandlerFunc) Handle(ctx context.Context, args Args) (Outcome, error) { return f(ctx, args) }

// Entry is a registered task. Timeout of zero means the pool default applies.
type Entry struct {
	Name    string
	Handler Handler
	Timeout time.Duration
	Params  []Param
}

type Option func(*Entry)

func WithTimeout(d time.Duration) Option { return func(e *Entry) { e.Timeout = d } }

func WithParams(params ...Param) Option { return func(e *Entry) { e.Params = params } }

type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	sealed  bool
}

func New() *Registry {
	return &Registry{entries: make(map[string]*Entry)}
}

func (r *Registry) Register(name string, h Handler, opts ...Option) error {
	if name == "" {
		return errors.New("task name is required")
	}
	if h == nil {
		return fmt.Errorf("task %q: handler is nil", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return fmt.Errorf("%w: cannot register %q", ErrRegistrySealed, name)
	}
	if _, ok := r.entries[name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateTaskName, name)
	}
	e := &Entry{Name: name, Handler: h}
	for _, opt := range opts {
		opt(e)
	}
	r.entries[name] = e
	return nil
}

func (r *Registry) MustRegister(name string, h Handler, opts ...Option) {
	if err := r.Register(name, h, opts...); err != nil {
		panic(err)
	}
}

// Resolve returns the entry registered under name. The same *Entry is
// returned on every call.
func (r *Registry) Resolve(name string) (*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTask, name)
	}
	return e, nil
}

// Seal ends the registration phase.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for n := range r.entries {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
