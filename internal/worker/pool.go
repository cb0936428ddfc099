package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"harvestflow/internal/broker"
	"harvestflow/internal/domain"
	"harvestflow/internal/registry"
	"harvestflow/internal/results"
)

const (
	DefaultConcurrency   = 8
	DefaultTaskTimeout   = 300 * time.Second
	DefaultShutdownGrace = 30 * time.Second

	abortWait      = 2 * time.Second
	writeTimeout   = 10 * time.Second
	dequeueBackoff = time.Second
)

type Stats struct {
	Processed int64 `json:"processed"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
	Skipped   int64 `json:"skipped"`
	Aborted   int64 `json:"aborted"`
	InFlight  int64 `json:"in_flight"`
}

type tracked struct {
	env       domain.Envelope
	finalized atomic.Bool
}

// Pool pulls envelopes from the broker and runs them on a fixed number of
// executors.
//
// A handler's side effects and the result write are not atomic: a crash in
// between may repeat the side effect on redelivery. Handlers for which that
// matters acquire a dedup guard before acting.
type Pool struct {
	broker  broker.Broker
	reg     *registry.Registry
	results results.Backend

	concurrency int
	taskTimeout time.Duration
	grace       time.Duration

	processed, succeeded, failed, skipped, aborted, inFlight atomic.Int64

	mu       sync.Mutex
	inflight map[uuid.UUID]*tracked
}

type Option func(*Pool)

func WithConcurrency(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

func WithTaskTimeout(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.taskTimeout = d
		}
	}
}

func WithShutdownGrace(d time.Duration) Option {
	return func(p *Pool) {
		if d >= 0 {
			p.grace = d
		}
	}
}

func NewPool(b broker.Broker, reg *registry.Registry, rs results.Backend, opts ...Option) *Pool {
	p := &Pool{
		broker:      b,
		reg:         reg,
		results:     rs,
		concurrency: DefaultConcurrency,
		taskTimeout: DefaultTaskTimeout,
		grace:       DefaultShutdownGrace,
		inflight:    make(map[uuid.UUID]*tracked),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Pool) Stats() Stats {
	return Stats{
		Processed: p.processed.Load(),
		Succeeded: p.succeeded.Load(),
		Failed:    p.failed.Load(),
		Skipped:   p.skipped.Load(),
		Aborted:   p.aborted.Load(),
		InFlight:  p.inFlight.Load(),
	}
}

// Run blocks until ctx is cancelled. In-flight tasks get the shutdown grace
// period to finish; whatever is still running after that is recorded as
// aborted.
func (p *Pool) Run(ctx context.Context) error {
	execCtx, cancelExec := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelExec()

	var wg sync.WaitGroup
	for i := 0; i < p.concurrency; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.executor(ctx, execCtx, id)
		}(i)
	}
	log.Info().Int("concurrency", p.concurrency).Dur("task_timeout", p.taskTimeout).Msg("worker pool started")

	stopped := make(chan struct{})
	go func() {
		wg.Wait()
		close(stopped)
	}()

	select {
	case <-stopped:
		return fmt.Errorf("all executors exited: %w", broker.ErrClosed)
	case <-ctx.Done():
	}

	log.Info().Int64("in_flight", p.inFlight.Load()).Dur("grace", p.grace).Msg("worker pool stopping")
	if waitFor(stopped, p.grace) {
		log.Info().Msg("worker pool stopped")
		return nil
	}

	cancelExec()
	n := p.abortOutstanding()
	log.Warn().Int("aborted", n).Msg("grace period elapsed, aborted in-flight tasks")
	if !waitFor(stopped, abortWait) {
		log.Warn().Msg("executors still busy after abort")
	}
	return nil
}

func waitFor(ch <-chan struct{}, d time.Duration) bool {
	if d <= 0 {
		select {
		case <-ch:
			return true
		default:
			return false
		}
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ch:
		return true
	case <-t.C:
		return false
	}
}

func (p *Pool) executor(ctx, execCtx context.Context, id int) {
	for {
		env, err := p.broker.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, broker.ErrClosed) {
				log.Warn().Int("executor", id).Msg("broker closed, executor exiting")
				return
			}
			log.Error().Err(err).Int("executor", id).Msg("dequeue failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(dequeueBackoff):
			}
			continue
		}
		p.process(execCtx, env)
	}
}

func (p *Pool) process(execCtx context.Context, env domain.Envelope) {
	t := &tracked{env: env}
	p.track(t)
	defer p.untrack(t)

	l := log.With().Str("task_id", env.ID.String()).Str("task", env.Name).Logger()
	start := time.Now()
	l.Debug().Int("retries", env.RetryCount).Msg("task started")

	out := p.execute(execCtx, env, l)
	if !t.finalized.CompareAndSwap(false, true) {
		return
	}
	res := toResult(env, out)
	p.record(res, l)
	l.Info().Str("status", string(res.Status)).Dur("duration", time.Since(start)).Msg("task completed")

	if len(out.FollowUps) > 0 {
		p.enqueueFollowUps(execCtx, out.FollowUps, l)
	}
}

func (p *Pool) execute(execCtx context.Context, env domain.Envelope, l zerolog.Logger) registry.Outcome {
	entry, err := p.reg.Resolve(env.Name)
	if err != nil {
		l.Warn().Msg("unknown task")
		return registry.Failed(domain.KindUnknownTask, err.Error(), nil)
	}
	args, err := registry.Bind(entry.Params, env.Args, env.Kwargs)
	if err != nil {
		return registry.Failed(domain.KindHandlerFailure, err.Error(), nil)
	}

	timeout := p.taskTimeout
	if entry.Timeout > 0 {
		timeout = entry.Timeout
	}
	taskCtx, cancel := context.WithTimeout(execCtx, timeout)
	defer cancel()
	taskCtx = l.WithContext(taskCtx)

	done := make(chan registry.Outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				l.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("handler panicked")
				done <- registry.Failed(domain.KindHandlerFailure, fmt.Sprintf("panic: %v", r), nil)
			}
		}()
		out, err := entry.Handler.Handle(taskCtx, args)
		if err != nil {
			out = registry.Failed(domain.KindHandlerFailure, err.Error(), out.Value)
		}
		done <- normalize(out)
	}()

	select {
	case out := <-done:
		if out.Status == domain.StatusFailure && out.Err.Kind == domain.KindHandlerFailure && taskCtx.Err() != nil {
			return interrupted(execCtx, timeout)
		}
		return out
	case <-taskCtx.Done():
		// The handler goroutine is abandoned; its context is already cancelled.
		return interrupted(execCtx, timeout)
	}
}

func interrupted(execCtx context.Context, timeout time.Duration) registry.Outcome {
	if execCtx.Err() != nil {
		return registry.Failed(domain.KindAborted, "worker shutting down", nil)
	}
	return registry.Failed(domain.KindTimeout, fmt.Sprintf("task exceeded %s", timeout), nil)
}

func normalize(out registry.Outcome) registry.Outcome {
	if out.Status == "" {
		out.Status = domain.StatusSuccess
	}
	if out.Status == domain.StatusFailure && out.Err == nil {
		out.Err = &domain.TaskError{Kind: domain.KindHandlerFailure, Message: "handler reported failure"}
	}
	return out
}

func toResult(env domain.Envelope, out registry.Outcome) domain.Result {
	res := domain.Result{
		TaskID:      env.ID,
		TaskName:    env.Name,
		Status:      out.Status,
		Error:       out.Err,
		CompletedAt: time.Now().UTC(),
	}
	if out.Value != nil {
		b, err := json.Marshal(out.Value)
		if err != nil {
			res.Status = domain.StatusFailure
			res.Error = &domain.TaskError{Kind: domain.KindHandlerFailure, Message: "unencodable result: " + err.Error()}
		} else {
			res.Value = b
		}
	}
	return res
}

func (p *Pool) record(res domain.Result, l zerolog.Logger) {
	p.processed.Add(1)
	switch {
	case res.Status == domain.StatusSuccess:
		p.succeeded.Add(1)
	case res.Status == domain.StatusSkipped:
		p.skipped.Add(1)
	case res.Error != nil && res.Error.Kind == domain.KindAborted:
		p.aborted.Add(1)
	default:
		p.failed.Add(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := p.results.Store(ctx, res); err != nil {
		l.Error().Err(err).Msg("failed to store result")
	}
}

func (p *Pool) enqueueFollowUps(execCtx context.Context, envs []domain.Envelope, l zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(execCtx), writeTimeout)
	defer cancel()
	for _, env := range envs {
		env.RetryCount = 0
		if env.ID == uuid.Nil {
			env.ID = uuid.New()
		}
		if err := p.broker.Enqueue(ctx, env); err != nil {
			l.Error().Err(err).Str("follow_up", env.Name).Msg("failed to enqueue follow-up")
			continue
		}
		l.Debug().Str("follow_up", env.Name).Str("follow_up_id", env.ID.String()).Msg("follow-up enqueued")
	}
}

func (p *Pool) track(t *tracked) {
	p.inFlight.Add(1)
	p.mu.Lock()
	p.inflight[t.env.ID] = t
	p.mu.Unlock()
}

func (p *Pool) untrack(t *tracked) {
	p.mu.Lock()
	delete(p.inflight, t.env.ID)
	p.mu.Unlock()
	p.inFlight.Add(-1)
}

func (p *Pool) abortOutstanding() int {
	p.mu.Lock()
	pending := make([]*tracked, 0, len(p.inflight))
	for _, t := range p.inflight {
		pending = append(pending, t)
	}
	p.mu.Unlock()

	n := 0
	for _, t := range pending {
		if !t.finalized.CompareAndSwap(false, true) {
			continue
		}
		l := log.With().Str("task_id", t.env.ID.String()).Str("task", t.env.Name).Logger()
		p.record(toResult(t.env, registry.Failed(domain.KindAborted, "worker shut down before task finished", nil)), l)
		n++
	}
	return n
}
