// Package app assembles the worker and scheduler processes from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"harvestflow/internal/analyticsapi"
	"harvestflow/internal/api"
	"harvestflow/internal/broker"
	"harvestflow/internal/config"
	"harvestflow/internal/fanout"
	"harvestflow/internal/guard"
	"harvestflow/internal/handlers"
	"harvestflow/internal/handlers/analytics"
	"harvestflow/internal/handlers/images"
	"harvestflow/internal/handlers/inventory"
	"harvestflow/internal/handlers/notification"
	"harvestflow/internal/mailer"
	"harvestflow/internal/registry"
	"harvestflow/internal/reports"
	"harvestflow/internal/results"
	"harvestflow/internal/scheduler"
	"harvestflow/internal/store"
	"harvestflow/internal/worker"
)

const httpShutdownTimeout = 5 * time.Second

// Stores holds one client per logical Redis database.
type Stores struct {
	Inventory     *store.Redis
	Notifications *store.Redis
	Analytics     *store.Redis
	Images        *store.Redis
	Beat          *store.Redis
}

// ConnectStores opens every store, closing the ones already open on failure.
func ConnectStores(ctx context.Context, cfg config.Redis) (*Stores, error) {
	s := &Stores{}
	for _, c := range []struct {
		db  int
		dst **store.Redis
	}{
		{cfg.DBInventory, &s.Inventory},
		{cfg.DBNotify, &s.Notifications},
		{cfg.DBAnalytics, &s.Analytics},
		{cfg.DBImages, &s.Images},
		{cfg.DBBeat, &s.Beat},
	} {
		r, err := store.Connect(ctx, cfg.Store(c.db))
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		*c.dst = r
	}
	return s, nil
}

func (s *Stores) all() []*store.Redis {
	return []*store.Redis{s.Inventory, s.Notifications, s.Analytics, s.Images, s.Beat}
}

func (s *Stores) Close() error {
	var errs []error
	for _, r := range s.all() {
		if r != nil {
			errs = append(errs, r.Close())
		}
	}
	return errors.Join(errs...)
}

// NewRegistry registers every task family against the given stores.
func NewRegistry(cfg config.Config, s *Stores) (*registry.Registry, error) {
	m, err := mailer.New(cfg.Mail())
	if err != nil {
		return nil, fmt.Errorf("mailer: %w", err)
	}
	sink := reports.NewSink(cfg.ReportsDir)
	reg := registry.New()
	err = handlers.RegisterAll(reg, handlers.Deps{
		Inventory: inventory.Deps{
			Store:   s.Inventory,
			Guard:   guard.New(s.Inventory),
			Fanout:  fanout.New(s.Inventory),
			Reports: sink,
		},
		Notification: notification.Deps{
			Mailer: m,
			Fanout: fanout.New(s.Notifications),
		},
		Analytics: analytics.Deps{
			Store:   s.Analytics,
			API:     analyticsapi.NewClient(cfg.Analytics.BaseURL, cfg.Analytics.Timeout, cfg.Analytics.RateLimit),
			Reports: sink,
		},
		Images: images.Deps{
			Store:     s.Images,
			Processor: images.Simulated{Unit: time.Second},
		},
	})
	if err != nil {
		return nil, err
	}
	return reg, nil
}

// NewBeat builds the beat from the configured schedule. Window claims and
// last-fire times live in st.
func NewBeat(cfg config.Config, b broker.Broker, st store.Store) (*scheduler.Beat, error) {
	entries, err := scheduler.Build(cfg.Schedule())
	if err != nil {
		return nil, err
	}
	return scheduler.New(b, scheduler.NewStoreState(st), entries,
		scheduler.WithGuard(guard.New(st)),
		scheduler.WithMaxSleep(cfg.Schedules.MaxSleep),
	), nil
}

// Worker is a running worker process: the pool plus its HTTP API.
type Worker struct {
	Broker   broker.Broker
	Results  results.Backend
	Stores   *Stores
	Registry *registry.Registry
	Pool     *worker.Pool

	addr    string
	handler http.Handler
}

func NewWorker(ctx context.Context, cfg config.Config, debug bool) (*Worker, error) {
	w := &Worker{}
	ok := false
	defer func() {
		if !ok {
			_ = w.Close()
		}
	}()

	var err error
	if w.Broker, err = broker.Open(ctx, cfg.BrokerURL, broker.Options{
		Queue:    cfg.QueueName,
		Prefetch: cfg.Concurrency,
	}); err != nil {
		return nil, err
	}
	if w.Results, err = results.Open(ctx, cfg.ResultBackendURL, cfg.ResultTTL); err != nil {
		return nil, err
	}
	if w.Stores, err = ConnectStores(ctx, cfg.Redis); err != nil {
		return nil, err
	}
	if w.Registry, err = NewRegistry(cfg, w.Stores); err != nil {
		return nil, err
	}
	w.Pool = worker.NewPool(w.Broker, w.Registry, w.Results,
		worker.WithConcurrency(cfg.Concurrency),
		worker.WithTaskTimeout(cfg.TaskTimeout),
		worker.WithShutdownGrace(cfg.ShutdownGrace),
	)

	if cfg.APIEnabled() {
		// The beat is not run here; it only answers /api/schedules.
		view, err := NewBeat(cfg, w.Broker, w.Stores.Beat)
		if err != nil {
			return nil, err
		}
		w.addr = cfg.APIAddr
		w.handler = api.NewServerWithDebug(api.Deps{
			Registry:      w.Registry,
			Broker:        w.Broker,
			Results:       w.Results,
			Notifications: fanout.New(w.Stores.Notifications),
			Schedules:     view,
			Stats:         w.Pool.Stats,
			Checks: map[string]func(context.Context) error{
				"broker":    func(ctx context.Context) error { _, err := w.Broker.Len(ctx); return err },
				"inventory": store.Healthcheck(w.Stores.Inventory),
				"notify":    store.Healthcheck(w.Stores.Notifications),
				"analytics": store.Healthcheck(w.Stores.Analytics),
				"images":    store.Healthcheck(w.Stores.Images),
			},
		}, debug)
	}
	ok = true
	return w, nil
}

// Run blocks until ctx is cancelled or a component fails.
func (w *Worker) Run(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error { return w.Pool.Run(ctx) })
	if w.handler != nil {
		eg.Go(serveHTTP(ctx, w.addr, w.handler))
	}
	return eg.Wait()
}

func (w *Worker) Close() error {
	var errs []error
	if w.Broker != nil {
		errs = append(errs, w.Broker.Close())
	}
	if w.Results != nil {
		errs = append(errs, w.Results.Close())
	}
	if w.Stores != nil {
		errs = append(errs, w.Stores.Close())
	}
	return errors.Join(errs...)
}

func serveHTTP(ctx context.Context, addr string, h http.Handler) func() error {
	return func() error {
		srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 10 * time.Second}
		errCh := make(chan error, 1)
		go func() {
			log.Info().Str("addr", addr).Msg("HTTP server starting")
			errCh <- srv.ListenAndServe()
		}()

		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("http shutdown")
			}
			<-errCh
			return nil
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("http server: %w", err)
		}
	}
}

// Scheduler is a running beat process.
type Scheduler struct {
	Broker broker.Broker
	Store  *store.Redis
	Beat   *scheduler.Beat
}

func NewScheduler(ctx context.Context, cfg config.Config) (*Scheduler, error) {
	b, err := broker.Open(ctx, cfg.BrokerURL, broker.Options{Queue: cfg.QueueName})
	if err != nil {
		return nil, err
	}
	st, err := store.Connect(ctx, cfg.Redis.Store(cfg.Redis.DBBeat))
	if err != nil {
		_ = b.Close()
		return nil, err
	}
	beat, err := NewBeat(cfg, b, st)
	if err != nil {
		_ = b.Close()
		_ = st.Close()
		return nil, err
	}
	return &Scheduler{Broker: b, Store: st, Beat: beat}, nil
}

func (s *Scheduler) Run(ctx context.Context) error { return s.Beat.Run(ctx) }

func (s *Scheduler) Close() error {
	return errors.Join(s.Broker.Close(), s.Store.Close())
}
