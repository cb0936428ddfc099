// Package api exposes the HTTP surface of a worker process: task submission,
// result lookup, schedules, notification history, health and metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/pprof"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"harvestflow/internal/broker"
	"harvestflow/internal/domain"
	"harvestflow/internal/fanout"
	"harvestflow/internal/handlers/notification"
	"harvestflow/internal/registry"
	"harvestflow/internal/results"
	"harvestflow/internal/scheduler"
	"harvestflow/internal/worker"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
	recentResults       = 50
	maxBodyBytes        = 1 << 20
)

// Schedules reports the beat's entries.
type Schedules interface {
	Snapshot(ctx context.Context) ([]scheduler.EntryStatus, error)
}

// RecentResults is implemented by result backends that can list what they hold.
type RecentResults interface {
	ListRecent(ctx context.Context, limit int) ([]domain.Result, error)
}

type Deps struct {
	Registry      *registry.Registry
	Broker        broker.Broker
	Results       results.Backend
	Notifications *fanout.Notifier
	Schedules     Schedules
	Stats         func() worker.Stats
	// Checks are run by /health; the key names the dependency.
	Checks map[string]func(context.Context) error
}

type Server struct {
	r *chi.Mux
	Deps
}

var validate = validator.New()

func NewServer(d Deps) http.Handler {
	return NewServerWithDebug(d, false)
}

func NewServerWithDebug(d Deps, enableDebug bool) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)

	s := &Server{r: r, Deps: d}

	r.Get("/health", s.health)
	r.Get("/metrics", s.metrics)
	r.Post("/api/tasks", s.submitTask)
	r.Post("/api/tasks/{name}", s.submitNamedTask)
	r.Get("/api/tasks/{id}", s.getTask)
	r.Get("/api/schedules", s.listSchedules)
	r.Get("/api/users/{id}/notifications", s.notifications)

	r.Get("/", s.dashboard)
	r.Get("/dashboard", s.dashboard)

	if enableDebug {
		r.HandleFunc("/debug/pprof/", pprof.Index)
		r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		r.HandleFunc("/debug/pprof/profile", pprof.Profile)
		r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		r.HandleFunc("/debug/pprof/trace", pprof.Trace)
		r.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
		r.Handle("/debug/pprof/heap", pprof.Handler("heap"))
		r.Handle("/debug/pprof/threadcreate", pprof.Handler("threadcreate"))
		r.Handle("/debug/pprof/block", pprof.Handler("block"))
	}

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	var errs []error
	for name, check := range s.Checks {
		if err := check(r.Context()); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		log.Warn().Err(err).Msg("health check failed")
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) metrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("content-type", "text/plain; version=0.0.4")
	w.WriteHeader(http.StatusOK)

	fmt.Fprintln(w, "harvestflow_up 1")
	if s.Stats != nil {
		st := s.Stats()
		fmt.Fprintf(w, "harvestflow_tasks_processed_total %d\n", st.Processed)
		fmt.Fprintf(w, "harvestflow_tasks_succeeded_total %d\n", st.Succeeded)
		fmt.Fprintf(w, "harvestflow_tasks_failed_total %d\n", st.Failed)
		fmt.Fprintf(w, "harvestflow_tasks_skipped_total %d\n", st.Skipped)
		fmt.Fprintf(w, "harvestflow_tasks_aborted_total %d\n", st.Aborted)
		fmt.Fprintf(w, "harvestflow_tasks_in_flight %d\n", st.InFlight)
	}
	if s.Broker != nil {
		if n, err := s.Broker.Len(r.Context()); err == nil {
			fmt.Fprintf(w, "harvestflow_queue_depth %d\n", n)
		}
	}
}

type submitReq struct {
	TaskName string         `json:"taskName" validate:"required"`
	Args     []any          `json:"args"`
	Kwargs   map[string]any `json:"kwargs"`
}

type submitResp struct {
	Success  bool   `json:"success"`
	TaskID   string `json:"taskId"`
	TaskName string `json:"taskName"`
}

func (s *Server) submitTask(w http.ResponseWriter, r *http.Request) {
	var req submitReq
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "taskName is required")
		return
	}
	s.enqueue(w, r, req)
}

func (s *Server) submitNamedTask(w http.ResponseWriter, r *http.Request) {
	var req submitReq
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.TaskName = chi.URLParam(r, "name")
	s.enqueue(w, r, req)
}

func (s *Server) enqueue(w http.ResponseWriter, r *http.Request, req submitReq) {
	if _, err := s.Registry.Resolve(req.TaskName); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	env := domain.NewEnvelope(req.TaskName, req.Args, req.Kwargs)
	if err := s.Broker.Enqueue(r.Context(), env); err != nil {
		log.Error().Err(err).Str("task", req.TaskName).Msg("enqueue failed")
		code := http.StatusInternalServerError
		if errors.Is(err, broker.ErrQueueFull) || errors.Is(err, broker.ErrClosed) {
			code = http.StatusServiceUnavailable
		}
		writeError(w, code, err.Error())
		return
	}
	log.Info().Str("task_id", env.ID.String()).Str("task", env.Name).Msg("task submitted")
	writeJSON(w, http.StatusAccepted, submitResp{Success: true, TaskID: env.ID.String(), TaskName: env.Name})
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}
	res, err := s.Results.Get(r.Context(), id)
	switch {
	case errors.Is(err, results.ErrNotFound):
		writeJSON(w, http.StatusAccepted, map[string]any{"taskId": id.String(), "status": "pending"})
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

func (s *Server) listSchedules(w http.ResponseWriter, r *http.Request) {
	if s.Schedules == nil {
		writeError(w, http.StatusNotFound, "no schedule configured")
		return
	}
	entries, err := s.Schedules.Snapshot(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) notifications(w http.ResponseWriter, r *http.Request) {
	if s.Notifications == nil {
		writeError(w, http.StatusNotFound, "notifications not configured")
		return
	}
	limit := int64(defaultHistoryLimit)
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}
	userID := chi.URLParam(r, "id")
	items, err := s.Notifications.History(r.Context(), notification.HistoryKey(userID), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "userId": userID, "notifications": items})
}

func (s *Server) dashboard(w http.ResponseWriter, r *http.Request) {
	view := dashboardView{GeneratedAt: time.Now().UTC(), Tasks: s.Registry.Names()}
	if s.Stats != nil {
		st := s.Stats()
		view.Stats = &st
	}
	if s.Broker != nil {
		if n, err := s.Broker.Len(r.Context()); err == nil {
			view.QueueDepth = n
		}
	}
	if s.Schedules != nil {
		if entries, err := s.Schedules.Snapshot(r.Context()); err == nil {
			view.Schedules = entries
		}
	}
	if lister, ok := s.Results.(RecentResults); ok {
		if recent, err := lister.ListRecent(r.Context(), recentResults); err == nil {
			view.Recent = recent
		}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := dashboardTmpl.Execute(w, view); err != nil {
		log.Error().Err(err).Msg("render dashboard")
	}
}

// decode reads an optional JSON body; an empty body leaves v untouched.
func decode(r *http.Request, v any) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"success": false, "error": msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
