package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	// StatusSkipped marks a task whose side effect was denied by a dedup guard.
	StatusSkipped Status = "skipped"
)

type ErrorKind string

const (
	KindUnknownTask         ErrorKind = "UnknownTask"
	KindHandlerFailure      ErrorKind = "HandlerFailure"
	KindTimeout             ErrorKind = "Timeout"
	KindUpstreamUnavailable ErrorKind = "UpstreamUnavailable"
	KindAborted             ErrorKind = "Aborted"
)

// Envelope is a single unit of queued work. It is never mutated after enqueue.
type Envelope struct {
	ID         uuid.UUID
	Name       string
	Args       []any
	Kwargs     map[string]any
	EnqueuedAt time.Time
	RetryCount int
}

// NewEnvelope stamps a fresh id and enqueue time.
func NewEnvelope(name string, args []any, kwargs map[string]any) Envelope {
	if args == nil {
		args = []any{}
	}
	if kwargs == nil {
		kwargs = map[string]any{}
	}
	return Envelope{
		ID:         uuid.New(),
		Name:       name,
		Args:       args,
		Kwargs:     kwargs,
		EnqueuedAt: time.Now().UTC(),
	}
}

type TaskError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (e *TaskError) Error() string { return string(e.Kind) + ": " + e.Message }

// Result is the outcome of one envelope, written once to the result backend.
type Result struct {
	TaskID      uuid.UUID       `json:"task_id"`
	TaskName    string          `json:"task_name"`
	Status      Status          `json:"status"`
	Value       json.RawMessage `json:"value,omitempty"`
	Error       *TaskError      `json:"error,omitempty"`
	CompletedAt time.Time       `json:"completed_at"`
}
