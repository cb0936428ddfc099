package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EnvelopeVersion is the wire format version written by EncodeEnvelope.
const EnvelopeVersion = 1

var (
	ErrMalformedEnvelope  = errors.New("malformed envelope")
	ErrUnsupportedVersion = errors.New("unsupported envelope version")
)

type wireEnvelope struct {
	V          int            `json:"v"`
	ID         uuid.UUID      `json:"id"`
	Task       string         `json:"task"`
	Args       []any          `json:"args"`
	Kwargs     map[string]any `json:"kwargs"`
	EnqueuedAt time.Time      `json:"enqueued_at"`
	Retries    int            `json:"retries"`
}

func EncodeEnvelope(e Envelope) ([]byte, error) {
	if e.Name == "" || e.ID == uuid.Nil {
		return nil, fmt.Errorf("%w: id and task name are required", ErrMalformedEnvelope)
	}
	w := wireEnvelope{
		V:          EnvelopeVersion,
		ID:         e.ID,
		Task:       e.Name,
		Args:       e.Args,
		Kwargs:     e.Kwargs,
		EnqueuedAt: e.EnqueuedAt,
		Retries:    e.RetryCount,
	}
	if w.Args == nil {
		w.Args = []any{}
	}
	if w.Kwargs == nil {
		w.Kwargs = map[string]any{}
	}
	return json.Marshal(w)
}

// DecodeEnvelope parses a wire envelope. Numbers come back as int64 when they
// are integral and float64 otherwise, so integer arguments survive a round trip.
func DecodeEnvelope(data []byte) (Envelope, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var w wireEnvelope
	if err := dec.Decode(&w); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if w.V == 0 {
		w.V = EnvelopeVersion
	}
	if w.V != EnvelopeVersion {
		return Envelope{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, w.V)
	}
	if w.Task == "" {
		return Envelope{}, fmt.Errorf("%w: missing task name", ErrMalformedEnvelope)
	}
	if w.ID == uuid.Nil {
		return Envelope{}, fmt.Errorf("%w: missing id", ErrMalformedEnvelope)
	}

	e := Envelope{
		ID:         w.ID,
		Name:       w.Task,
		Args:       make([]any, 0, len(w.Args)),
		Kwargs:     make(map[string]any, len(w.Kwargs)),
		EnqueuedAt: w.EnqueuedAt,
		RetryCount: w.Retries,
	}
	for _, a := range w.Args {
		e.Args = append(e.Args, normalize(a))
	}
	for k, v := range w.Kwargs {
		e.Kwargs[k] = normalize(v)
	}
	return e, nil
}

func normalize(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = normalize(t[i])
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, x := range t {
			out[k] = normalize(x)
		}
		return out
	default:
		return v
	}
}
