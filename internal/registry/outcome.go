package registry

import (
	"harvestflow/internal/domain"
)

// Outcome is what a handler hands back to the pool. FollowUps are enqueued by
// the pool after the result is written.
type Outcome struct {
	Status    domain.Status
	Value     any
	Err       *domain.TaskError
	FollowUps []domain.Envelope
}

func Success(v any) Outcome { return Outcome{Status: domain.StatusSuccess, Value: v} }

func Skipped(v any) Outcome { return Outcome{Status: domain.StatusSkipped, Value: v} }

// Upstream reports a failed dependency call (HTTP API, store, SMTP).
func Upstream(err error, v any) Outcome {
	return Failed(domain.KindUpstreamUnavailable, err.Error(), v)
}

func Failed(kind domain.ErrorKind, msg string, v any) Outcome {
	return Outcome{
		Status: domain.StatusFailure,
		Value:  v,
		Err:    &domain.TaskError{Kind: kind, Message: msg},
	}
}

func (o Outcome) Then(envs ...domain.Envelope) Outcome {
	o.FollowUps = append(o.FollowUps, envs...)
	return o
}
