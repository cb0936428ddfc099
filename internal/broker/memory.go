package broker

import (
	"context"
	"sync"

	"harvestflow/internal/domain"
)

// Memory is an in-process broker backed by a buffered channel.
type Memory struct {
	ch   chan domain.Envelope
	done chan struct{}
	once sync.Once
}

func NewMemory(buffer int) *Memory {
	if buffer <= 0 {
		buffer = 1024
	}
	return &Memory{ch: make(chan domain.Envelope, buffer), done: make(chan struct{})}
}

func (m *Memory) Enqueue(ctx context.Context, env domain.Envelope) error {
	select {
	case <-m.done:
		return ErrClosed
	default:
	}
	select {
	case m.ch <- env:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrQueueFull
	}
}

func (m *Memory) Dequeue(ctx context.Context) (domain.Envelope, error) {
	if err := ctx.Err(); err != nil {
		return domain.Envelope{}, err
	}
	select {
	case env := <-m.ch:
		return env, nil
	case <-ctx.Done():
		return domain.Envelope{}, ctx.Err()
	case <-m.done:
		return domain.Envelope{}, ErrClosed
	}
}

func (m *Memory) Len(context.Context) (int64, error) { return int64(len(m.ch)), nil }

func (m *Memory) Close() error {
	m.once.Do(func() { close(m.done) })
	return nil
}
