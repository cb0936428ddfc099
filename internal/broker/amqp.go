package broker

import (
	"context"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"

	"harvestflow/internal/domain"
)

// AMQP publishes envelopes to a durable RabbitMQ queue through the default
// exchange. Deliveries are acked once decoded, before the handler runs.
type AMQP struct {
	url      string
	queue    string
	prefetch int

	mu   sync.Mutex
	conn *amqp.Connection
	pub  *amqp.Channel

	consumeOnce sync.Once
	consumeErr  error
	deliveries  <-chan amqp.Delivery
}

func DialAMQP(url, queue string, prefetch int) (*AMQP, error) {
	if prefetch <= 0 {
		prefetch = 1
	}
	a := &AMQP{url: url, queue: queue, prefetch: prefetch}
	if err := a.ensureConnection(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *AMQP) ensureConnection() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn != nil && !a.conn.IsClosed() {
		return nil
	}
	conn, err := amqp.Dial(a.url)
	if err != nil {
		return fmt.Errorf("rabbitmq dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("rabbitmq channel: %w", err)
	}
	if _, err := ch.QueueDeclare(a.queue, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return fmt.Errorf("rabbitmq declare %s: %w", a.queue, err)
	}
	a.conn, a.pub = conn, ch
	return nil
}

func (a *AMQP) Enqueue(ctx context.Context, env domain.Envelope) error {
	data, err := domain.EncodeEnvelope(env)
	if err != nil {
		return err
	}
	if err := a.ensureConnection(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	err = a.pub.PublishWithContext(ctx, "", a.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    env.ID.String(),
		Timestamp:    env.EnqueuedAt,
		Type:         env.Name,
		Body:         data,
	})
	if err != nil {
		return fmt.Errorf("rabbitmq publish %s: %w", env.Name, err)
	}
	return nil
}

func (a *AMQP) startConsumer() error {
	a.consumeOnce.Do(func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		ch, err := a.conn.Channel()
		if err != nil {
			a.consumeErr = fmt.Errorf("rabbitmq consumer channel: %w", err)
			return
		}
		if err := ch.Qos(a.prefetch, 0, false); err != nil {
			a.consumeErr = fmt.Errorf("rabbitmq qos: %w", err)
			return
		}
		d, err := ch.Consume(a.queue, "", false, false, false, false, nil)
		if err != nil {
			a.consumeErr = fmt.Errorf("rabbitmq consume: %w", err)
			return
		}
		a.deliveries = d
	})
	return a.consumeErr
}

func (a *AMQP) Dequeue(ctx context.Context) (domain.Envelope, error) {
	if err := a.startConsumer(); err != nil {
		return domain.Envelope{}, err
	}
	for {
		select {
		case <-ctx.Done():
			return domain.Envelope{}, ctx.Err()
		case d, ok := <-a.deliveries:
			if !ok {
				return domain.Envelope{}, ErrClosed
			}
			env, err := domain.DecodeEnvelope(d.Body)
			if err != nil {
				log.Warn().Err(err).Str("queue", a.queue).Msg("rejecting undecodable envelope")
				_ = d.Nack(false, false)
				continue
			}
			if err := d.Ack(false); err != nil {
				log.Error().Err(err).Str("task_id", env.ID.String()).Msg("ack failed")
			}
			return env, nil
		}
	}
}

func (a *AMQP) Len(ctx context.Context) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	q, err := a.pub.QueueDeclarePassive(a.queue, true, false, false, false, nil)
	if err != nil {
		return 0, err
	}
	return int64(q.Messages), nil
}

func (a *AMQP) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn == nil || a.conn.IsClosed() {
		return nil
	}
	return a.conn.Close()
}
