// Package fanout delivers transient events over pub/sub. Delivery is
// at-most-once to whoever is subscribed; a bounded history list keeps recent
// events for subjects that were offline.
package fanout

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"harvestflow/internal/store"
)

// History bounds a per-subject event list.
type History struct {
	MaxLen int64
	TTL    time.Duration
}

type Notifier struct {
	store store.Store
}

func New(s store.Store) *Notifier { return &Notifier{store: s} }

// Publish sends msg to channel and returns the receiver count. It never fails:
// errors are logged and zero subscribers is a normal outcome.
func (n *Notifier) Publish(ctx context.Context, channel string, msg any) int64 {
	payload, err := encode(msg)
	if err != nil {
		log.Error().Err(err).Str("channel", channel).Msg("failed to encode event")
		return 0
	}
	receivers, err := n.store.Publish(ctx, channel, payload)
	if err != nil {
		log.Warn().Err(err).Str("channel", channel).Msg("publish failed")
		return 0
	}
	return receivers
}

// PublishWithHistory publishes msg and prepends it to historyKey, trimming the
// list to h.MaxLen and refreshing its TTL.
func (n *Notifier) PublishWithHistory(ctx context.Context, channel, historyKey string, msg any, h History) int64 {
	receivers := n.Publish(ctx, channel, msg)

	payload, err := encode(msg)
	if err != nil {
		return receivers
	}
	if _, err := n.store.LPush(ctx, historyKey, payload); err != nil {
		log.Warn().Err(err).Str("key", historyKey).Msg("history append failed")
		return receivers
	}
	if h.MaxLen > 0 {
		if err := n.store.LTrim(ctx, historyKey, 0, h.MaxLen-1); err != nil {
			log.Warn().Err(err).Str("key", historyKey).Msg("history trim failed")
		}
	}
	if h.TTL > 0 {
		if err := n.store.Expire(ctx, historyKey, h.TTL); err != nil {
			log.Warn().Err(err).Str("key", historyKey).Msg("history expire failed")
		}
	}
	return receivers
}

// History returns up to limit entries of historyKey, newest first.
func (n *Notifier) History(ctx context.Context, historyKey string, limit int64) ([]json.RawMessage, error) {
	if limit <= 0 {
		limit = 20
	}
	items, err := n.store.LRange(ctx, historyKey, 0, limit-1)
	if err != nil {
		return nil, err
	}
	out := make([]json.RawMessage, 0, len(items))
	for _, it := range items {
		out = append(out, json.RawMessage(it))
	}
	return out, nil
}

func encode(msg any) (string, error) {
	switch m := msg.(type) {
	case string:
		return m, nil
	case []byte:
		return string(m), nil
	default:
		b, err := json.Marshal(m)
		return string(b), err
	}
}
