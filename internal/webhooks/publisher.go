package webhooks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"guardwatch/internal/logging"
	"guardwatch/internal/store"
)

// Event types
const EventCriticalAlert = "alert.critical"

// Publisher enqueues signed deliveries of an event to every configured URL.
type Publisher struct {
	Store  store.Store
	URLs   []string
	Secret string
}

func NewPublisher(s store.Store, urls []string, secret string) *Publisher {
	return &Publisher{Store: s, URLs: urls, Secret: secret}
}

// Enabled reports whether any destination is configured.
func (p *Publisher) Enabled() bool { return p != nil && len(p.URLs) > 0 }

// Emit queues the event for every URL, even when some enqueues fail. id keys
// deduplication so a replayed event is delivered once.
func (p *Publisher) Emit(ctx context.Context, id, eventType string, data any) error {
	if !p.Enabled() {
		return nil
	}
	body, err := json.Marshal(map[string]any{
		"id":   id,
		"type": eventType,
		"ts":   time.Now().UTC().Format(time.RFC3339),
		"data": data,
	})
	if err != nil {
		return fmt.Errorf("encode webhook %s: %w", eventType, err)
	}
	var errs []error
	for _, u := range p.URLs {
		if _, err := p.Store.EnqueueWebhook(ctx, eventType, u, p.Secret, body); err != nil {
			logging.Error().Err(err).Str("url", u).Str("event", eventType).Msg("enqueue webhook")
			errs = append(errs, fmt.Errorf("enqueue %s: %w", u, err))
		}
	}
	return errors.Join(errs...)
}
