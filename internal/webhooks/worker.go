package webhooks

import (
	"bytes"
	"context"
	"net/http"
	"strconv"
	"time"

	"guardwatch/internal/logging"
	"guardwatch/internal/metrics"
	"guardwatch/internal/store"
)

// Worker polls the delivery outbox and POSTs due deliveries.
type Worker struct {
	Store       store.Store
	HTTP        *http.Client
	MaxAttempts int
	Interval    time.Duration
	BatchSize   int
}

func NewWorker(s store.Store, maxAttempts int) *Worker {
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	return &Worker{Store: s, HTTP: &http.Client{Timeout: 5 * time.Second}, MaxAttempts: maxAttempts, Interval: time.Second, BatchSize: 50}
}

// Serve runs until ctx is cancelled.
func (w *Worker) Serve(ctx context.Context) error {
	interval := w.Interval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.processOnce(ctx)
		}
	}
}

func (w *Worker) String() string { return "webhook-worker" }

func (w *Worker) processOnce(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, 10*time.Second)
	defer cancel()
	items, err := w.Store.FetchDueWebhookDeliveries(ctx, w.BatchSize)
	if err != nil {
		logging.Warn().Err(err).Msg("fetch due webhook deliveries")
		return
	}
	for _, it := range items {
		w.deliver(ctx, it)
	}
}

func (w *Worker) deliver(ctx context.Context, it store.WebhookDelivery) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, it.URL, bytes.NewReader(it.Payload))
	if err != nil {
		_ = w.Store.FailWebhookDelivery(ctx, it.ID, err.Error(), 0, 0)
		metrics.WebhookDeliveries.WithLabelValues(it.EventType, "invalid").Inc()
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Type", it.EventType)
	if it.Secret != "" {
		req.Header.Set("X-Signature", SignHMAC(it.Secret, it.Payload))
	}

	start := time.Now()
	resp, err := w.HTTP.Do(req)
	elapsed := time.Since(start)
	code := 0
	success := false
	if err == nil {
		code = resp.StatusCode
		_ = resp.Body.Close()
		success = code >= 200 && code < 300
	}
	lastErr := ""
	switch {
	case err != nil:
		lastErr = err.Error()
	case !success:
		lastErr = "http " + strconv.Itoa(code)
	}
	latency := int(elapsed.Milliseconds())
	status := "retry"
	switch {
	case success:
		status = "delivered"
	case it.Attempts+1 >= w.MaxAttempts:
		status = "failed"
	}
	metrics.WebhookLatency.WithLabelValues(it.EventType, status).Observe(float64(latency))
	metrics.WebhookDeliveries.WithLabelValues(it.EventType, status).Inc()

	switch status {
	case "delivered":
		_ = w.Store.MarkWebhookDelivery(ctx, it.ID, true, nil, "", code, latency)
		return
	case "failed":
		logging.Warn().Str("delivery", it.ID).Str("url", it.URL).Int("code", code).Str("error", lastErr).Msg("webhook delivery gave up")
		_ = w.Store.FailWebhookDelivery(ctx, it.ID, lastErr, code, latency)
		return
	}
	next := time.Now().Add(nextBackoff(it.Attempts))
	_ = w.Store.MarkWebhookDelivery(ctx, it.ID, false, &next, lastErr, code, latency)
}

func nextBackoff(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts > 12 {
		attempts = 12
	}
	base := time.Second * time.Duration(1<<attempts)
	if base > time.Hour {
		base = time.Hour
	}
	return base
}
