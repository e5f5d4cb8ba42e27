package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"guardwatch/internal/model"
)

// DefaultMemoryCapacity bounds each in-memory history.
const DefaultMemoryCapacity = 10000

// Memory is a bounded in-memory store used when no DATABASE_URL is set.
// The oldest alerts, notifications and finished webhook deliveries are discarded
// once capacity is reached.
type Memory struct {
	mu            sync.Mutex
	capacity      int
	alerts        []model.AlertEnvelope        // oldest first
	notifications []*model.NotificationEnvelope // oldest first
	notifByID     map[string]*model.NotificationEnvelope
	deliveries    map[string]*memDelivery
	order         []string // delivery ids in enqueue order
	dedup         map[string]string
}

// memDelivery augments WebhookDelivery with scheduling state.
type memDelivery struct {
	WebhookDelivery
	NextAttemptAt time.Time
	LastError     string
	ResponseCode  int
	LatencyMs     int
	DeliveredAt   *time.Time
	dedupKey      string
}

func NewMemory() *Memory { return NewMemoryWithCapacity(DefaultMemoryCapacity) }

func NewMemoryWithCapacity(capacity int) *Memory {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	return &Memory{
		capacity:   capacity,
		notifByID:  map[string]*model.NotificationEnvelope{},
		deliveries: map[string]*memDelivery{},
		dedup:      map[string]string{},
	}
}

func (m *Memory) Ping(ctx context.Context) error { return nil }

// Alerts
func (m *Memory) SaveAlert(ctx context.Context, a model.AlertEnvelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, a)
	if over := len(m.alerts) - m.capacity; over > 0 {
		m.alerts = append(m.alerts[:0:0], m.alerts[over:]...)
	}
	return nil
}

func (m *Memory) ListAlerts(ctx context.Context, guardID string, limit int) ([]model.AlertEnvelope, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	limit = clampLimit(limit)
	out := []model.AlertEnvelope{}
	for i := len(m.alerts) - 1; i >= 0 && len(out) < limit; i-- {
		if guardID == "" || m.alerts[i].GuardID == guardID {
			out = append(out, m.alerts[i])
		}
	}
	return out, nil
}

// Notifications
func (m *Memory) SaveNotification(ctx context.Context, n model.NotificationEnvelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := n
	m.notifications = append(m.notifications, &cp)
	m.notifByID[cp.ID] = &cp
	if over := len(m.notifications) - m.capacity; over > 0 {
		for _, old := range m.notifications[:over] {
			delete(m.notifByID, old.ID)
		}
		m.notifications = append(m.notifications[:0:0], m.notifications[over:]...)
	}
	return nil
}

// ListNotifications returns the notifications VisibleTo guardID, newest first.
func (m *Memory) ListNotifications(ctx context.Context, guardID string, limit int) ([]model.NotificationEnvelope, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	limit = clampLimit(limit)
	out := []model.NotificationEnvelope{}
	for i := len(m.notifications) - 1; i >= 0 && len(out) < limit; i-- {
		n := m.notifications[i]
		if VisibleTo(*n, guardID) {
			out = append(out, *n)
		}
	}
	return out, nil
}

func (m *Memory) GetNotification(ctx context.Context, id string) (model.NotificationEnvelope, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.notifByID[id]
	if n == nil {
		return model.NotificationEnvelope{}, ErrNotFound
	}
	return *n, nil
}

func (m *Memory) MarkNotificationRead(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.notifByID[id]
	if n == nil {
		return ErrNotFound
	}
	n.Read = true
	return nil
}

// Webhook deliveries
func (m *Memory) EnqueueWebhook(ctx context.Context, eventType, url, secret string, payload []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := eventType + "|" + url + "|" + computeDedupKey(payload)
	if id, ok := m.dedup[key]; ok {
		return id, nil
	}
	id := uuid.New().String()
	m.deliveries[id] = &memDelivery{
		WebhookDelivery: WebhookDelivery{ID: id, EventType: eventType, URL: url, Secret: secret, Payload: payload, Status: DeliveryPending},
		NextAttemptAt:   time.Now(),
		dedupKey:        key,
	}
	m.order = append(m.order, id)
	m.dedup[key] = id
	return id, nil
}

func (m *Memory) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	due := []*memDelivery{}
	for _, id := range m.order {
		d := m.deliveries[id]
		if d == nil {
			continue
		}
		if (d.Status == DeliveryPending || d.Status == DeliveryRetry) && !d.NextAttemptAt.After(now) {
			due = append(due, d)
		}
	}
	sort.SliceStable(due, func(i, j int) bool { return due[i].NextAttemptAt.Before(due[j].NextAttemptAt) })
	out := []WebhookDelivery{}
	for _, d := range due {
		out = append(out, d.WebhookDelivery)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d == nil {
		return ErrNotFound
	}
	d.Attempts++
	d.ResponseCode = responseCode
	d.LatencyMs = latencyMs
	if success {
		d.Status = DeliveryDelivered
		now := time.Now()
		d.DeliveredAt = &now
		m.pruneFinished()
		return nil
	}
	d.Status = DeliveryRetry
	d.LastError = lastError
	if nextAttemptAt != nil {
		d.NextAttemptAt = *nextAttemptAt
	} else {
		d.NextAttemptAt = time.Now().Add(time.Minute)
	}
	return nil
}

func (m *Memory) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d == nil {
		return ErrNotFound
	}
	d.Attempts++
	d.Status = DeliveryFailed
	d.LastError = lastError
	d.ResponseCode = responseCode
	d.LatencyMs = latencyMs
	m.pruneFinished()
	return nil
}

// pruneFinished drops the oldest delivered or failed deliveries beyond capacity.
// Pending and retrying deliveries are kept. Caller holds m.mu.
func (m *Memory) pruneFinished() {
	finished := 0
	for _, id := range m.order {
		if d := m.deliveries[id]; d.Status == DeliveryDelivered || d.Status == DeliveryFailed {
			finished++
		}
	}
	over := finished - m.capacity
	if over <= 0 {
		return
	}
	kept := m.order[:0]
	for _, id := range m.order {
		d := m.deliveries[id]
		if over > 0 && (d.Status == DeliveryDelivered || d.Status == DeliveryFailed) {
			delete(m.deliveries, id)
			delete(m.dedup, d.dedupKey)
			over--
			continue
		}
		kept = append(kept, id)
	}
	m.order = kept
}

// Delivery returns the current state of a queued delivery.
func (m *Memory) Delivery(id string) (WebhookDelivery, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d == nil {
		return WebhookDelivery{}, false
	}
	return d.WebhookDelivery, true
}
