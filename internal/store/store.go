package store

import (
	"context"
	"errors"
	"time"

	"guardwatch/internal/model"
)

// Store is the persistence interface behind alert history, notification inboxes
// and the webhook outbox.
type Store interface {
	// Alerts
	SaveAlert(ctx context.Context, a model.AlertEnvelope) error
	ListAlerts(ctx context.Context, guardID string, limit int) ([]model.AlertEnvelope, error)

	// Notifications
	SaveNotification(ctx context.Context, n model.NotificationEnvelope) error
	ListNotifications(ctx context.Context, guardID string, limit int) ([]model.NotificationEnvelope, error)
	GetNotification(ctx context.Context, id string) (model.NotificationEnvelope, error)
	MarkNotificationRead(ctx context.Context, id string) error

	// Webhook deliveries
	EnqueueWebhook(ctx context.Context, eventType, url, secret string, payload []byte) (string, error)
	FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error)
	MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error
	FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error

	Ping(ctx context.Context) error
}

var ErrNotFound = errors.New("not found")

// VisibleTo reports whether a notification belongs in guardID's inbox: addressed to
// that guard, to every guard, or to everyone. An empty guardID sees everything.
func VisibleTo(n model.NotificationEnvelope, guardID string) bool {
	if guardID == "" {
		return true
	}
	if n.TargetGuardID != "" {
		return n.TargetGuardID == guardID
	}
	return n.TargetRole == "" || n.TargetRole == model.RoleGuard
}

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
