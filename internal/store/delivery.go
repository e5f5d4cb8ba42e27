package store

// WebhookDelivery is one queued outbound webhook call.
type WebhookDelivery struct {
	ID        string
	EventType string
	URL       string
	Secret    string
	Payload   []byte
	Status    string
	Attempts  int
}

// Delivery statuses
const (
	DeliveryPending   = "pending"
	DeliveryRetry     = "retry"
	DeliveryDelivered = "delivered"
	DeliveryFailed    = "failed"
)
