package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the service
	Registry = prometheus.NewRegistry()
	// HTTPRequests counts requests by method, path, and status
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records request durations in seconds
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)

	// ConnectedClients is the number of open realtime connections on this instance
	ConnectedClients = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "guardwatch_connected_clients", Help: "Open realtime connections."},
	)
	// RoomJoins counts join-room requests by outcome
	RoomJoins = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "guardwatch_room_joins_total", Help: "Room join requests by outcome."},
		[]string{"status"},
	)
	// InboundEvents counts client frames by event name and handling status
	InboundEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "guardwatch_inbound_events_total", Help: "Inbound realtime events by event and status."},
		[]string{"event", "status"},
	)
	// OutboundFrames counts frames queued to clients by event name
	OutboundFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "guardwatch_outbound_frames_total", Help: "Outbound realtime frames by event."},
		[]string{"event"},
	)
	// DroppedFrames counts frames discarded because a client send queue was full
	DroppedFrames = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "guardwatch_dropped_frames_total", Help: "Outbound frames dropped for slow clients."},
	)
	// AnalyticsFlushes counts emitted movement analytics windows
	AnalyticsFlushes = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "guardwatch_analytics_flushes_total", Help: "Movement analytics windows emitted."},
	)
	// TrackedGuards is the number of guards with in-memory movement state
	TrackedGuards = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "guardwatch_tracked_guards", Help: "Guards with movement state in memory."},
	)
	// GeofenceBreaches counts breaches by resulting severity
	GeofenceBreaches = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "guardwatch_geofence_breaches_total", Help: "Geofence breaches by severity."},
		[]string{"severity", "source"},
	)

	// WebhookDeliveries counts webhook delivery outcomes by event type and status
	WebhookDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "webhook_deliveries_total", Help: "Webhook deliveries by event type and status."},
		[]string{"event_type", "status"},
	)
	// WebhookLatency tracks webhook delivery latencies in milliseconds
	WebhookLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "webhook_delivery_latency_ms", Help: "Webhook delivery latency in ms.", Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000}},
		[]string{"event_type", "status"},
	)
)

// RegisterDefault registers collectors to the service registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(
			HTTPRequests,
			HTTPDuration,
			ConnectedClients,
			RoomJoins,
			InboundEvents,
			OutboundFrames,
			DroppedFrames,
			AnalyticsFlushes,
			TrackedGuards,
			GeofenceBreaches,
			WebhookDeliveries,
			WebhookLatency,
		)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once
