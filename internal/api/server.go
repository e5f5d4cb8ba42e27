package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/thejerf/suture/v4"

	"guardwatch/internal/alerting"
	"guardwatch/internal/auth"
	"guardwatch/internal/config"
	"guardwatch/internal/geofence"
	"guardwatch/internal/logging"
	"guardwatch/internal/movement"
	"guardwatch/internal/realtime"
	"guardwatch/internal/store"
	"guardwatch/internal/webhooks"
)

// Server wires the tracking core to its HTTP and WebSocket surface.
type Server struct {
	Config     config.Config
	Store      store.Store
	Hub        *realtime.Hub
	Aggregator *movement.Aggregator
	Tracker    *geofence.Tracker
	Zones      *geofence.Zones
	Fanout     *alerting.Fanout
	Auth       *auth.Verifier
	Pub        *webhooks.Publisher
	Relay      *realtime.RedisRelay

	upgrader websocket.Upgrader
	started  time.Time
}

// NewServer builds a Server from cfg. Without DATABASE_URL alerts are kept in memory;
// without REDIS_URL rooms are local to this instance.
func NewServer(cfg config.Config) (*Server, error) {
	var st store.Store
	if strings.TrimSpace(cfg.Database.URL) == "" {
		st = store.NewMemory()
	} else {
		pg, err := store.NewPostgres(cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if cfg.Database.Migrate {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			err := pg.Migrate(ctx)
			cancel()
			if err != nil {
				return nil, err
			}
		}
		st = pg
	}

	hub := realtime.NewHub()
	var relay *realtime.RedisRelay
	if cfg.Redis.URL != "" {
		r, err := realtime.NewRedisRelay(cfg.Redis.URL, cfg.Redis.Channel, hub)
		if err != nil {
			return nil, err
		}
		hub.SetRelay(r)
		relay = r
	}

	tracker := geofence.NewTracker(cfg.Geofence.ViolationThreshold, cfg.Analytics.StateTTL)
	fan := alerting.New(hub, tracker)
	fan.Store = st
	pub := webhooks.NewPublisher(st, cfg.Webhooks.URLs, cfg.Webhooks.Secret)
	if pub.Enabled() {
		fan.Webhooks = pub
	}
	agg := movement.New(movement.Config{
		Window:       cfg.Analytics.Window,
		TickInterval: cfg.Analytics.TickInterval,
		StateTTL:     cfg.Analytics.StateTTL,
	}, fan)

	s := &Server{
		Config:     cfg,
		Store:      st,
		Hub:        hub,
		Aggregator: agg,
		Tracker:    tracker,
		Zones:      geofence.NewZones(cfg.Geofence.Zones),
		Fanout:     fan,
		Auth:       auth.NewVerifier(cfg.Auth),
		Pub:        pub,
		Relay:      relay,
		started:    time.Now(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	logging.Info().
		Bool("postgres", cfg.Database.URL != "").
		Bool("redis", relay != nil).
		Int("zones", len(cfg.Geofence.Zones)).
		Int("webhook_urls", len(cfg.Webhooks.URLs)).
		Msg("server initialized")
	return s, nil
}

// Background returns the long-running services the server depends on.
func (s *Server) Background() []suture.Service {
	svcs := []suture.Service{s.Aggregator, s.Tracker}
	if s.Relay != nil {
		svcs = append(svcs, s.Relay)
	}
	if s.Pub.Enabled() {
		svcs = append(svcs, webhooks.NewWorker(s.Store, s.Config.Webhooks.MaxAttempts))
	}
	return svcs
}

// Shutdown closes realtime connections and backing clients.
func (s *Server) Shutdown() {
	s.Hub.Close()
	if s.Relay != nil {
		_ = s.Relay.Close()
	}
	if c, ok := s.Store.(interface{ Close() error }); ok {
		_ = c.Close()
	}
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.Config.HTTP.AllowOrigins) == 0 {
		return true
	}
	for _, o := range s.Config.HTTP.AllowOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}
