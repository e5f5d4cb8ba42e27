package api

import (
	"net/http"
	"time"

	"guardwatch/internal/buildinfo"
)

// DebugJSON reports build info and the effective, secret-free configuration.
func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
	cfg := s.Config
	writeJSON(w, http.StatusOK, map[string]any{
		"build":  buildinfo.Info(),
		"time":   time.Now().UTC().Format(time.RFC3339),
		"uptime": time.Since(s.started).Round(time.Second).String(),
		"config": map[string]any{
			"port":               cfg.HTTP.Port,
			"authMode":           cfg.Auth.Mode,
			"allowOrigins":       cfg.HTTP.AllowOrigins,
			"rateRps":            cfg.Realtime.RateRPS,
			"rateBurst":          cfg.Realtime.RateBurst,
			"analyticsWindow":    cfg.Analytics.Window.String(),
			"stateTTL":           cfg.Analytics.StateTTL.String(),
			"violationThreshold": s.Tracker.Threshold(),
			"zones":              len(cfg.Geofence.Zones),
			"webhookUrls":        len(cfg.Webhooks.URLs),
			"webhookMaxAttempts": cfg.Webhooks.MaxAttempts,
			"hasDatabaseUrl":     cfg.Database.URL != "",
			"hasRedisUrl":        cfg.Redis.URL != "",
		},
		"realtime": map[string]any{
			"clients":       s.Hub.Len(),
			"trackedGuards": s.Aggregator.Len(),
		},
	})
}
