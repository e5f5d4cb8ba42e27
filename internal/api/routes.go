package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"guardwatch/internal/logging"
	"guardwatch/internal/metrics"
)

// Routes builds the HTTP handler.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(logMiddleware)
	if len(s.Config.HTTP.AllowOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.Config.HTTP.AllowOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type", "X-Role", "X-Guard-Id"},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", s.HealthHandler)
	r.Get("/readyz", s.ReadyHandler)
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	r.Get("/debug/info", s.DebugJSON)
	r.Get("/ws", s.WSHandler)

	r.Route("/v1", func(r chi.Router) {
		if n := s.Config.HTTP.RequestsPerMinute; n > 0 {
			r.Use(httprate.LimitByIP(n, time.Minute))
		}
		r.Use(s.authenticate)
		r.Get("/alerts", s.ListAlertsHandler)
		r.Get("/notifications", s.ListNotificationsHandler)
		r.Post("/notifications", s.SendNotificationHandler)
		r.Post("/notifications/{id}/read", s.MarkNotificationReadHandler)
		r.Get("/guards/{guardId}/violations", s.ViolationsHandler)
		r.Delete("/guards/{guardId}/violations", s.ResetViolationsHandler)
		r.Get("/guards/{guardId}/movement", s.MovementHandler)
	})
	return r
}

func logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		path := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			path = rc.RoutePattern()
		}
		code := strconv.Itoa(status)
		metrics.HTTPRequests.WithLabelValues(r.Method, path, code).Inc()
		metrics.HTTPDuration.WithLabelValues(r.Method, path, code).Observe(dur.Seconds())

		ev := logging.Debug()
		if status >= 500 {
			ev = logging.Warn()
		}
		ev.Str("request_id", chimiddleware.GetReqID(r.Context())).
			Str("remote", r.RemoteAddr).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Dur("duration", dur).
			Msg("http request")
	})
}
