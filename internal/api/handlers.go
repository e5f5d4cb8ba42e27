package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"guardwatch/internal/alerting"
	"guardwatch/internal/auth"
	"guardwatch/internal/logging"
	"guardwatch/internal/model"
	"guardwatch/internal/store"
)

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ReadyHandler checks the store and, when configured, Redis.
func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
	defer cancel()
	if err := s.Store.Ping(ctx); err != nil {
		writeProblem(w, http.StatusServiceUnavailable, "Not Ready", "store: "+err.Error(), r.URL.Path)
		return
	}
	if s.Relay != nil {
		if err := s.Relay.Ping(ctx); err != nil {
			writeProblem(w, http.StatusServiceUnavailable, "Not Ready", "redis: "+err.Error(), r.URL.Path)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// ListAlertsHandler handles GET /v1/alerts?guardId=&limit=
func (s *Server) ListAlertsHandler(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	guardID, ok := scopeGuard(p, r.URL.Query().Get("guardId"))
	if !ok {
		writeProblem(w, http.StatusForbidden, "Forbidden", "guards may only read their own alerts", r.URL.Path)
		return
	}
	items, err := s.Store.ListAlerts(r.Context(), guardID, queryLimit(r))
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "List alerts failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// ListNotificationsHandler handles GET /v1/notifications?guardId=&limit=
func (s *Server) ListNotificationsHandler(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	guardID, ok := scopeGuard(p, r.URL.Query().Get("guardId"))
	if !ok {
		writeProblem(w, http.StatusForbidden, "Forbidden", "guards may only read their own notifications", r.URL.Path)
		return
	}
	items, err := s.Store.ListNotifications(r.Context(), guardID, queryLimit(r))
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "List notifications failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// SendNotificationHandler handles POST /v1/notifications
func (s *Server) SendNotificationHandler(w http.ResponseWriter, r *http.Request) {
	if !principal(r).CanCommand() {
		writeProblem(w, http.StatusForbidden, "Forbidden", "admin or field officer required", r.URL.Path)
		return
	}
	var req model.NotificationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if err := model.Validate(req); err != nil {
		writeProblem(w, http.StatusUnprocessableEntity, "Invalid notification", err.Error(), r.URL.Path)
		return
	}
	n, err := s.Fanout.Notify(r.Context(), req)
	if errors.Is(err, alerting.ErrInvalidPriority) || errors.Is(err, alerting.ErrInvalidTargetRole) {
		writeProblem(w, http.StatusUnprocessableEntity, "Invalid notification", err.Error(), r.URL.Path)
		return
	}
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Send notification failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusAccepted, n)
}

// MarkNotificationReadHandler handles POST /v1/notifications/{id}/read.
// Guards may only mark notifications from their own inbox.
func (s *Server) MarkNotificationReadHandler(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	id := chi.URLParam(r, "id")
	n, err := s.Store.GetNotification(r.Context(), id)
	if store.IsNotFound(err) {
		writeProblem(w, http.StatusNotFound, "Not Found", "notification "+id, r.URL.Path)
		return
	}
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Mark read failed", err.Error(), r.URL.Path)
		return
	}
	if !p.CanCommand() && !store.VisibleTo(n, p.GuardID) {
		writeProblem(w, http.StatusForbidden, "Forbidden", "notification belongs to another recipient", r.URL.Path)
		return
	}
	err = s.Store.MarkNotificationRead(r.Context(), id)
	if store.IsNotFound(err) {
		writeProblem(w, http.StatusNotFound, "Not Found", "notification "+id, r.URL.Path)
		return
	}
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Mark read failed", err.Error(), r.URL.Path)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type violationsResponse struct {
	GuardID   string         `json:"guardId"`
	Count     int            `json:"count"`
	Severity  model.Severity `json:"nextSeverity"`
	Previous  *int           `json:"previous,omitempty"`
	Threshold int            `json:"threshold"`
}

// ViolationsHandler handles GET /v1/guards/{guardId}/violations
func (s *Server) ViolationsHandler(w http.ResponseWriter, r *http.Request) {
	guardID := chi.URLParam(r, "guardId")
	if !canViewGuard(principal(r), guardID) {
		writeProblem(w, http.StatusForbidden, "Forbidden", "", r.URL.Path)
		return
	}
	n := s.Tracker.Count(guardID)
	writeJSON(w, http.StatusOK, violationsResponse{
		GuardID:   guardID,
		Count:     n,
		Severity:  s.Tracker.SeverityFor(n + 1),
		Threshold: s.Tracker.Threshold(),
	})
}

// ResetViolationsHandler handles DELETE /v1/guards/{guardId}/violations, used at shift change.
func (s *Server) ResetViolationsHandler(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	if !p.IsAdmin() {
		writeProblem(w, http.StatusForbidden, "Forbidden", "admin required", r.URL.Path)
		return
	}
	guardID := chi.URLParam(r, "guardId")
	prev := s.Tracker.Reset(guardID)
	logging.Info().Str("guard_id", guardID).Int("previous", prev).Str("by", p.Subject).Msg("violations reset")
	writeJSON(w, http.StatusOK, violationsResponse{
		GuardID:   guardID,
		Count:     0,
		Severity:  s.Tracker.SeverityFor(1),
		Previous:  &prev,
		Threshold: s.Tracker.Threshold(),
	})
}

// MovementHandler handles GET /v1/guards/{guardId}/movement
func (s *Server) MovementHandler(w http.ResponseWriter, r *http.Request) {
	guardID := chi.URLParam(r, "guardId")
	if !canViewGuard(principal(r), guardID) {
		writeProblem(w, http.StatusForbidden, "Forbidden", "", r.URL.Path)
		return
	}
	snap, ok := s.Aggregator.Snapshot(guardID)
	if !ok {
		writeProblem(w, http.StatusNotFound, "Not Found", "no movement state for guard "+guardID, r.URL.Path)
		return
	}
	resp := map[string]any{"window": snap}
	if last, ok := s.Aggregator.Last(guardID); ok {
		resp["lastLocation"] = last
	}
	writeJSON(w, http.StatusOK, resp)
}

// scopeGuard narrows a guard principal to its own id; officers and admins pass through.
func scopeGuard(p auth.Principal, requested string) (string, bool) {
	if p.CanCommand() {
		return requested, true
	}
	if requested != "" && requested != p.GuardID {
		return "", false
	}
	return p.GuardID, true
}

func queryLimit(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil {
		return 0
	}
	return n
}
