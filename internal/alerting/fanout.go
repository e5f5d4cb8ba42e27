// Package alerting turns domain events into alert and notification envelopes and
// routes them to role and guard rooms.
package alerting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"guardwatch/internal/geofence"
	"guardwatch/internal/logging"
	"guardwatch/internal/metrics"
	"guardwatch/internal/model"
	"guardwatch/internal/store"
)

var (
	ErrInvalidPriority   = errors.New("invalid priority")
	ErrInvalidTargetRole = errors.New("invalid target role")
)

// Breach sources
const (
	SourceClient = "client"
	SourceServer = "server"
)

// Emitter delivers frames to rooms. realtime.Hub satisfies it.
type Emitter interface {
	Emit(room, event string, data any) error
	Broadcast(event string, data any) error
}

// Replier answers the connection that issued a request.
type Replier interface {
	Send(event string, data any) error
}

// AlertPublisher forwards critical alerts outside the process.
type AlertPublisher interface {
	Emit(ctx context.Context, id, eventType string, data any) error
}

// Fanout is safe for concurrent use. Store and Webhooks are optional.
type Fanout struct {
	out      Emitter
	tracker  *geofence.Tracker
	Store    store.Store
	Webhooks AlertPublisher
	// EventType used for webhook forwarding of critical alerts
	WebhookEvent string

	now   func() time.Time
	newID func(category string) string
}

func New(out Emitter, tracker *geofence.Tracker) *Fanout {
	return &Fanout{
		out:          out,
		tracker:      tracker,
		WebhookEvent: "alert.critical",
		now:          func() time.Time { return time.Now().UTC() },
		newID:        func(category string) string { return category + "-" + uuid.NewString() },
	}
}

// SetClock replaces the time source.
func (f *Fanout) SetClock(now func() time.Time) { f.now = now }

// LocationUpdated relays a raw accepted sample to admins.
func (f *Fanout) LocationUpdated(s model.LocationSample) {
	f.emit(model.RoomAdmin, model.EventLocationUpdate, s)
}

// AnalyticsReady relays a closed analytics window to admins.
func (f *Fanout) AnalyticsReady(m model.MovementAnalytics) {
	f.emit(model.RoomAdmin, model.EventMovementAnalytics, m)
}

// SOS raises a critical alert to admins and field officers.
func (f *Fanout) SOS(ctx context.Context, in model.SOSAlert) model.AlertEnvelope {
	meta := map[string]any{
		"hasAudio": in.AudioData != "",
		"hasVideo": in.VideoData != "",
	}
	if in.Duration != nil {
		meta["duration"] = *in.Duration
	}
	a := model.AlertEnvelope{
		ID:        f.newID(model.AlertSOS),
		Type:      model.AlertSOS,
		Message:   fmt.Sprintf("SOS alert from %s", displayName(in.GuardName, in.GuardID)),
		Severity:  model.SeverityCritical,
		GuardID:   in.GuardID,
		GuardName: in.GuardName,
		Latitude:  in.Latitude,
		Longitude: in.Longitude,
		Timestamp: f.stamp(in.Timestamp),
		Metadata:  meta,
	}
	f.emit(model.RoomAdmin, model.EventAlertUpdate, a)
	f.emit(model.RoomFieldOfficers, model.EventAlertUpdate, a)
	f.record(ctx, a)
	return a
}

// GeofenceBreach counts the breach, raises an alert to admins and warns the guard.
// The alert and the warning carry the same violation count.
func (f *Fanout) GeofenceBreach(ctx context.Context, in model.GeofenceBreach, source string) model.AlertEnvelope {
	count := f.tracker.RecordBreach(in.GuardID)
	sev := f.tracker.SeverityFor(count)
	metrics.GeofenceBreaches.WithLabelValues(string(sev), source).Inc()

	zone := in.GeofenceName
	if zone == "" {
		zone = "assigned area"
	}
	a := model.AlertEnvelope{
		ID:        f.newID("geofence"),
		Type:      model.AlertGeofenceBreach,
		Message:   fmt.Sprintf("%s left %s", displayName(in.GuardName, in.GuardID), zone),
		Severity:  sev,
		GuardID:   in.GuardID,
		GuardName: in.GuardName,
		Latitude:  in.Latitude,
		Longitude: in.Longitude,
		Timestamp: f.stamp(in.Timestamp),
		Metadata: map[string]any{
			"violationCount": count,
			"geofenceName":   in.GeofenceName,
			"source":         source,
		},
	}
	f.emit(model.RoomAdmin, model.EventAlertUpdate, a)
	f.emit(model.GuardRoom(in.GuardID), model.EventGeofenceWarning, model.GeofenceWarning{
		Message:        fmt.Sprintf("You are outside %s. Please return to your post.", zone),
		ViolationCount: count,
	})
	f.record(ctx, a)
	return a
}

// PatrolData forwards a patrol trace to the admin heatmap.
func (f *Fanout) PatrolData(p model.PatrolData) model.PatrolHeatmapUpdate {
	u := model.PatrolHeatmapUpdate{GuardID: p.GuardID, Route: p.Route, Timestamp: f.stamp(p.Timestamp)}
	f.emit(model.RoomAdmin, model.EventPatrolHeatmap, u)
	return u
}

// Attendance relays a check-in/out to admins and confirms it to the guard.
func (f *Fanout) Attendance(a model.AttendanceUpdate) model.AttendanceConfirmation {
	a.Timestamp = f.stamp(a.Timestamp)
	f.emit(model.RoomAdmin, model.EventAttendanceUpdate, a)
	c := model.AttendanceConfirmation{Type: a.Type, Timestamp: a.Timestamp, VerificationMethod: a.VerificationMethod}
	f.emit(model.GuardRoom(a.GuardID), model.EventAttendanceConfirmed, c)
	return c
}

// Command routes an admin command to the guard and confirms delivery to the issuer.
// issuer may be nil for commands not originating from a connection.
func (f *Fanout) Command(cmd model.AdminCommand, issuer Replier) (model.AdminCommand, error) {
	p, err := normalizePriority(cmd.Priority)
	if err != nil {
		return model.AdminCommand{}, err
	}
	cmd.Priority = p
	cmd.ID = f.newID("cmd")
	cmd.IssuedAt = f.now()
	f.emit(model.GuardRoom(cmd.GuardID), model.EventAdminCommand, cmd)
	if issuer != nil {
		receipt := model.CommandReceipt{GuardID: cmd.GuardID, Command: cmd.Command, Timestamp: cmd.IssuedAt}
		if err := issuer.Send(model.EventCommandDelivered, receipt); err != nil {
			logging.Debug().Err(err).Str("command", cmd.ID).Msg("issuer gone before receipt")
		}
	}
	return cmd, nil
}

// Notify builds a notification and sends it to the target guard, else the target
// role, else everyone.
func (f *Fanout) Notify(ctx context.Context, req model.NotificationRequest) (model.NotificationEnvelope, error) {
	p, err := normalizePriority(req.Priority)
	if err != nil {
		return model.NotificationEnvelope{}, err
	}
	var room string
	if req.TargetRole != "" {
		role, ok := model.NormalizeRole(req.TargetRole)
		if !ok {
			return model.NotificationEnvelope{}, fmt.Errorf("%w %q", ErrInvalidTargetRole, req.TargetRole)
		}
		req.TargetRole = role
		room, _ = model.RoleRoom(role)
	}
	n := model.NotificationEnvelope{
		ID:            f.newID("notification"),
		Type:          req.Type,
		Title:         req.Title,
		Message:       req.Message,
		Priority:      p,
		TargetRole:    req.TargetRole,
		TargetGuardID: req.TargetGuardID,
		Timestamp:     f.now(),
	}
	switch {
	case n.TargetGuardID != "":
		f.emit(model.GuardRoom(n.TargetGuardID), model.EventNotification, n)
	case n.TargetRole != "":
		f.emit(room, model.EventNotification, n)
	default:
		if err := f.out.Broadcast(model.EventNotification, n); err != nil {
			logging.Error().Err(err).Str("event", model.EventNotification).Msg("broadcast failed")
		}
	}
	if f.Store != nil {
		if err := f.Store.SaveNotification(ctx, n); err != nil {
			logging.Warn().Err(err).Str("notification", n.ID).Msg("persist notification")
		}
	}
	return n, nil
}

func (f *Fanout) emit(room, event string, data any) {
	if err := f.out.Emit(room, event, data); err != nil {
		logging.Error().Err(err).Str("room", room).Str("event", event).Msg("emit failed")
	}
}

// record persists the alert and forwards critical ones. Both are best effort.
func (f *Fanout) record(ctx context.Context, a model.AlertEnvelope) {
	if f.Store != nil {
		if err := f.Store.SaveAlert(ctx, a); err != nil {
			logging.Warn().Err(err).Str("alert", a.ID).Msg("persist alert")
		}
	}
	if f.Webhooks != nil && a.Severity == model.SeverityCritical {
		if err := f.Webhooks.Emit(ctx, a.ID, f.WebhookEvent, a); err != nil {
			logging.Warn().Err(err).Str("alert", a.ID).Msg("forward critical alert")
		}
	}
}

func (f *Fanout) stamp(t time.Time) time.Time {
	if t.IsZero() {
		return f.now()
	}
	return t
}

func normalizePriority(p model.Priority) (model.Priority, error) {
	if p == "" {
		return model.SeverityMedium, nil
	}
	if !model.ValidPriority(p) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPriority, p)
	}
	return p, nil
}

func displayName(name, id string) string {
	if name != "" {
		return name
	}
	return "guard " + id
}
