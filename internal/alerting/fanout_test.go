package alerting

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"guardwatch/internal/geofence"
	"guardwatch/internal/model"
	"guardwatch/internal/store"
)

type sent struct {
	Room  string // "*" for broadcast
	Event string
	Data  any
}

type fakeEmitter struct {
	mu   sync.Mutex
	out  []sent
	fail error
}

func (e *fakeEmitter) Emit(room, event string, data any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.out = append(e.out, sent{room, event, data})
	return e.fail
}

func (e *fakeEmitter) Broadcast(event string, data any) error { return e.Emit("*", event, data) }

func (e *fakeEmitter) to(room string) []sent {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []sent
	for _, s := range e.out {
		if s.Room == room {
			out = append(out, s)
		}
	}
	return out
}

type fakeReplier struct{ got []sent }

func (r *fakeReplier) Send(event string, data any) error {
	r.got = append(r.got, sent{"self", event, data})
	return nil
}

type fakePublisher struct{ ids []string }

func (p *fakePublisher) Emit(_ context.Context, id, _ string, _ any) error {
	p.ids = append(p.ids, id)
	return nil
}

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func newFanout() (*Fanout, *fakeEmitter) {
	e := &fakeEmitter{}
	f := New(e, geofence.NewTracker(geofence.DefaultThreshold, 0))
	f.SetClock(func() time.Time { return t0 })
	return f, e
}

func TestSOSIsAlwaysCritical(t *testing.T) {
	f, e := newFanout()
	mem := store.NewMemory()
	pub := &fakePublisher{}
	f.Store, f.Webhooks = mem, pub

	a := f.SOS(context.Background(), model.SOSAlert{GuardID: "g1", GuardName: "Ravi", AudioData: "base64", Duration: model.Float(12)})
	require.Equal(t, model.SeverityCritical, a.Severity)
	require.Equal(t, model.AlertSOS, a.Type)
	require.True(t, strings.HasPrefix(a.ID, "sos-"))
	require.Equal(t, true, a.Metadata["hasAudio"])
	require.Equal(t, false, a.Metadata["hasVideo"])
	require.Equal(t, 12.0, a.Metadata["duration"])
	require.Equal(t, t0, a.Timestamp)

	require.Len(t, e.to(model.RoomAdmin), 1)
	require.Len(t, e.to(model.RoomFieldOfficers), 1)
	require.Equal(t, model.EventAlertUpdate, e.to(model.RoomFieldOfficers)[0].Event)

	saved, err := mem.ListAlerts(context.Background(), "g1", 10)
	require.NoError(t, err)
	require.Len(t, saved, 1)
	require.Equal(t, []string{a.ID}, pub.ids)
}

func TestSOSIdsAreUnique(t *testing.T) {
	f, _ := newFanout()
	a := f.SOS(context.Background(), model.SOSAlert{GuardID: "g1"})
	b := f.SOS(context.Background(), model.SOSAlert{GuardID: "g1"})
	require.NotEqual(t, a.ID, b.ID)
}

func TestGeofenceBreachEscalatesAndWarnsGuard(t *testing.T) {
	f, e := newFanout()
	pub := &fakePublisher{}
	f.Webhooks = pub
	ctx := context.Background()
	in := model.GeofenceBreach{GuardID: "g1", GeofenceName: "North Gate"}

	var last model.AlertEnvelope
	for i := 1; i <= 3; i++ {
		last = f.GeofenceBreach(ctx, in, SourceClient)
		require.Equal(t, i, last.Metadata["violationCount"])
	}
	alerts := e.to(model.RoomAdmin)
	require.Len(t, alerts, 3)
	require.Equal(t, model.SeverityHigh, alerts[0].Data.(model.AlertEnvelope).Severity)
	require.Equal(t, model.SeverityHigh, alerts[1].Data.(model.AlertEnvelope).Severity)
	require.Equal(t, model.SeverityCritical, last.Severity)

	warnings := e.to(model.GuardRoom("g1"))
	require.Len(t, warnings, 3)
	for i, w := range warnings {
		require.Equal(t, model.EventGeofenceWarning, w.Event)
		warn := w.Data.(model.GeofenceWarning)
		require.Equal(t, alerts[i].Data.(model.AlertEnvelope).Metadata["violationCount"], warn.ViolationCount)
		require.Contains(t, warn.Message, "North Gate")
	}
	require.Len(t, pub.ids, 1, "only the critical breach is forwarded")
}

func TestPatrolAndAttendance(t *testing.T) {
	f, e := newFanout()
	f.PatrolData(model.PatrolData{GuardID: "g1", Route: []model.RoutePoint{{Latitude: 1, Longitude: 2}}})
	admin := e.to(model.RoomAdmin)
	require.Len(t, admin, 1)
	require.Equal(t, model.EventPatrolHeatmap, admin[0].Event)
	require.Equal(t, t0, admin[0].Data.(model.PatrolHeatmapUpdate).Timestamp)

	c := f.Attendance(model.AttendanceUpdate{GuardID: "g1", Type: "check_in", VerificationMethod: model.VerifyGPS})
	require.Equal(t, "check_in", c.Type)
	guard := e.to(model.GuardRoom("g1"))
	require.Len(t, guard, 1)
	require.Equal(t, model.EventAttendanceConfirmed, guard[0].Event)
	require.Equal(t, model.EventAttendanceUpdate, e.to(model.RoomAdmin)[1].Event)
}

func TestCommandRoutesAndConfirms(t *testing.T) {
	f, e := newFanout()
	r := &fakeReplier{}
	cmd, err := f.Command(model.AdminCommand{Command: "return_to_post", GuardID: "g2", Message: "now"}, r)
	require.NoError(t, err)
	require.Equal(t, model.SeverityMedium, cmd.Priority)
	require.True(t, strings.HasPrefix(cmd.ID, "cmd-"))

	require.Len(t, e.to(model.GuardRoom("g2")), 1)
	require.Len(t, r.got, 1)
	require.Equal(t, model.EventCommandDelivered, r.got[0].Event)
	require.Equal(t, model.CommandReceipt{GuardID: "g2", Command: "return_to_post", Timestamp: t0}, r.got[0].Data)

	_, err = f.Command(model.AdminCommand{Command: "x", GuardID: "g2", Priority: "urgent"}, r)
	require.ErrorIs(t, err, ErrInvalidPriority)
	require.Len(t, e.to(model.GuardRoom("g2")), 1)
}

func TestNotifyRouting(t *testing.T) {
	f, e := newFanout()
	ctx := context.Background()

	n, err := f.Notify(ctx, model.NotificationRequest{Type: "reminder", Title: "Shift", TargetGuardID: "g1", TargetRole: "admin"})
	require.NoError(t, err)
	require.False(t, n.Read)
	require.Len(t, e.to(model.GuardRoom("g1")), 1)
	require.Empty(t, e.to(model.RoomAdmin), "guard target wins over role")
	require.Empty(t, e.to("*"))

	_, err = f.Notify(ctx, model.NotificationRequest{Type: "system", Title: "x", TargetRole: "field_officer", Priority: model.SeverityHigh})
	require.NoError(t, err)
	require.Len(t, e.to(model.RoomFieldOfficers), 1)

	_, err = f.Notify(ctx, model.NotificationRequest{Type: "system", Title: "all"})
	require.NoError(t, err)
	require.Len(t, e.to("*"), 1)

	_, err = f.Notify(ctx, model.NotificationRequest{Type: "system", Title: "bad", Priority: "asap"})
	require.ErrorIs(t, err, ErrInvalidPriority)
}

func TestNotifyAllGuards(t *testing.T) {
	f, e := newFanout()
	f.Store = store.NewMemory()
	ctx := context.Background()

	n, err := f.Notify(ctx, model.NotificationRequest{Type: "payroll", Title: "Payslips ready", TargetRole: "Guards"})
	require.NoError(t, err)
	require.Equal(t, model.RoleGuard, n.TargetRole)
	require.Len(t, e.to(model.RoomGuards), 1)

	inbox, err := f.Store.ListNotifications(ctx, "g1", 10)
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	require.Equal(t, n.ID, inbox[0].ID)

	_, err = f.Notify(ctx, model.NotificationRequest{Type: "system", Title: "x", TargetRole: "supervisors"})
	require.ErrorIs(t, err, ErrInvalidTargetRole)
	require.Empty(t, e.to("supervisors"))
}

func TestEmitErrorsDoNotAbort(t *testing.T) {
	f, e := newFanout()
	e.fail = errors.New("closed")
	a := f.SOS(context.Background(), model.SOSAlert{GuardID: "g1"})
	require.Equal(t, model.SeverityCritical, a.Severity)
	require.Contains(t, a.Message, "guard g1")
}

func TestSinkRelaysToAdmin(t *testing.T) {
	f, e := newFanout()
	f.LocationUpdated(model.LocationSample{GuardID: "g1"})
	f.AnalyticsReady(model.MovementAnalytics{GuardID: "g1"})
	admin := e.to(model.RoomAdmin)
	require.Len(t, admin, 2)
	require.Equal(t, model.EventLocationUpdate, admin[0].Event)
	require.Equal(t, model.EventMovementAnalytics, admin[1].Event)
}
