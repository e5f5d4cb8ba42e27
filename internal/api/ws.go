package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"guardwatch/internal/alerting"
	"guardwatch/internal/auth"
	"guardwatch/internal/buildinfo"
	"guardwatch/internal/logging"
	"guardwatch/internal/metrics"
	"guardwatch/internal/model"
	"guardwatch/internal/movement"
	"guardwatch/internal/realtime"
)

type connectedPayload struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Features  []string  `json:"features"`
	Version   string    `json:"version"`
}

type joinRequest struct {
	Room string `json:"room" validate:"required"`
}

type joinedPayload struct {
	Room string `json:"room"`
}

// WSHandler upgrades GET /ws. The caller must authenticate before the upgrade.
func (s *Server) WSHandler(w http.ResponseWriter, r *http.Request) {
	p, err := s.principalFrom(r)
	if err != nil {
		writeProblem(w, http.StatusUnauthorized, "Unauthorized", err.Error(), r.URL.Path)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	rt := s.Config.Realtime
	c := realtime.NewClient(s.Hub, conn, p, realtime.Options{
		RateRPS:       rt.RateRPS,
		RateBurst:     rt.RateBurst,
		SendBuffer:    rt.SendBuffer,
		MaxFrameBytes: rt.MaxFrameKiB << 10,
	})
	logging.Info().Uint64("conn_id", c.ID()).Str("role", p.Role).Str("guard_id", p.GuardID).Msg("client connected")
	c.Serve(r.Context(), s)
	logging.Info().Uint64("conn_id", c.ID()).Msg("client disconnected")
}

// Connected greets a new connection. It joins no room.
func (s *Server) Connected(c *realtime.Client) {
	_ = c.Send(realtime.EventConnected, connectedPayload{
		Message:   "Connected to guard tracking",
		Timestamp: time.Now().UTC(),
		Features:  buildinfo.Features(),
		Version:   buildinfo.Version,
	})
}

// Dispatch handles one inbound frame. Failures answer the sender only.
func (s *Server) Dispatch(ctx context.Context, c *realtime.Client, f realtime.Frame) {
	err := s.dispatch(ctx, c, f)
	status := "ok"
	switch {
	case err == nil:
	case errors.Is(err, errForbidden):
		status = "forbidden"
	case errors.Is(err, errUnknownEvent):
		status = "unknown"
	default:
		status = "invalid"
	}
	metrics.InboundEvents.WithLabelValues(eventLabel(f.Event), status).Inc()
	if err != nil {
		logging.Warn().Err(err).Uint64("conn_id", c.ID()).Str("event", f.Event).Msg("rejected frame")
		_ = c.Send(realtime.EventError, realtime.ErrorPayload{Event: f.Event, Message: err.Error()})
	}
}

var (
	errForbidden    = errors.New("forbidden")
	errUnknownEvent = errors.New("unknown event")
)

func (s *Server) dispatch(ctx context.Context, c *realtime.Client, f realtime.Frame) error {
	p := c.Principal()
	switch f.Event {
	case model.EventPing:
		return c.Send(realtime.EventPong, map[string]time.Time{"timestamp": time.Now().UTC()})

	case model.EventJoinRoom:
		req, err := decodeJoin(f.Data)
		if err != nil {
			metrics.RoomJoins.WithLabelValues("invalid").Inc()
			return err
		}
		if !p.CanJoin(req.Room) {
			metrics.RoomJoins.WithLabelValues("denied").Inc()
			return errors.Join(errForbidden, errors.New("cannot join "+req.Room))
		}
		if err := s.Hub.Join(c, req.Room); err != nil {
			return err
		}
		metrics.RoomJoins.WithLabelValues("ok").Inc()
		return c.Send(realtime.EventJoined, joinedPayload{Room: req.Room})

	case model.EventLocationUpdate:
		var in model.LocationSample
		if err := decode(f.Data, &in); err != nil {
			return err
		}
		if err := ownGuard(p, in.GuardID); err != nil {
			return err
		}
		if err := s.Aggregator.Ingest(in); err != nil {
			if errors.Is(err, movement.ErrOutOfOrder) {
				logging.Debug().Str("guard_id", in.GuardID).Msg("dropped out-of-order sample")
			}
			return err
		}
		for _, z := range s.Zones.Observe(in.GuardID, in.Lat(), in.Lng()) {
			s.Fanout.GeofenceBreach(ctx, model.GeofenceBreach{
				GuardID:      in.GuardID,
				GeofenceName: z.Name,
				Latitude:     in.Latitude,
				Longitude:    in.Longitude,
				Timestamp:    in.Timestamp,
			}, alerting.SourceServer)
		}
		return nil

	case model.EventSOSAlert:
		var in model.SOSAlert
		if err := decode(f.Data, &in); err != nil {
			return err
		}
		if err := ownGuard(p, in.GuardID); err != nil {
			return err
		}
		a := s.Fanout.SOS(ctx, in)
		logging.Warn().Str("guard_id", in.GuardID).Str("alert_id", a.ID).Msg("sos raised")
		return nil

	case model.EventGeofenceBreach:
		var in model.GeofenceBreach
		if err := decode(f.Data, &in); err != nil {
			return err
		}
		if err := ownGuard(p, in.GuardID); err != nil {
			return err
		}
		s.Fanout.GeofenceBreach(ctx, in, alerting.SourceClient)
		return nil

	case model.EventPatrolData:
		var in model.PatrolData
		if err := decode(f.Data, &in); err != nil {
			return err
		}
		if err := ownGuard(p, in.GuardID); err != nil {
			return err
		}
		s.Fanout.PatrolData(in)
		return nil

	case model.EventAttendanceUpdate:
		var in model.AttendanceUpdate
		if err := decode(f.Data, &in); err != nil {
			return err
		}
		if err := ownGuard(p, in.GuardID); err != nil {
			return err
		}
		s.Fanout.Attendance(in)
		return nil

	case model.EventAdminCommand:
		if !p.CanCommand() {
			return errForbidden
		}
		var in model.AdminCommand
		if err := decode(f.Data, &in); err != nil {
			return err
		}
		in.IssuedBy = p.Subject
		_, err := s.Fanout.Command(in, c)
		return err

	case model.EventSendNotification:
		if !p.CanCommand() {
			return errForbidden
		}
		var in model.NotificationRequest
		if err := decode(f.Data, &in); err != nil {
			return err
		}
		_, err := s.Fanout.Notify(ctx, in)
		return err
	}
	return errUnknownEvent
}

// ownGuard stops a guard connection from reporting on behalf of another guard.
func ownGuard(p auth.Principal, payloadGuard string) error {
	if p.Role == auth.RoleGuard && p.GuardID != payloadGuard {
		return errors.Join(errForbidden, errors.New("guardId does not match token"))
	}
	return nil
}

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return errors.New("missing data")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return err
	}
	return model.Validate(v)
}

// decodeJoin accepts {"room": "..."} or a bare room string.
func decodeJoin(data json.RawMessage) (joinRequest, error) {
	var room string
	if err := json.Unmarshal(data, &room); err == nil {
		if room == "" {
			return joinRequest{}, errors.New("room required")
		}
		return joinRequest{Room: room}, nil
	}
	var req joinRequest
	return req, decode(data, &req)
}

// eventLabel bounds metric cardinality to known event names.
func eventLabel(event string) string {
	switch event {
	case model.EventJoinRoom, model.EventLocationUpdate, model.EventSOSAlert, model.EventGeofenceBreach,
		model.EventPatrolData, model.EventAttendanceUpdate, model.EventAdminCommand,
		model.EventSendNotification, model.EventPing:
		return event
	}
	return "unknown"
}
