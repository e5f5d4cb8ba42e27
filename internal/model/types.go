package model

import "time"

// Severity grades an alert.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Priority is the caller-supplied urgency of commands and notifications.
// It shares the severity vocabulary.
type Priority = Severity

// ValidPriority reports whether p is one of the known priority levels.
func ValidPriority(p Priority) bool {
	switch p {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Alert types
const (
	AlertSOS            = "sos"
	AlertGeofenceBreach = "geofence_breach"
)

// Room names
const (
	RoomAdmin         = "admin"
	RoomFieldOfficers = "field-officers"
	RoomGuards        = "guards"
	guardRoomPrefix   = "guard-"
)

// GuardRoom returns the private room of a guard.
func GuardRoom(guardID string) string { return guardRoomPrefix + guardID }

// GuardFromRoom extracts the guard id from a guard room name.
func GuardFromRoom(room string) (string, bool) {
	if len(room) <= len(guardRoomPrefix) || room[:len(guardRoomPrefix)] != guardRoomPrefix {
		return "", false
	}
	return room[len(guardRoomPrefix):], true
}

// LocationSample is one position fix reported by a guard's device.
type LocationSample struct {
	GuardID   string    `json:"guardId" validate:"required"`
	Latitude  *float64  `json:"latitude" validate:"required,latitude"`
	Longitude *float64  `json:"longitude" validate:"required,longitude"`
	Speed     *float64  `json:"speed,omitempty"`
	Direction *float64  `json:"direction,omitempty"`
	Accuracy  *float64  `json:"accuracy,omitempty" validate:"omitempty,gte=0"`
	Altitude  *float64  `json:"altitude,omitempty"`
	Battery   *float64  `json:"battery,omitempty" validate:"omitempty,gte=0,lte=100"`
	Timestamp time.Time `json:"timestamp" validate:"required"`
}

// Lat returns the latitude, or NaN when unset.
func (s LocationSample) Lat() float64 { return deref(s.Latitude) }

// Lng returns the longitude, or NaN when unset.
func (s LocationSample) Lng() float64 { return deref(s.Longitude) }

// MovementAnalytics summarizes one analytics window for a guard.
type MovementAnalytics struct {
	GuardID         string    `json:"guardId"`
	Distance        float64   `json:"distance"`
	AvgSpeed        float64   `json:"avgSpeed"`
	MaxSpeed        float64   `json:"maxSpeed"`
	TimeMoving      float64   `json:"timeMoving"`
	TimeStationary  float64   `json:"timeStationary"`
	RouteEfficiency float64   `json:"routeEfficiency"`
	Timestamp       time.Time `json:"timestamp"`
}

// AlertEnvelope is the normalized form of every alert sent to dashboards.
type AlertEnvelope struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Message   string         `json:"message"`
	Severity  Severity       `json:"severity"`
	GuardID   string         `json:"guardId"`
	GuardName string         `json:"guardName"`
	Latitude  *float64       `json:"latitude,omitempty"`
	Longitude *float64       `json:"longitude,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Notification types
const (
	NotificationAlert      = "alert"
	NotificationReminder   = "reminder"
	NotificationSystem     = "system"
	NotificationAttendance = "attendance"
	NotificationPayroll    = "payroll"
)

// NotificationEnvelope is a generic message routed to a guard, a role or everyone.
type NotificationEnvelope struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	Title         string    `json:"title"`
	Message       string    `json:"message"`
	Priority      Priority  `json:"priority"`
	TargetRole    string    `json:"targetRole,omitempty"`
	TargetGuardID string    `json:"targetGuardId,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	Read          bool      `json:"read"`
}

// NotificationRequest is a notification as submitted by a client, before id/timestamp are assigned.
type NotificationRequest struct {
	Type          string   `json:"type" validate:"required,oneof=alert reminder system attendance payroll"`
	Title         string   `json:"title" validate:"required"`
	Message       string   `json:"message"`
	Priority      Priority `json:"priority"`
	TargetRole    string   `json:"targetRole,omitempty"`
	TargetGuardID string   `json:"targetGuardId,omitempty"`
}

// SOSAlert is an emergency raised by a guard, optionally with recorded evidence.
type SOSAlert struct {
	GuardID   string    `json:"guardId" validate:"required"`
	GuardName string    `json:"guardName"`
	Latitude  *float64  `json:"latitude" validate:"omitempty,latitude"`
	Longitude *float64  `json:"longitude" validate:"omitempty,longitude"`
	AudioData string    `json:"audioData,omitempty"`
	VideoData string    `json:"videoData,omitempty"`
	Duration  *float64  `json:"duration,omitempty" validate:"omitempty,gte=0"`
	Timestamp time.Time `json:"timestamp"`
}

// GeofenceBreach reports a guard leaving an assigned geofence.
type GeofenceBreach struct {
	GuardID      string    `json:"guardId" validate:"required"`
	GuardName    string    `json:"guardName"`
	GeofenceName string    `json:"geofenceName"`
	Latitude     *float64  `json:"latitude" validate:"omitempty,latitude"`
	Longitude    *float64  `json:"longitude" validate:"omitempty,longitude"`
	Timestamp    time.Time `json:"timestamp"`
}

// GeofenceWarning is sent to the offending guard on a breach.
type GeofenceWarning struct {
	Message        string `json:"message"`
	ViolationCount int    `json:"violationCount"`
}

// RoutePoint is one point of a patrol trace.
type RoutePoint struct {
	Latitude  float64   `json:"latitude" validate:"latitude"`
	Longitude float64   `json:"longitude" validate:"longitude"`
	Timestamp time.Time `json:"timestamp"`
}

// PatrolData is a batch of recent patrol positions for the heatmap.
type PatrolData struct {
	GuardID   string       `json:"guardId" validate:"required"`
	Route     []RoutePoint `json:"route" validate:"required,min=1,dive"`
	Timestamp time.Time    `json:"timestamp"`
}

// Attendance verification methods
const (
	VerifyGPS    = "gps"
	VerifyQR     = "qr"
	VerifyManual = "manual"
)

// AttendanceUpdate is a check-in or check-out.
type AttendanceUpdate struct {
	GuardID            string    `json:"guardId" validate:"required"`
	GuardName          string    `json:"guardName,omitempty"`
	Type               string    `json:"type" validate:"required,oneof=check_in check_out"`
	SiteID             string    `json:"siteId,omitempty"`
	Latitude           *float64  `json:"latitude,omitempty" validate:"omitempty,latitude"`
	Longitude          *float64  `json:"longitude,omitempty" validate:"omitempty,longitude"`
	QRCode             string    `json:"qrCode,omitempty" validate:"required_if=VerificationMethod qr"`
	VerificationMethod string    `json:"verificationMethod" validate:"required,oneof=gps qr manual"`
	Timestamp          time.Time `json:"timestamp"`
}

// AttendanceConfirmation echoes an accepted attendance update back to the guard.
type AttendanceConfirmation struct {
	Type               string    `json:"type"`
	Timestamp          time.Time `json:"timestamp"`
	VerificationMethod string    `json:"verificationMethod"`
}

// AdminCommand is an instruction from an admin to a single guard.
type AdminCommand struct {
	ID       string    `json:"id,omitempty"`
	Command  string    `json:"command" validate:"required"`
	GuardID  string    `json:"guardId" validate:"required"`
	Message  string    `json:"message"`
	Priority Priority  `json:"priority"`
	IssuedBy string    `json:"issuedBy,omitempty"`
	IssuedAt time.Time `json:"issuedAt,omitempty"`
}

// CommandReceipt confirms to the issuing admin that a command was routed.
type CommandReceipt struct {
	GuardID   string    `json:"guardId"`
	Command   string    `json:"command"`
	Timestamp time.Time `json:"timestamp"`
}

// PatrolHeatmapUpdate is the admin view of a patrol batch.
type PatrolHeatmapUpdate struct {
	GuardID   string       `json:"guardId"`
	Route     []RoutePoint `json:"route"`
	Timestamp time.Time    `json:"timestamp"`
}
