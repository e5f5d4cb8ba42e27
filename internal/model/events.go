package model

import "strings"

// Inbound realtime events
const (
	EventJoinRoom         = "join-room"
	EventLocationUpdate   = "location-update"
	EventSOSAlert         = "sos-alert"
	EventGeofenceBreach   = "geofence-breach"
	EventPatrolData       = "patrol-data"
	EventAttendanceUpdate = "attendance-update"
	EventAdminCommand     = "admin-command"
	EventSendNotification = "send-notification"
	EventPing             = "ping"
)

// Outbound realtime events. location-update, attendance-update and admin-command
// keep their inbound names.
const (
	EventMovementAnalytics   = "movement-analytics"
	EventAlertUpdate         = "alert-update"
	EventGeofenceWarning     = "geofence-warning"
	EventPatrolHeatmap       = "patrol-heatmap-update"
	EventAttendanceConfirmed = "attendance-confirmed"
	EventCommandDelivered    = "command-delivered"
	EventNotification        = "notification"
)

// Roles. Notification targets and principals share these names.
const (
	RoleAdmin        = "admin"
	RoleFieldOfficer = "field_officer"
	RoleGuard        = "guard"
)

// NormalizeRole maps a role spelling (any case, plural, dashes) to its role name.
func NormalizeRole(role string) (string, bool) {
	r := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(role)), "-", "_")
	switch r {
	case "admin", "admins":
		return RoleAdmin, true
	case "field_officer", "field_officers":
		return RoleFieldOfficer, true
	case "guard", "guards":
		return RoleGuard, true
	}
	return "", false
}

// RoleRoom returns the room every member of role may join.
func RoleRoom(role string) (string, bool) {
	r, _ := NormalizeRole(role)
	switch r {
	case RoleAdmin:
		return RoomAdmin, true
	case RoleFieldOfficer:
		return RoomFieldOfficers, true
	case RoleGuard:
		return RoomGuards, true
	}
	return "", false
}
