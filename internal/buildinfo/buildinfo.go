// Package buildinfo carries version metadata injected with -ldflags -X.
package buildinfo

var (
	Version = "dev"
	Commit  = ""
	BuiltAt = ""
)

func Info() map[string]string {
	return map[string]string{
		"version": Version,
		"commit":  Commit,
		"builtAt": BuiltAt,
	}
}

// Features lists the realtime capabilities announced to clients on connect.
func Features() []string {
	return []string{
		"location-tracking",
		"movement-analytics",
		"sos-alerts",
		"geofence-monitoring",
		"patrol-heatmap",
		"attendance",
		"admin-commands",
		"notifications",
	}
}
