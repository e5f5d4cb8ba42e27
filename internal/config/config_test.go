package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"guardwatch/internal/geofence"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	require.Equal(t, ":8080", cfg.Addr())
	require.Equal(t, 30*time.Second, cfg.Analytics.Window)
	require.Equal(t, 2, cfg.Geofence.ViolationThreshold)
}

func TestLoadYAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "guardwatch.yaml")
	body := `
http:
  port: "9000"
analytics:
  window: 45s
geofence:
  violationThreshold: 4
  zones:
    - name: main-gate
      lat: 28.61
      lng: 77.20
      radiusM: 150
      guards: [g1, g2]
webhooks:
  urls: [https://pager.example/hook]
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	t.Setenv("PORT", "9100")
	t.Setenv("STATE_TTL", "2h")
	t.Setenv("WEBHOOK_URLS", "https://a.example, https://b.example")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "9100", cfg.HTTP.Port)
	require.Equal(t, 45*time.Second, cfg.Analytics.Window)
	require.Equal(t, 2*time.Hour, cfg.Analytics.StateTTL)
	require.Equal(t, 4, cfg.Geofence.ViolationThreshold)
	require.Len(t, cfg.Geofence.Zones, 1)
	require.Equal(t, []string{"g1", "g2"}, cfg.Geofence.Zones[0].Guards)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Webhooks.URLs)
	// Untouched defaults survive the file overlay.
	require.Equal(t, "dev", cfg.Auth.Mode)
}

func TestApplyEnvReportsBadValues(t *testing.T) {
	env := map[string]string{"ANALYTICS_WINDOW": "soon", "RATE_BURST": "many", "DB_MIGRATE": "false"}
	cfg := Default()
	err := applyEnv(&cfg, func(k string) (string, bool) { v, ok := env[k]; return v, ok })
	require.Error(t, err)
	require.Contains(t, err.Error(), "ANALYTICS_WINDOW")
	require.Contains(t, err.Error(), "RATE_BURST")
	require.False(t, cfg.Database.Migrate)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Auth.Mode = "hmac"
	cfg.Auth.HMACSecret = "short"
	cfg.HTTP.Port = "http"
	cfg.Analytics.Window = 0
	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "hmacSecret")
	require.Contains(t, err.Error(), "http.port")
	require.Contains(t, err.Error(), "analytics.window")

	cfg = Default()
	cfg.Auth.Mode = "jwks"
	require.ErrorContains(t, cfg.Validate(), "auth.mode")

	cfg = Default()
	cfg.Geofence.ViolationThreshold = 0
	require.ErrorContains(t, cfg.Validate(), "geofence.violationThreshold")

	cfg = Default()
	cfg.Geofence.Zones = []geofence.Zone{
		{Name: "gate", Lat: 28.61, Lng: 77.20, RadiusM: 100, Guards: []string{"g1"}},
		{Name: "gate", Lat: 28.62, Lng: 77.21, RadiusM: 100, Guards: []string{"g1"}},
	}
	require.ErrorContains(t, cfg.Validate(), `duplicate name "gate"`)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.ErrorContains(t, err, "read config")
}
