// Package config loads service configuration from an optional YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"guardwatch/internal/geofence"
)

// Config is the full service configuration.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Log       LogConfig       `yaml:"log"`
	Auth      AuthConfig      `yaml:"auth"`
	Redis     RedisConfig     `yaml:"redis"`
	Database  DatabaseConfig  `yaml:"database"`
	Realtime  RealtimeConfig  `yaml:"realtime"`
	Analytics AnalyticsConfig `yaml:"analytics"`
	Geofence  GeofenceConfig  `yaml:"geofence"`
	Webhooks  WebhookConfig   `yaml:"webhooks"`
}

type HTTPConfig struct {
	Port              string        `yaml:"port"`
	ReadHeaderTimeout time.Duration `yaml:"readHeaderTimeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdownTimeout"`
	AllowOrigins      []string      `yaml:"allowOrigins"`
	// RequestsPerMinute limits REST calls per client IP, 0 disables
	RequestsPerMinute int `yaml:"requestsPerMinute"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type AuthConfig struct {
	Mode       string `yaml:"mode"` // dev or hmac
	HMACSecret string `yaml:"hmacSecret"`
	RoleClaim  string `yaml:"roleClaim"`
	GuardClaim string `yaml:"guardClaim"`
}

type RedisConfig struct {
	URL     string `yaml:"url"`
	Channel string `yaml:"channel"`
}

type DatabaseConfig struct {
	URL     string `yaml:"url"`
	Migrate bool   `yaml:"migrate"`
}

type RealtimeConfig struct {
	RateRPS     float64 `yaml:"rateRps"`
	RateBurst   int     `yaml:"rateBurst"`
	SendBuffer  int     `yaml:"sendBuffer"`
	MaxFrameKiB int64   `yaml:"maxFrameKiB"`
}

type AnalyticsConfig struct {
	Window       time.Duration `yaml:"window"`
	TickInterval time.Duration `yaml:"tickInterval"`
	StateTTL     time.Duration `yaml:"stateTTL"`
}

type GeofenceConfig struct {
	ViolationThreshold int             `yaml:"violationThreshold"`
	Zones              []geofence.Zone `yaml:"zones"`
}

type WebhookConfig struct {
	URLs        []string `yaml:"urls"`
	Secret      string   `yaml:"secret"`
	MaxAttempts int      `yaml:"maxAttempts"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		HTTP:      HTTPConfig{Port: "8080", ReadHeaderTimeout: 5 * time.Second, ShutdownTimeout: 10 * time.Second, RequestsPerMinute: 600},
		Log:       LogConfig{Level: "info", Format: "json"},
		Auth:      AuthConfig{Mode: "dev", RoleClaim: "role", GuardClaim: "guardId"},
		Redis:     RedisConfig{Channel: "guardwatch:frames"},
		Database:  DatabaseConfig{Migrate: true},
		Realtime:  RealtimeConfig{RateRPS: 20, RateBurst: 40, SendBuffer: 256, MaxFrameKiB: 8 << 10},
		Analytics: AnalyticsConfig{Window: 30 * time.Second, TickInterval: time.Second, StateTTL: 12 * time.Hour},
		Geofence:  GeofenceConfig{ViolationThreshold: geofence.DefaultThreshold},
		Webhooks:  WebhookConfig{MaxAttempts: 10},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (or CONFIG_FILE),
// then environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type lookupFunc func(string) (string, bool)

func applyEnv(cfg *Config, lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	list := func(key string, dst *[]string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = splitList(v)
		}
	}
	var errs []error
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}

	str("PORT", &cfg.HTTP.Port)
	list("ALLOW_ORIGINS", &cfg.HTTP.AllowOrigins)
	num("HTTP_RATE_LIMIT", &cfg.HTTP.RequestsPerMinute)
	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_FORMAT", &cfg.Log.Format)
	str("AUTH_MODE", &cfg.Auth.Mode)
	str("AUTH_HMAC_SECRET", &cfg.Auth.HMACSecret)
	str("AUTH_ROLE_CLAIM", &cfg.Auth.RoleClaim)
	str("AUTH_GUARD_CLAIM", &cfg.Auth.GuardClaim)
	str("REDIS_URL", &cfg.Redis.URL)
	str("REDIS_CHANNEL", &cfg.Redis.Channel)
	str("DATABASE_URL", &cfg.Database.URL)
	if v, ok := lookup("DB_MIGRATE"); ok && v != "" {
		cfg.Database.Migrate = v != "false"
	}
	if v, ok := lookup("RATE_RPS"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("RATE_RPS: %w", err))
		} else {
			cfg.Realtime.RateRPS = f
		}
	}
	num("RATE_BURST", &cfg.Realtime.RateBurst)
	dur("ANALYTICS_WINDOW", &cfg.Analytics.Window)
	dur("STATE_TTL", &cfg.Analytics.StateTTL)
	num("VIOLATION_THRESHOLD", &cfg.Geofence.ViolationThreshold)
	list("WEBHOOK_URLS", &cfg.Webhooks.URLs)
	str("WEBHOOK_SECRET", &cfg.Webhooks.Secret)
	num("WEBHOOK_MAX_ATTEMPTS", &cfg.Webhooks.MaxAttempts)
	return errors.Join(errs...)
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate reports configuration errors.
func (c Config) Validate() error {
	var errs []error
	if _, err := strconv.Atoi(c.HTTP.Port); err != nil {
		errs = append(errs, fmt.Errorf("http.port must be numeric: %q", c.HTTP.Port))
	}
	switch c.Auth.Mode {
	case "dev":
	case "hmac":
		if len(c.Auth.HMACSecret) < 32 {
			errs = append(errs, errors.New("auth.hmacSecret must be at least 32 characters in hmac mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("auth.mode must be dev or hmac, got %q", c.Auth.Mode))
	}
	if c.HTTP.RequestsPerMinute < 0 {
		errs = append(errs, errors.New("http.requestsPerMinute must be >= 0"))
	}
	if c.Realtime.RateRPS < 0 || c.Realtime.RateBurst < 0 {
		errs = append(errs, errors.New("realtime rate limits must be >= 0"))
	}
	if c.Analytics.Window <= 0 {
		errs = append(errs, errors.New("analytics.window must be > 0"))
	}
	if c.Analytics.StateTTL < 0 {
		errs = append(errs, errors.New("analytics.stateTTL must be >= 0"))
	}
	if c.Geofence.ViolationThreshold < 1 {
		errs = append(errs, errors.New("geofence.violationThreshold must be >= 1"))
	}
	zoneNames := map[string]bool{}
	for i, z := range c.Geofence.Zones {
		if z.Name == "" || z.RadiusM <= 0 {
			errs = append(errs, fmt.Errorf("geofence.zones[%d] needs a name and a positive radiusM", i))
		}
		if zoneNames[z.Name] {
			errs = append(errs, fmt.Errorf("geofence.zones[%d]: duplicate name %q", i, z.Name))
		}
		zoneNames[z.Name] = true
	}
	if len(c.Webhooks.URLs) > 0 && c.Webhooks.MaxAttempts <= 0 {
		errs = append(errs, errors.New("webhooks.maxAttempts must be > 0"))
	}
	return errors.Join(errs...)
}

// Addr is the HTTP listen address.
func (c Config) Addr() string { return ":" + c.HTTP.Port }
