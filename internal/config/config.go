// Package config loads process configuration from LIVEROUTE_* environment
// variables.
package config

import (
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	lrerrors "github.com/vango-dev/liveroute/internal/errors"
)

// Prefix is prepended to every variable name, e.g. LIVEROUTE_ADDR.
const Prefix = "LIVEROUTE"

// Config holds the server process configuration.
type Config struct {
	// HTTP
	Addr            string        `envconfig:"ADDR" default:":8080"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
	MetricsPath     string        `envconfig:"METRICS_PATH" default:"/metrics"`

	// Live ports
	PortTTL     time.Duration `envconfig:"PORT_TTL" default:"30s"`
	PortBacklog int           `envconfig:"PORT_BACKLOG" default:"256"`

	// Logging
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// Messaging: connect to NATS at NATSURL. Empty keeps the board bus in
	// process.
	NATSURL     string `envconfig:"NATS_URL"`
	NATSSubject string `envconfig:"NATS_SUBJECT" default:"liveroute.board"`
	ServiceName string `envconfig:"SERVICE_NAME" default:"liveroute"`

	// Session state: Postgres when DatabaseURL is set, memory otherwise.
	DatabaseURL   string        `envconfig:"DATABASE_URL"`
	SessionTable  string        `envconfig:"SESSION_TABLE" default:"liveroute_sessions"`
	SessionTTL    time.Duration `envconfig:"SESSION_TTL" default:"24h"`
	SecureCookies bool          `envconfig:"SECURE_COOKIES" default:"false"`

	// User state: S3 when S3Bucket is set, memory otherwise.
	S3Bucket    string `envconfig:"S3_BUCKET"`
	S3Prefix    string `envconfig:"S3_PREFIX" default:"users/"`
	S3Region    string `envconfig:"S3_REGION" default:"us-east-1"`
	S3Endpoint  string `envconfig:"S3_ENDPOINT"`
	S3AccessKey string `envconfig:"S3_ACCESS_KEY"`
	S3SecretKey string `envconfig:"S3_SECRET_KEY"`
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	var c Config
	if err := envconfig.Process(Prefix, &c); err != nil {
		return nil, lrerrors.New("C001").WithDetail(err.Error()).Wrap(err).
			WithSuggestion("run liveroute serve --help for the " + Prefix + "_* variables")
	}
	return &c, nil
}

// Validate checks the configuration for serving.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return invalid("%s_ADDR is required", Prefix)
	}
	if _, ok := parseLevel(c.LogLevel); !ok {
		return invalid("%s_LOG_LEVEL must be debug, info, warn or error, got %q", Prefix, c.LogLevel)
	}
	if c.MetricsPath != "" && !strings.HasPrefix(c.MetricsPath, "/") {
		return invalid("%s_METRICS_PATH must start with /", Prefix)
	}
	if c.PortTTL <= 0 {
		return invalid("%s_PORT_TTL must be positive", Prefix)
	}
	if c.PortBacklog < 0 {
		return invalid("%s_PORT_BACKLOG must not be negative", Prefix)
	}
	if c.ShutdownTimeout <= 0 {
		return invalid("%s_SHUTDOWN_TIMEOUT must be positive", Prefix)
	}
	if c.SessionTTL <= 0 {
		return invalid("%s_SESSION_TTL must be positive", Prefix)
	}
	if c.NATSURL != "" && c.NATSSubject == "" {
		return invalid("%s_NATS_SUBJECT is required with %s_NATS_URL", Prefix, Prefix)
	}
	if c.S3Bucket != "" && c.S3Region == "" {
		return invalid("%s_S3_REGION is required with %s_S3_BUCKET", Prefix, Prefix)
	}
	if (c.S3AccessKey == "") != (c.S3SecretKey == "") {
		return invalid("%s_S3_ACCESS_KEY and %s_S3_SECRET_KEY must be set together", Prefix, Prefix)
	}
	return nil
}

// Level returns the slog level named by LogLevel.
func (c *Config) Level() slog.Level {
	level, _ := parseLevel(c.LogLevel)
	return level
}

func parseLevel(s string) (slog.Level, bool) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, true
	case "info", "":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	}
	return slog.LevelInfo, false
}

func invalid(format string, args ...any) error {
	return lrerrors.New("C001").WithDetailf(format, args...).
		WithSuggestion("unset the variable to use its default")
}
