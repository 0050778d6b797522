package server

import (
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/vango-dev/liveroute/pkg/messaging"
	"github.com/vango-dev/liveroute/pkg/state"
)

// Config holds the server configuration.
type Config struct {
	// Address is the address to listen on.
	// Default: ":8080".
	Address string

	// ReadHeaderTimeout limits how long to read request headers.
	// Default: 5 seconds.
	ReadHeaderTimeout time.Duration

	// ReadTimeout limits how long to read the full request.
	// Default: 30 seconds.
	ReadTimeout time.Duration

	// WriteTimeout limits how long to write a response.
	// Default: 30 seconds.
	WriteTimeout time.Duration

	// IdleTimeout limits keep-alive idle time.
	// Default: 120 seconds.
	IdleTimeout time.Duration

	// ShutdownTimeout bounds graceful shutdown.
	// Default: 30 seconds.
	ShutdownTimeout time.Duration

	// CommitTimeout bounds the state commit that follows a completed event.
	// Default: 10 seconds.
	CommitTimeout time.Duration

	// LivePath is the prefix of the live port attach endpoint.
	// Default: "/_live".
	LivePath string

	// PortTTL is how long a live port may go without subscribers before it
	// is released and its response closed.
	// Default: 30 seconds.
	PortTTL time.Duration

	// PortBacklog is how many messages a live port queues until its first
	// subscriber attaches.
	// Default: 256.
	PortBacklog int

	// CheckOrigin validates the Origin header of attach requests.
	// Default: SameOriginCheck.
	CheckOrigin func(r *http.Request) bool

	// Socket configures attached socket ports.
	Socket *messaging.SocketConfig

	// MetricsPath serves Prometheus metrics when set.
	MetricsPath string

	// Registry receives the server's metrics when MetricsPath is set.
	// Default: prometheus.DefaultRegisterer with the default gatherer.
	Registry *prometheus.Registry

	// State configures the per-request state stores.
	State StateConfig

	// Logger is the server logger.
	// Default: slog.Default().
	Logger *slog.Logger
}

// StateConfig selects the backends behind each Event's stores.
type StateConfig struct {
	// Session backs the session store. Nil disables it.
	Session state.Backend

	// SessionCookie names the cookie carrying the session id.
	// Default: "liveroute_session".
	SessionCookie string

	// SessionTTL is the session record lifetime.
	// Default: 24 hours.
	SessionTTL time.Duration

	// SecureCookies marks the session cookie Secure.
	SecureCookies bool

	// User backs the user store. Nil disables it.
	User state.Backend

	// UserID identifies the user of a request. An empty id leaves the
	// user store unset.
	UserID func(r *http.Request) string

	// UserTTL is the user record lifetime. Zero keeps records forever.
	UserTTL time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Address:           ":8080",
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		ShutdownTimeout:   30 * time.Second,
		CommitTimeout:     10 * time.Second,
		LivePath:          "/_live",
		PortTTL:           30 * time.Second,
		PortBacklog:       256,
		CheckOrigin:       SameOriginCheck,
		State: StateConfig{
			SessionCookie: "liveroute_session",
			SessionTTL:    24 * time.Hour,
		},
	}
}

// Clone returns a copy of the Config.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	clone.Socket = c.Socket.Clone()
	return &clone
}

// withDefaults fills unset fields from DefaultConfig.
func (c *Config) withDefaults() *Config {
	defaults := DefaultConfig()
	if c == nil {
		return defaults
	}
	out := c.Clone()
	if out.Address == "" {
		out.Address = defaults.Address
	}
	if out.ReadHeaderTimeout == 0 {
		out.ReadHeaderTimeout = defaults.ReadHeaderTimeout
	}
	if out.ReadTimeout == 0 {
		out.ReadTimeout = defaults.ReadTimeout
	}
	if out.WriteTimeout == 0 {
		out.WriteTimeout = defaults.WriteTimeout
	}
	if out.IdleTimeout == 0 {
		out.IdleTimeout = defaults.IdleTimeout
	}
	if out.ShutdownTimeout == 0 {
		out.ShutdownTimeout = defaults.ShutdownTimeout
	}
	if out.CommitTimeout == 0 {
		out.CommitTimeout = defaults.CommitTimeout
	}
	if out.LivePath == "" {
		out.LivePath = defaults.LivePath
	}
	if out.PortTTL == 0 {
		out.PortTTL = defaults.PortTTL
	}
	if out.PortBacklog == 0 {
		out.PortBacklog = defaults.PortBacklog
	}
	if out.CheckOrigin == nil {
		out.CheckOrigin = defaults.CheckOrigin
	}
	if out.State.SessionCookie == "" {
		out.State.SessionCookie = defaults.State.SessionCookie
	}
	if out.State.SessionTTL == 0 {
		out.State.SessionTTL = defaults.State.SessionTTL
	}
	if out.Logger == nil {
		out.Logger = slog.Default()
	}
	return out
}

// SameOriginCheck accepts attach requests whose Origin host matches the
// request host, and requests with no Origin at all.
func SameOriginCheck(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if r.Host == "" {
		return false
	}
	return originURL.Host == r.Host
}
