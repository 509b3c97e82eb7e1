package sipcore

import (
	"time"

	"sipline.dev/core/internal/obslog"
	"sipline.dev/core/metrics"
)

// Config is the library-wide, mostly-persisted configuration spec §6
// names: defaultWebSocketUrl, pingIntervalMs, userAgent, ringtoneUris,
// plus the ambient knobs (metrics, logging, reconnect concurrency) that
// have no wire representation.
type Config struct {
	// DefaultWebSocketURL is used when an AccountParams does not override
	// it (multi-tenant deployments may point different accounts at
	// different clusters).
	DefaultWebSocketURL string
	// DefaultDomain builds the Origin header: "https://telephony.<domain>".
	DefaultDomain string
	PingInterval  time.Duration
	UserAgent     string
	RingtoneURIs  []string

	MaxConcurrentReconnects int

	Metrics metrics.Config
	Logger  *obslog.Logger
}

// DefaultConfig matches the teacher's defaults for ping interval and
// concurrency, renamed to this module's domain.
func DefaultConfig() Config {
	return Config{
		PingInterval:            30 * time.Second,
		UserAgent:               "sipline/1.0",
		MaxConcurrentReconnects: 4,
		Metrics:                 metrics.DefaultConfig(),
	}
}

func (c Config) originHeader() string {
	return "https://telephony." + c.DefaultDomain
}

// AccountParams is the register() argument list from spec §6, plus the
// WebSocket URL override DefaultWebSocketURL already covers for the
// common case.
type AccountParams struct {
	Username     string
	Password     string
	Domain       string
	DisplayName  string
	PushProvider string
	PushToken    string

	// WebSocketURL overrides Config.DefaultWebSocketURL for this account.
	WebSocketURL string
	// DefaultExpires overrides the REGISTER expires requested; zero uses
	// registrarDefaultExpires.
	DefaultExpires int
	// MaxExpires caps the refresh schedule; zero uses registrarMaxExpires.
	MaxExpires time.Duration
}

// accountKey implements the invariant "key == username + '@' + domain"
// (spec §3).
func (p AccountParams) accountKey() string {
	return p.Username + "@" + p.Domain
}

const (
	registrarDefaultExpires = 3600
	registrarMaxExpires     = 3600 * time.Second
)
