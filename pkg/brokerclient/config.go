package brokerclient

import (
	"crypto/tls"
	"time"

	"pkt.systems/pslog"
)

// Config configures a broker connection.
type Config struct {
	// Address is the host:port of the node clients listener.
	Address string

	// TLSConfig is used for the handshake. A nil config verifies against the
	// system roots.
	TLSConfig *tls.Config

	// Timeout bounds the welcome read and every request round trip.
	Timeout time.Duration

	// HandshakeTimeout bounds the TLS and WebSocket handshakes.
	HandshakeTimeout time.Duration

	// MessageBuffer is the capacity of the Messages channel. Pushes that
	// arrive while it is full are dropped.
	MessageBuffer int

	// Logger receives connection events. Nil disables logging.
	Logger pslog.Logger
}

// SetDefaults sets reasonable default values for Config
func (c *Config) SetDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 10 * time.Second
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.MessageBuffer == 0 {
		c.MessageBuffer = 256
	}
	if c.Logger == nil {
		c.Logger = pslog.NoopLogger()
	}
}

// AdminConfig configures the admin HTTP client.
type AdminConfig struct {
	// ServerURL is the base URL of the admin API, e.g. http://localhost:8081.
	ServerURL string

	// Token is the admin bearer token. Health does not need one.
	Token string

	// Timeout for each HTTP request
	Timeout time.Duration

	// TLSConfig is used for https admin URLs.
	TLSConfig *tls.Config
}

// SetDefaults sets reasonable default values for AdminConfig
func (c *AdminConfig) SetDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
}

func defaultTLS() *tls.Config {
	return &tls.Config{MinVersion: tls.VersionTLS12}
}
