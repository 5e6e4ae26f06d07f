package peerlink

import (
	"errors"
	"time"
)

// Config holds the tunables shared by every client and session link.
type Config struct {
	SendQueueSize     int
	HeartbeatInterval time.Duration
	MaxMessageSize    int64
	HandshakeTimeout  time.Duration
	WriteTimeout      time.Duration
	RetryInterval     time.Duration
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.SendQueueSize < 0 {
		return errors.New("send queue size cannot be negative")
	}
	if c.MaxMessageSize < 0 {
		return errors.New("max message size cannot be negative")
	}
	if c.RetryInterval < 0 {
		return errors.New("retry interval cannot be negative")
	}
	return nil
}

// SetDefaults sets sensible default values for unset configuration fields
func (c *Config) SetDefaults() {
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = 1000
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 5 * time.Second
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 1024 * 1024 // 1MB
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = 3 * time.Second
	}
}
