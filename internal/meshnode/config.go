package meshnode

import (
	"errors"
	"fmt"

	"github.com/rmacdonaldsmith/meshbroker-go/internal/peerlink"
	"github.com/rmacdonaldsmith/meshbroker-go/internal/tlsutil"
	peerlinkpkg "github.com/rmacdonaldsmith/meshbroker-go/pkg/peerlink"
)

var (
	// ErrEmptyAddress is returned when the bind address is empty
	ErrEmptyAddress = errors.New("bind address cannot be empty")
	// ErrInvalidPort is returned when a port is outside 0..65535
	ErrInvalidPort = errors.New("port must be between 0 and 65535")
	// ErrInvalidThreads is returned when the worker count is not positive
	ErrInvalidThreads = errors.New("threads must be positive")
	// ErrMissingTLS is returned when no TLS configuration was supplied
	ErrMissingTLS = errors.New("tls configuration is required")
	// ErrMissingRemote is returned when a joining node has no remote peer
	ErrMissingRemote = errors.New("remote host and ports are required when is_node is set")
)

// Defaults applied by NewConfig.
const (
	DefaultAddress            = "0.0.0.0"
	DefaultThreads            = 4
	DefaultSessionsPort       = 11000
	DefaultClientsPort        = 12000
	DefaultRemoteHost         = "localhost"
	DefaultRemoteSessionsPort = 9000
	DefaultRemoteClientsPort  = 10000
)

// Config represents configuration for a broker node
type Config struct {
	// Address is the interface both listeners bind to
	Address string

	// Threads is the number of OS threads running Go code
	Threads int

	// IsNode makes the node dial the remote node at startup and join its mesh
	IsNode bool

	// SessionsPort and ClientsPort are the listener ports; 0 picks a free port
	SessionsPort int
	ClientsPort  int

	// Remote is the bootstrap peer dialed when IsNode is set
	RemoteHost         string
	RemoteSessionsPort int
	RemoteClientsPort  int

	// MaxConnections caps concurrent sockets per listener; 0 means unlimited
	MaxConnections int

	// PeerLink configuration - shared by client and session links
	PeerLinkConfig *peerlink.Config

	// TLS holds the listener and dial configurations
	TLS *tlsutil.Configs
}

// NewConfig creates a new node configuration with safe defaults
func NewConfig(tls *tlsutil.Configs) *Config {
	return &Config{
		Address:            DefaultAddress,
		Threads:            DefaultThreads,
		SessionsPort:       DefaultSessionsPort,
		ClientsPort:        DefaultClientsPort,
		RemoteHost:         DefaultRemoteHost,
		RemoteSessionsPort: DefaultRemoteSessionsPort,
		RemoteClientsPort:  DefaultRemoteClientsPort,
		TLS:                tls,
	}
}

// SetDefaults fills unset component configuration
func (c *Config) SetDefaults() {
	if c.PeerLinkConfig == nil {
		c.PeerLinkConfig = &peerlink.Config{}
	}
	c.PeerLinkConfig.SetDefaults()
	if c.Threads <= 0 {
		c.Threads = DefaultThreads
	}
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	if c.Address == "" {
		return ErrEmptyAddress
	}
	if c.Threads <= 0 {
		return ErrInvalidThreads
	}
	for _, port := range []int{c.SessionsPort, c.ClientsPort} {
		if port < 0 || port > 65535 {
			return ErrInvalidPort
		}
	}
	if c.TLS == nil || c.TLS.Clients == nil || c.TLS.Sessions == nil || c.TLS.Dial == nil {
		return ErrMissingTLS
	}
	if c.IsNode {
		if c.RemoteHost == "" || c.RemoteSessionsPort <= 0 || c.RemoteSessionsPort > 65535 {
			return ErrMissingRemote
		}
	}

	// Validate PeerLink config if provided
	if c.PeerLinkConfig != nil {
		if err := c.PeerLinkConfig.Validate(); err != nil {
			return fmt.Errorf("invalid PeerLink config: %w", err)
		}
	}

	return nil
}

// Remote returns the bootstrap peer address.
func (c *Config) Remote() peerlinkpkg.PeerAddress {
	return peerlinkpkg.PeerAddress{
		Host:         c.RemoteHost,
		SessionsPort: c.RemoteSessionsPort,
		ClientsPort:  c.RemoteClientsPort,
	}
}

// WithPorts sets the listener ports
func (c *Config) WithPorts(sessionsPort, clientsPort int) *Config {
	c.SessionsPort = sessionsPort
	c.ClientsPort = clientsPort
	return c
}

// WithRemote makes the node join the mesh through the given peer
func (c *Config) WithRemote(host string, sessionsPort, clientsPort int) *Config {
	c.IsNode = true
	c.RemoteHost = host
	c.RemoteSessionsPort = sessionsPort
	c.RemoteClientsPort = clientsPort
	return c
}

// WithPeerLinkConfig sets the PeerLink configuration
func (c *Config) WithPeerLinkConfig(config *peerlink.Config) *Config {
	c.PeerLinkConfig = config
	return c
}

// WithMaxConnections caps concurrent sockets per listener
func (c *Config) WithMaxConnections(n int) *Config {
	c.MaxConnections = n
	return c
}
