package registry

import "sync"

// Config is the runtime-mutable part of the node configuration. Ports start
// at the configured value and are rewritten once the listener knows the real
// bound port (0 asks for any free port). Registered flips once, after the
// node first announced itself to the mesh.
type Config struct {
	mu           sync.RWMutex
	host         string
	sessionsPort int
	clientsPort  int
	registered   bool
}

// NewConfig creates a runtime configuration for a node advertising host.
func NewConfig(host string, sessionsPort, clientsPort int) *Config {
	return &Config{
		host:         host,
		sessionsPort: sessionsPort,
		clientsPort:  clientsPort,
	}
}

// Host returns the advertised host.
func (c *Config) Host() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.host
}

// SessionsPort returns the current sessions port.
func (c *Config) SessionsPort() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionsPort
}

// ClientsPort returns the current clients port.
func (c *Config) ClientsPort() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.clientsPort
}

// SetSessionsPort records the bound sessions port.
func (c *Config) SetSessionsPort(port int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionsPort = port
}

// SetClientsPort records the bound clients port.
func (c *Config) SetClientsPort(port int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clientsPort = port
}

// Registered reports whether the node already announced itself to a peer.
func (c *Config) Registered() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.registered
}

// Announce returns the values sent in a register request and marks the node
// as registered. The returned flag is the value before the call, so only the
// first announcement reports false.
func (c *Config) Announce() (sessionsPort, clientsPort int, registered bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	registered = c.registered
	c.registered = true
	return c.sessionsPort, c.clientsPort, registered
}
