package meshnode

import (
	"context"
	"io"
	"time"

	"github.com/rmacdonaldsmith/meshbroker-go/pkg/registry"
)

// Node is a single broker in the mesh. It owns the client and session
// listeners, the registry and every live connection.
type Node interface {
	io.Closer

	// Start binds both listeners, writes the bound ports back into the
	// node configuration and, for a joining node, dials the bootstrap peer.
	Start(ctx context.Context) error

	// Stop closes the listeners, then every connection, cancels pending
	// dials and waits for all goroutines. Safe to call more than once.
	Stop(ctx context.Context) error

	// ID returns the node id, also used as the owning session id of the
	// node's own clients.
	ID() string

	// ClientsAddr and SessionsAddr return the bound listener addresses.
	ClientsAddr() string
	SessionsAddr() string

	// Registry exposes the node registry.
	Registry() registry.Registry

	// Snapshot returns a consistent copy of the registry for operators.
	Snapshot() Snapshot

	// GetHealth returns the overall health status of this node.
	GetHealth(ctx context.Context) (HealthStatus, error)
}

// HealthStatus represents the overall health of a node
type HealthStatus struct {
	// Healthy indicates if the node is accepting connections
	Healthy bool

	// ConnectedClients is the number of clients attached to this node
	ConnectedClients int

	// MirroredClients is the number of clients known through peers
	MirroredClients int

	// ConnectedPeers is the number of open peer sessions
	ConnectedPeers int

	// Subscriptions is the total number of subscription rows
	Subscriptions int

	// Uptime is the time since Start returned
	Uptime time.Duration

	// Message provides additional health information
	Message string
}

// Snapshot is the operator view of a node registry.
type Snapshot struct {
	ID            string                  `json:"id"`
	Host          string                  `json:"host"`
	SessionsPort  int                     `json:"sessions_port"`
	ClientsPort   int                     `json:"clients_port"`
	Registered    bool                    `json:"registered"`
	Sessions      []SessionInfo           `json:"sessions"`
	Clients       []ClientInfo            `json:"clients"`
	Subscriptions []registry.Subscription `json:"subscriptions"`
}

// SessionInfo is a session record without its link.
type SessionInfo struct {
	ID           string    `json:"id"`
	Role         string    `json:"role"`
	Host         string    `json:"host"`
	SessionsPort int       `json:"sessions_port"`
	ClientsPort  int       `json:"clients_port"`
	Registered   bool      `json:"registered"`
	ConnectedAt  time.Time `json:"connected_at"`
}

// ClientInfo is a client record without its link.
type ClientInfo struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	Local       bool      `json:"local"`
	ConnectedAt time.Time `json:"connected_at"`
}

// NewSessionInfo strips the link from a session record.
func NewSessionInfo(s registry.Session) SessionInfo {
	return SessionInfo{
		ID:           s.ID,
		Role:         s.Role.String(),
		Host:         s.Host,
		SessionsPort: s.SessionsPort,
		ClientsPort:  s.ClientsPort,
		Registered:   s.Registered,
		ConnectedAt:  s.ConnectedAt,
	}
}

// NewClientInfo strips the link from a client record.
func NewClientInfo(c registry.Client) ClientInfo {
	return ClientInfo{
		ID:          c.ID,
		SessionID:   c.SessionID,
		Local:       c.Local,
		ConnectedAt: c.ConnectedAt,
	}
}
