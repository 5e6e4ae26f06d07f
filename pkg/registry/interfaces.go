package registry

import (
	"context"
	"time"
)

// Outbound is a live link frames can be queued on. Implementations must
// preserve enqueue order and never block the caller on the network.
type Outbound interface {
	// Enqueue appends a serialized frame to the outbound queue.
	Enqueue(frame []byte) error

	// Send appends a frame, waiting for room in the queue until ctx ends or
	// the link closes.
	Send(ctx context.Context, frame []byte) error

	// Close tears the link down. Safe to call more than once.
	Close() error
}

// Role tells how a session link was established.
type Role int

const (
	// RoleLocal marks a session accepted by this node's session listener.
	RoleLocal Role = iota

	// RoleRemote marks a session this node dialed out to.
	RoleRemote
)

func (r Role) String() string {
	switch r {
	case RoleLocal:
		return "local"
	case RoleRemote:
		return "remote"
	default:
		return "unknown"
	}
}

// Session is a snapshot of a peer link record.
type Session struct {
	ID           string
	Role         Role
	Host         string
	SessionsPort int
	ClientsPort  int
	Registered   bool
	ConnectedAt  time.Time
	Link         Outbound
}

// Client is a snapshot of a client record.
type Client struct {
	ID          string
	SessionID   string
	Local       bool
	ConnectedAt time.Time
	Link        Outbound
}

// Subscription binds a client, owned by a session, to a channel.
type Subscription struct {
	SessionID string `json:"session_id"`
	ClientID  string `json:"client_id"`
	Channel   string `json:"channel"`
}

// Registry is the single source of truth for a node. Every method is safe
// for concurrent use.
type Registry interface {
	// ID returns the node id, also used as the owning session id of
	// clients attached to this node.
	ID() string

	AddClient(client Client) bool
	RemoveClient(id string) bool
	GetClient(id string) (Client, bool)
	GetClients() []Client

	AddSession(session Session) bool
	RemoveSession(id string) bool
	GetSession(id string) (Session, bool)
	GetSessions() []Session

	// RegisterSession records the ports a peer advertised and marks it
	// registered. It reports false when the session is unknown.
	RegisterSession(id string, sessionsPort, clientsPort int) bool

	// HasSession reports whether a session already points at host and ports.
	HasSession(host string, sessionsPort, clientsPort int) bool

	Subscribe(sessionID, clientID, channel string) bool
	Unsubscribe(sessionID, clientID, channel string) bool
	IsSubscribed(clientID, channel string) bool
	GetSubscriptions() []Subscription

	// BroadcastToClients pushes a broadcast to every attached client except
	// fromClientID and returns the number of recipients.
	BroadcastToClients(transactionID, fromClientID string, payload map[string]any) int

	// BroadcastToSessions forwards a broadcast to every peer session.
	BroadcastToSessions(transactionID, fromClientID string, payload map[string]any) int

	// PublishToClients pushes a publish to every attached client subscribed
	// to channel except fromClientID.
	PublishToClients(transactionID, channel, fromClientID string, payload map[string]any) int

	// PublishToSessions forwards a publish once to every peer session that
	// holds a subscription on channel.
	PublishToSessions(transactionID, channel, fromClientID string, payload map[string]any) int

	// SubscribeToSessions and UnsubscribeToSessions tell every peer about a
	// subscription change made on this node.
	SubscribeToSessions(transactionID, clientID, channel string) int
	UnsubscribeToSessions(transactionID, clientID, channel string) int

	// JoinToSessions and LeaveToSessions tell every peer about a client
	// attaching to or leaving this node.
	JoinToSessions(clientID string) int
	LeaveToSessions(clientID string) int

	// SendToClient pushes a send to an attached client.
	SendToClient(transactionID, fromClientID, toClientID string, payload map[string]any) bool

	// SendToSession forwards a send over the link of sessionID.
	SendToSession(transactionID, sessionID, fromClientID, toClientID string, payload map[string]any) bool

	// Sync transmits this node's own clients and subscriptions to a peer
	// and, when the peer is not yet registered, the list of other sessions
	// it should dial. Frames are never dropped for lack of queue room; Sync
	// waits instead, until ctx ends or the link closes.
	Sync(ctx context.Context, sessionID string, peerRegistered bool) int
}
