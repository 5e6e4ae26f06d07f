package peerlink

import (
	"context"
	"net"
	"strconv"
)

// State is a step of the connection state machine shared by client and
// session links.
type State int

const (
	StateConnecting State = iota
	StateTLSHandshaking
	StateWSHandshaking
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateTLSHandshaking:
		return "tls_handshaking"
	case StateWSHandshaking:
		return "ws_handshaking"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// PeerAddress is where a peer node accepts sessions and clients.
type PeerAddress struct {
	Host         string
	SessionsPort int
	ClientsPort  int
}

// SessionsAddr returns host:port for the sessions listener.
func (a PeerAddress) SessionsAddr() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.SessionsPort))
}

// ClientsAddr returns host:port for the clients listener.
func (a PeerAddress) ClientsAddr() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.ClientsPort))
}

// Dialer opens federated session links.
//
// Dial starts connecting to a peer in the background, retrying on a fixed
// interval until the link opens or ctx ends. It reports false when the
// address is already being dialed or points back at this node.
type Dialer interface {
	Dial(ctx context.Context, address PeerAddress) bool
}
