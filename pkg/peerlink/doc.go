// Package peerlink provides the contract for links between broker nodes.
//
// Every connection, client or peer, runs the same state machine:
//
//	connecting (dialed links only) -> tls_handshaking -> ws_handshaking -> open -> closing -> closed
//
// Once open, a link reads frames in one goroutine and writes them from a
// FIFO queue in another, so at most one write is in flight per socket.
//
// This package defines:
//   - State: the state machine steps
//   - PeerAddress: the advertised host and ports of a node
//   - Dialer: starts an outbound federation link with a fixed retry interval
//
// Example usage:
//
//	addr := peerlink.PeerAddress{Host: "node-a", SessionsPort: 11000, ClientsPort: 12000}
//	if !dialer.Dial(ctx, addr) {
//		// already connected or pending
//	}
package peerlink
