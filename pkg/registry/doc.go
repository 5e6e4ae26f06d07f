// Package registry defines the per-node registry contract: the records a
// broker node keeps about federated sessions, connected clients and channel
// subscriptions, and the operations used to mutate and fan out over them.
//
// This package defines the core abstractions:
//   - Outbound: a live link that frames can be queued on
//   - Session: a peer node link, either accepted (RoleLocal) or dialed (RoleRemote)
//   - Client: an end-user connection, or a mirror of one owned by a peer
//   - Subscription: the (session_id, client_id, channel) triple
//   - Registry: the concurrent store plus its fan-out helpers
//
// A Client whose SessionID equals the node id is attached to this node; any
// other SessionID names the peer session that owns the socket. Mirrors have
// no Outbound.
//
// Example usage:
//
//	reg.AddClient(registry.Client{ID: id, SessionID: reg.ID(), Local: true, Link: conn})
//	if reg.Subscribe(reg.ID(), id, "orders") {
//		reg.SubscribeToSessions(txID, id, "orders")
//	}
//	count := reg.PublishToClients(txID, "orders", id, payload)
package registry
