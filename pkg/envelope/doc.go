// Package envelope defines the JSON wire format exchanged between broker
// nodes, their clients and their federated peers.
//
// Every text frame carries exactly one JSON object. Three shapes exist:
//   - Request: {"transaction_id", "action", "params"} sent by a client or a peer
//   - Reply: {"transaction_id", "action":"ack", "status", "message", "data", "timestamp", "runtime"}
//   - Push: a one-way delivery (broadcast, publish, send) with no status field
//
// The same types are used by the node (internal/kernel) and by the Go client
// (pkg/brokerclient), so both sides agree on field names and constants.
//
// Example usage:
//
//	req := envelope.NewRequest(envelope.ActionSubscribe, map[string]any{"channel": "orders"})
//	frame, err := envelope.Encode(req)
//	if err != nil {
//		return err
//	}
//	conn.WriteMessage(websocket.TextMessage, frame)
package envelope
