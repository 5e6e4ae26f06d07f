package kernel

import (
	"context"

	"github.com/rmacdonaldsmith/meshbroker-go/internal/validator"
	"github.com/rmacdonaldsmith/meshbroker-go/pkg/envelope"
)

// broadcast delivers to every client in the mesh except the sender. A peer
// only delivers locally; forwarding happens once, at the origin node.
func (k *Kernel) broadcast(_ context.Context, req *Request, res *Response) {
	if bag := validator.Broadcast(req.Object, req.Context); !bag.Passed() {
		res.invalid(req, bag)
		return
	}
	payload := validator.Object(req.Params, "payload")

	var count, forwarded int
	switch req.Context {
	case envelope.OnClient:
		count = k.registry.BroadcastToClients(req.TransactionID, req.EntityID, payload)
		forwarded = k.registry.BroadcastToSessions(req.TransactionID, req.EntityID, payload)
		k.metrics.forwarded(envelope.ActionBroadcast, forwarded)
	case envelope.OnSession:
		clientID := validator.ID(req.Params, "client_id")
		count = k.registry.BroadcastToClients(req.TransactionID, clientID, payload)
	}
	status := envelope.StatusMessage(count+forwarded > 0)
	k.log(req, status, "count", count, "forwarded", forwarded, "size", len(payload))
	res.next(req, status, map[string]any{"count": count})
}

// publish delivers to subscribers of a channel, locally and on every peer
// that holds at least one subscription for it.
func (k *Kernel) publish(_ context.Context, req *Request, res *Response) {
	if bag := validator.Publish(req.Object, req.Context); !bag.Passed() {
		res.invalid(req, bag)
		return
	}
	channel := validator.String(req.Params, "channel")
	payload := validator.Object(req.Params, "payload")

	var count, forwarded int
	switch req.Context {
	case envelope.OnClient:
		count = k.registry.PublishToClients(req.TransactionID, channel, req.EntityID, payload)
		forwarded = k.registry.PublishToSessions(req.TransactionID, channel, req.EntityID, payload)
		k.metrics.forwarded(envelope.ActionPublish, forwarded)
	case envelope.OnSession:
		clientID := validator.ID(req.Params, "client_id")
		count = k.registry.PublishToClients(req.TransactionID, channel, clientID, payload)
	}
	status := envelope.StatusMessage(count+forwarded > 0)
	k.log(req, status, "channel", channel, "count", count, "forwarded", forwarded, "size", len(payload))
	res.next(req, status, map[string]any{"count": count})
}

// send delivers to a single client, wherever in the mesh it is attached.
func (k *Kernel) send(_ context.Context, req *Request, res *Response) {
	if bag := validator.Send(req.Object, req.Context); !bag.Passed() {
		res.invalid(req, bag)
		return
	}
	toClientID := validator.ID(req.Params, "to_client_id")
	payload := validator.Object(req.Params, "payload")

	fromClientID := req.EntityID
	if req.Context == envelope.OnSession {
		fromClientID = validator.ID(req.Params, "from_client_id")
	}

	delivered := false
	if target, ok := k.registry.GetClient(toClientID); ok {
		switch {
		case target.SessionID == k.registry.ID():
			delivered = k.registry.SendToClient(req.TransactionID, fromClientID, toClientID, payload)
		case req.Context == envelope.OnClient:
			delivered = k.registry.SendToSession(req.TransactionID, target.SessionID, fromClientID, toClientID, payload)
			k.metrics.forwarded(envelope.ActionSend, boolToInt(delivered))
		}
	}
	status := envelope.StatusMessage(delivered)
	k.log(req, status, "from_client_id", fromClientID, "to_client_id", toClientID, "size", len(payload))
	res.next(req, status, nil)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
