package kernel

import (
	"context"

	"github.com/rmacdonaldsmith/meshbroker-go/internal/validator"
	"github.com/rmacdonaldsmith/meshbroker-go/pkg/envelope"
	"github.com/rmacdonaldsmith/meshbroker-go/pkg/peerlink"
	"github.com/rmacdonaldsmith/meshbroker-go/pkg/registry"
)

// register records the ports a peer advertises over its session and answers
// with this node's share of the mesh state.
func (k *Kernel) register(ctx context.Context, req *Request, res *Response) {
	if req.Context == envelope.OnClient {
		k.log(req, envelope.MessageNoEffect)
		res.next(req, envelope.MessageNoEffect, nil)
		return
	}
	if bag := validator.Register(req.Object); !bag.Passed() {
		res.invalid(req, bag)
		return
	}
	sessionsPort := validator.Number(req.Params, "sessions_port")
	clientsPort := validator.Number(req.Params, "clients_port")
	registered := validator.Bool(req.Params, "registered")

	if !k.registry.RegisterSession(req.EntityID, sessionsPort, clientsPort) {
		k.log(req, envelope.MessageNoEffect)
		res.next(req, envelope.MessageNoEffect, nil)
		return
	}
	frames := k.registry.Sync(ctx, req.EntityID, registered)
	k.log(req, envelope.MessageOK,
		"sessions_port", sessionsPort,
		"clients_port", clientsPort,
		"registered", registered,
		"synced", frames,
	)
	res.next(req, envelope.MessageOK, nil)
}

// session asks this node to open a link to another peer it does not know yet.
func (k *Kernel) session(ctx context.Context, req *Request, res *Response) {
	if req.Context == envelope.OnClient {
		k.log(req, envelope.MessageNoEffect)
		res.next(req, envelope.MessageNoEffect, nil)
		return
	}
	if bag := validator.Session(req.Object); !bag.Passed() {
		res.invalid(req, bag)
		return
	}
	address := peerlink.PeerAddress{
		Host:         validator.String(req.Params, "host"),
		SessionsPort: validator.Number(req.Params, "sessions_port"),
		ClientsPort:  validator.Number(req.Params, "clients_port"),
	}
	status := envelope.MessageNoEffect
	if k.dialer != nil && !k.registry.HasSession(address.Host, address.SessionsPort, address.ClientsPort) {
		// The dial outlives the request that triggered it.
		if k.dialer.Dial(context.WithoutCancel(ctx), address) {
			status = envelope.MessageOK
		}
	}
	k.log(req, status, "host", address.Host, "sessions_port", address.SessionsPort, "clients_port", address.ClientsPort)
	res.next(req, status, nil)
}

// join mirrors a client attached to the sending peer.
func (k *Kernel) join(_ context.Context, req *Request, res *Response) {
	if req.Context == envelope.OnClient {
		k.log(req, envelope.MessageNoEffect)
		res.next(req, envelope.MessageNoEffect, nil)
		return
	}
	if bag := validator.Identifier(req.Object, "client_id"); !bag.Passed() {
		res.invalid(req, bag)
		return
	}
	clientID := validator.ID(req.Params, "client_id")
	status := envelope.StatusMessage(k.registry.AddClient(registry.Client{
		ID:          clientID,
		SessionID:   req.EntityID,
		Local:       false,
		ConnectedAt: req.ArrivedAt,
	}))
	k.log(req, status, "client_id", clientID)
	res.next(req, status, nil)
}

// leave drops a mirrored client. Only the peer the client was mirrored
// through may remove it, unless that peer's session is already gone.
func (k *Kernel) leave(_ context.Context, req *Request, res *Response) {
	if req.Context == envelope.OnClient {
		k.log(req, envelope.MessageNoEffect)
		res.next(req, envelope.MessageNoEffect, nil)
		return
	}
	if bag := validator.Identifier(req.Object, "client_id"); !bag.Passed() {
		res.invalid(req, bag)
		return
	}
	clientID := validator.ID(req.Params, "client_id")
	removed := false
	if client, ok := k.registry.GetClient(clientID); ok && k.mayRemove(client, req.EntityID) {
		removed = k.registry.RemoveClient(clientID)
	}
	status := envelope.StatusMessage(removed)
	k.log(req, status, "client_id", clientID)
	res.next(req, status, nil)
}

func (k *Kernel) mayRemove(client registry.Client, sessionID string) bool {
	if client.Local {
		return false
	}
	if client.SessionID == sessionID {
		return true
	}
	_, owned := k.registry.GetSession(client.SessionID)
	return !owned
}
