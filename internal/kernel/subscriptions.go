package kernel

import (
	"context"

	"github.com/rmacdonaldsmith/meshbroker-go/internal/validator"
	"github.com/rmacdonaldsmith/meshbroker-go/pkg/envelope"
)

func (k *Kernel) subscribe(_ context.Context, req *Request, res *Response) {
	if bag := validator.Subscriptions(req.Object, req.Context); !bag.Passed() {
		res.invalid(req, bag)
		return
	}
	channel := validator.String(req.Params, "channel")

	switch req.Context {
	case envelope.OnClient:
		status := envelope.StatusMessage(k.registry.Subscribe(k.registry.ID(), req.EntityID, channel))
		res.next(req, status, nil)
		// Peers treat a repeated subscribe as a no-op, so the change is
		// forwarded regardless of the local outcome.
		forwarded := k.registry.SubscribeToSessions(req.TransactionID, req.EntityID, channel)
		k.log(req, status, "channel", channel, "forwarded", forwarded)
	case envelope.OnSession:
		clientID := validator.ID(req.Params, "client_id")
		status := envelope.StatusMessage(k.registry.Subscribe(req.EntityID, clientID, channel))
		k.log(req, status, "client_id", clientID, "channel", channel)
		res.next(req, status, nil)
	}
}

func (k *Kernel) unsubscribe(_ context.Context, req *Request, res *Response) {
	if bag := validator.Subscriptions(req.Object, req.Context); !bag.Passed() {
		res.invalid(req, bag)
		return
	}
	channel := validator.String(req.Params, "channel")

	switch req.Context {
	case envelope.OnClient:
		status := envelope.StatusMessage(k.registry.Unsubscribe(k.registry.ID(), req.EntityID, channel))
		res.next(req, status, nil)
		forwarded := k.registry.UnsubscribeToSessions(req.TransactionID, req.EntityID, channel)
		k.log(req, status, "channel", channel, "forwarded", forwarded)
	case envelope.OnSession:
		clientID := validator.ID(req.Params, "client_id")
		status := envelope.StatusMessage(k.registry.Unsubscribe(req.EntityID, clientID, channel))
		k.log(req, status, "client_id", clientID, "channel", channel)
		res.next(req, status, nil)
	}
}

func (k *Kernel) isSubscribed(_ context.Context, req *Request, res *Response) {
	if bag := validator.IsSubscribed(req.Object); !bag.Passed() {
		res.invalid(req, bag)
		return
	}
	if req.Context == envelope.OnSession {
		k.log(req, envelope.MessageNoEffect)
		res.next(req, envelope.MessageNoEffect, nil)
		return
	}
	channel := validator.String(req.Params, "channel")
	status := envelope.StatusMessage(k.registry.IsSubscribed(req.EntityID, channel))
	k.log(req, status, "channel", channel)
	res.next(req, status, nil)
}
