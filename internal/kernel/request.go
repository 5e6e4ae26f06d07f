package kernel

import (
	"time"

	"github.com/rmacdonaldsmith/meshbroker-go/internal/validator"
	"github.com/rmacdonaldsmith/meshbroker-go/pkg/envelope"
)

// Request is the read-only view a handler receives.
type Request struct {
	TransactionID string
	Action        string
	Context       envelope.Context
	EntityID      string
	Object        map[string]any
	Params        map[string]any
	ArrivedAt     time.Time
}

// Response collects the outcome of one dispatch.
//
// Processed is set on every response the kernel returns. Ack marks an inbound
// acknowledgment: nothing is written back for it.
type Response struct {
	Failed    bool
	Processed bool
	Ack       bool
	Reply     envelope.Reply
}

// Frame serializes the reply. It returns nil when there is nothing to send.
func (r *Response) Frame() ([]byte, error) {
	if r == nil || r.Ack {
		return nil, nil
	}
	return envelope.Encode(r.Reply)
}

func (r *Response) next(req *Request, message string, data map[string]any) {
	r.Reply = envelope.Success(req.TransactionID, message, req.ArrivedAt, data)
}

func (r *Response) invalid(req *Request, bag validator.Bag) {
	r.Failed = true
	r.Reply = envelope.Failure(req.TransactionID, envelope.MessageUnprocessable, req.ArrivedAt, bag)
}
