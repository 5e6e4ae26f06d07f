// Package kernel validates inbound envelopes and routes each one to exactly
// one action handler.
package kernel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"pkt.systems/pslog"

	"github.com/rmacdonaldsmith/meshbroker-go/internal/validator"
	"github.com/rmacdonaldsmith/meshbroker-go/pkg/envelope"
	"github.com/rmacdonaldsmith/meshbroker-go/pkg/peerlink"
	"github.com/rmacdonaldsmith/meshbroker-go/pkg/registry"
)

const tracerName = "github.com/rmacdonaldsmith/meshbroker-go/internal/kernel"

type handler func(ctx context.Context, req *Request, res *Response)

// Kernel dispatches envelopes against a registry. It holds no state of its
// own, so one Kernel serves every connection of a node.
type Kernel struct {
	registry registry.Registry
	dialer   peerlink.Dialer
	logger   pslog.Logger
	tracer   trace.Tracer
	metrics  *Metrics
	now      func() time.Time
	handlers map[string]handler
}

// Option configures a Kernel.
type Option func(*Kernel)

// WithDialer sets the dialer used by the session handler.
func WithDialer(dialer peerlink.Dialer) Option {
	return func(k *Kernel) {
		k.dialer = dialer
	}
}

// WithLogger sets the kernel logger.
func WithLogger(logger pslog.Logger) Option {
	return func(k *Kernel) {
		if logger != nil {
			k.logger = logger
		}
	}
}

// WithTracer overrides the global OpenTelemetry tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(k *Kernel) {
		if tracer != nil {
			k.tracer = tracer
		}
	}
}

// WithMetrics records dispatch counters and latencies.
func WithMetrics(metrics *Metrics) Option {
	return func(k *Kernel) {
		k.metrics = metrics
	}
}

// New creates a kernel bound to reg.
func New(reg registry.Registry, opts ...Option) *Kernel {
	k := &Kernel{
		registry: reg,
		logger:   pslog.NoopLogger(),
		tracer:   otel.Tracer(tracerName),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(k)
	}
	k.logger = k.logger.With("sys", "kernel", "state_id", reg.ID())
	k.handlers = map[string]handler{
		envelope.ActionPing:         k.ping,
		envelope.ActionRegister:     k.register,
		envelope.ActionSession:      k.session,
		envelope.ActionJoin:         k.join,
		envelope.ActionLeave:        k.leave,
		envelope.ActionSubscribe:    k.subscribe,
		envelope.ActionUnsubscribe:  k.unsubscribe,
		envelope.ActionIsSubscribed: k.isSubscribed,
		envelope.ActionBroadcast:    k.broadcast,
		envelope.ActionPublish:      k.publish,
		envelope.ActionSend:         k.send,
	}
	return k
}

// Dispatch validates object and runs the matching handler. entityID is the
// client id for OnClient and the session id for OnSession.
func (k *Kernel) Dispatch(ctx context.Context, object map[string]any, c envelope.Context, entityID string) *Response {
	arrivedAt := k.now()
	action, _ := validator.Action(object)

	ctx, span := k.tracer.Start(ctx, "kernel.dispatch",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("meshbroker.action", action),
			attribute.String("meshbroker.context", c.String()),
			attribute.String("meshbroker.entity_id", entityID),
		),
	)
	defer span.End()

	res := &Response{}
	defer func() {
		res.Processed = true
		k.metrics.observe(action, c, res, k.now().Sub(arrivedAt))
		if res.Failed {
			span.SetStatus(codes.Error, res.Reply.Message)
		} else {
			span.SetStatus(codes.Ok, "")
		}
	}()

	// Acknowledgments terminate here whatever their transaction id looks
	// like, so a failed reply can never bounce between two nodes.
	if action == envelope.ActionAck {
		res.Ack = true
		return res
	}

	if bag := validator.Envelope(object); !bag.Passed() {
		transactionID, _ := validator.TransactionID(object)
		res.Failed = true
		res.Reply = envelope.Failure(transactionID, envelope.MessageUnprocessable, arrivedAt, bag)
		k.logger.Debug("kernel.invalid", "context", c.String(), "entity_id", entityID, "errors", map[string]string(bag))
		return res
	}

	transactionID, _ := validator.TransactionID(object)
	req := &Request{
		TransactionID: transactionID,
		Action:        action,
		Context:       c,
		EntityID:      entityID,
		Object:        object,
		Params:        validator.Params(object),
		ArrivedAt:     arrivedAt,
	}
	span.SetAttributes(attribute.String("meshbroker.transaction_id", transactionID))

	h, ok := k.handlers[action]
	if !ok {
		h = k.unimplemented
	}
	h(ctx, req, res)
	return res
}

// HandleFrame decodes a raw text frame and dispatches it. It returns the
// frame to write back, or nil when no reply is due.
func (k *Kernel) HandleFrame(ctx context.Context, frame []byte, c envelope.Context, entityID string) ([]byte, error) {
	object, ok := envelope.Decode(frame)
	if !ok {
		k.metrics.observeUnprocessable(c)
		return envelope.Encode(envelope.Unprocessable(k.now()))
	}
	return k.Dispatch(ctx, object, c, entityID).Frame()
}

func (k *Kernel) unimplemented(_ context.Context, req *Request, res *Response) {
	res.invalid(req, validator.Unimplemented())
}

// log records the outcome of a handler in the shared field layout.
func (k *Kernel) log(req *Request, status string, kv ...any) {
	fields := append([]any{
		"action", req.Action,
		"context", req.Context.String(),
		"entity_id", req.EntityID,
		"status", status,
	}, kv...)
	k.logger.Info("kernel.handled", fields...)
}
