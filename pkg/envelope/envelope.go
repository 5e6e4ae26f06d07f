package envelope

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Actions understood by the kernel.
const (
	ActionPing         = "ping"
	ActionRegister     = "register"
	ActionSession      = "session"
	ActionJoin         = "join"
	ActionLeave        = "leave"
	ActionSubscribe    = "subscribe"
	ActionUnsubscribe  = "unsubscribe"
	ActionIsSubscribed = "is_subscribed"
	ActionBroadcast    = "broadcast"
	ActionPublish      = "publish"
	ActionSend         = "send"
	ActionAck          = "ack"
	ActionWelcome      = "welcome"
)

// Reply statuses.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Reply messages with a fixed meaning.
const (
	MessageOK            = "ok"
	MessageNoEffect      = "no effect"
	MessagePong          = "pong"
	MessageAccepted      = "accepted"
	MessageUnprocessable = "unprocessable entity"
)

// Context tells a handler where an envelope came from.
type Context int

const (
	// OnClient marks envelopes read from an end-user socket.
	OnClient Context = iota

	// OnSession marks envelopes read from a federated peer link.
	OnSession
)

func (c Context) String() string {
	switch c {
	case OnClient:
		return "on_client"
	case OnSession:
		return "on_session"
	default:
		return "unknown"
	}
}

// Request is an outbound request built by a client or forwarded by a node.
type Request struct {
	TransactionID string         `json:"transaction_id"`
	Action        string         `json:"action"`
	Params        map[string]any `json:"params,omitempty"`
}

// NewRequest creates a request with a fresh transaction id.
func NewRequest(action string, params map[string]any) Request {
	return Request{
		TransactionID: uuid.NewString(),
		Action:        action,
		Params:        params,
	}
}

// Push is a one-way delivery. It has the same shape as a Request because the
// receiving node or client reads it through the same decoder.
type Push = Request

// NewPush creates a push that reuses the transaction id of the request that
// caused it.
func NewPush(transactionID, action string, params map[string]any) Push {
	return Push{
		TransactionID: transactionID,
		Action:        action,
		Params:        params,
	}
}

// Reply is the acknowledgment produced for every processed request.
// TransactionID is nil when the inbound id was missing or malformed.
type Reply struct {
	TransactionID *string        `json:"transaction_id"`
	Action        string         `json:"action,omitempty"`
	Status        string         `json:"status"`
	Message       string         `json:"message"`
	Data          map[string]any `json:"data"`
	Timestamp     int64          `json:"timestamp"`
	Runtime       int64          `json:"runtime"`
}

// Failed reports whether the reply carries a failed status.
func (r Reply) Failed() bool {
	return r.Status == StatusFailed
}

// ID returns the echoed transaction id or an empty string.
func (r Reply) ID() string {
	if r.TransactionID == nil {
		return ""
	}
	return *r.TransactionID
}

// Timestamp returns the clock value used in the timestamp and runtime fields.
func Timestamp(t time.Time) int64 {
	return t.UnixNano()
}

// Success builds a successful acknowledgment for transactionID.
func Success(transactionID, message string, arrivedAt time.Time, data map[string]any) Reply {
	if data == nil {
		data = map[string]any{}
	}
	id := transactionID
	return Reply{
		TransactionID: &id,
		Action:        ActionAck,
		Status:        StatusSuccess,
		Message:       message,
		Data:          data,
		Timestamp:     Timestamp(arrivedAt),
		Runtime:       elapsedSince(arrivedAt),
	}
}

// Failure builds a failed acknowledgment. An empty transactionID, or the nil
// UUID, is rendered as JSON null.
func Failure(transactionID, message string, arrivedAt time.Time, bag map[string]string) Reply {
	data := make(map[string]any, len(bag))
	for key, value := range bag {
		data[key] = value
	}
	reply := Reply{
		Action:    ActionAck,
		Status:    StatusFailed,
		Message:   message,
		Data:      data,
		Timestamp: Timestamp(arrivedAt),
		Runtime:   elapsedSince(arrivedAt),
	}
	if transactionID != "" && transactionID != uuid.Nil.String() {
		id := transactionID
		reply.TransactionID = &id
	}
	return reply
}

// Welcome builds the frame sent to a client right after its handshake.
func Welcome(clientID string, acceptedAt time.Time) Reply {
	id := uuid.NewString()
	return Reply{
		TransactionID: &id,
		Action:        ActionWelcome,
		Status:        StatusSuccess,
		Message:       MessageAccepted,
		Data:          map[string]any{"client_id": clientID},
		Timestamp:     Timestamp(acceptedAt),
		Runtime:       elapsedSince(acceptedAt),
	}
}

// Unprocessable builds the reply for frames that are not a JSON object.
// It carries no action so that it is never mistaken for a request.
func Unprocessable(readAt time.Time) Reply {
	return Reply{
		Status:    StatusFailed,
		Message:   MessageUnprocessable,
		Data:      map[string]any{"body": "body must be json object"},
		Timestamp: Timestamp(readAt),
		Runtime:   elapsedSince(readAt),
	}
}

// StatusMessage maps a state change outcome to "ok" or "no effect".
func StatusMessage(changed bool) string {
	if changed {
		return MessageOK
	}
	return MessageNoEffect
}

// Encode serializes any envelope value to a text frame.
func Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Decode parses a frame into a generic JSON object. ok is false when the
// frame is not valid JSON or its top level is not an object.
func Decode(frame []byte) (map[string]any, bool) {
	var object map[string]any
	if err := json.Unmarshal(frame, &object); err != nil || object == nil {
		return nil, false
	}
	return object, true
}

func elapsedSince(since time.Time) int64 {
	return Timestamp(time.Now()) - Timestamp(since)
}
