package kernel

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	registrystate "github.com/rmacdonaldsmith/meshbroker-go/internal/registry"
	"github.com/rmacdonaldsmith/meshbroker-go/pkg/envelope"
	"github.com/rmacdonaldsmith/meshbroker-go/pkg/peerlink"
	"github.com/rmacdonaldsmith/meshbroker-go/pkg/registry"
)

type link struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func (l *link) Enqueue(frame []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return errors.New("closed")
	}
	l.frames = append(l.frames, frame)
	return nil
}

func (l *link) Send(_ context.Context, frame []byte) error {
	return l.Enqueue(frame)
}

func (l *link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

func (l *link) messages(t *testing.T) []map[string]any {
	t.Helper()
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]map[string]any, 0, len(l.frames))
	for _, frame := range l.frames {
		var decoded map[string]any
		require.NoError(t, json.Unmarshal(frame, &decoded))
		out = append(out, decoded)
	}
	return out
}

type fakeDialer struct {
	mu     sync.Mutex
	dialed []peerlink.PeerAddress
	accept bool
}

func (d *fakeDialer) Dial(_ context.Context, address peerlink.PeerAddress) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dialed = append(d.dialed, address)
	return d.accept
}

type fixture struct {
	state  *registrystate.State
	kernel *Kernel
	dialer *fakeDialer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	state := registrystate.NewState(registrystate.NewConfig("localhost", 11000, 12000))
	dialer := &fakeDialer{accept: true}
	return &fixture{
		state:  state,
		kernel: New(state, WithDialer(dialer), WithMetrics(NewMetrics(prometheus.NewRegistry()))),
		dialer: dialer,
	}
}

func (f *fixture) client(t *testing.T) (string, *link) {
	t.Helper()
	l := &link{}
	id := uuid.NewString()
	require.True(t, f.state.AddClient(registry.Client{ID: id, SessionID: f.state.ID(), Local: true, Link: l}))
	return id, l
}

func (f *fixture) session(t *testing.T) (string, *link) {
	t.Helper()
	l := &link{}
	id := uuid.NewString()
	require.True(t, f.state.AddSession(registry.Session{ID: id, Role: registry.RoleLocal, Host: "10.0.0.2", Registered: true, Link: l}))
	return id, l
}

// pendingSession adds an accepted peer that has not sent register yet.
func (f *fixture) pendingSession(t *testing.T) (string, *link) {
	t.Helper()
	l := &link{}
	id := uuid.NewString()
	require.True(t, f.state.AddSession(registry.Session{ID: id, Role: registry.RoleLocal, Host: "10.0.0.2", Link: l}))
	return id, l
}

func (f *fixture) dispatch(action string, params map[string]any, c envelope.Context, entityID string) *Response {
	object := map[string]any{
		"transaction_id": uuid.NewString(),
		"action":         action,
	}
	if params != nil {
		object["params"] = params
	}
	return f.kernel.Dispatch(context.Background(), object, c, entityID)
}

func TestDispatch_EnvelopeValidation(t *testing.T) {
	f := newFixture(t)
	clientID, _ := f.client(t)

	tests := []struct {
		name   string
		object map[string]any
		field  string
		reason string
		echo   bool
	}{
		{"missing action", map[string]any{"transaction_id": uuid.NewString()}, "action", "action attribute must be present", true},
		{"action not string", map[string]any{"action": 1, "transaction_id": uuid.NewString()}, "action", "action attribute must be string", true},
		{"missing transaction id", map[string]any{"action": "ping"}, "transaction_id", "transaction_id attribute must be present", false},
		{"transaction id not string", map[string]any{"action": "ping", "transaction_id": 7}, "transaction_id", "transaction_id attribute must be string", false},
		{"transaction id not uuid", map[string]any{"action": "ping", "transaction_id": "nope"}, "transaction_id", "transaction_id attribute must be uuid", false},
		{"nil uuid", map[string]any{"transaction_id": uuid.Nil.String()}, "action", "action attribute must be present", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := f.kernel.Dispatch(context.Background(), tt.object, envelope.OnClient, clientID)
			require.True(t, res.Processed)
			require.True(t, res.Failed)
			assert.Equal(t, envelope.MessageUnprocessable, res.Reply.Message)
			assert.Equal(t, envelope.StatusFailed, res.Reply.Status)
			assert.Equal(t, tt.reason, res.Reply.Data[tt.field])
			if tt.echo {
				assert.Equal(t, tt.object["transaction_id"], res.Reply.ID())
			} else {
				assert.Nil(t, res.Reply.TransactionID)
			}
		})
	}
}

func TestDispatch_AckProducesNoReply(t *testing.T) {
	f := newFixture(t)
	sessionID, _ := f.session(t)

	for _, object := range []map[string]any{
		{"action": "ack", "transaction_id": uuid.NewString(), "status": "success"},
		{"action": "ack", "transaction_id": nil, "status": "failed"},
	} {
		res := f.kernel.Dispatch(context.Background(), object, envelope.OnSession, sessionID)
		assert.True(t, res.Processed)
		assert.True(t, res.Ack)
		frame, err := res.Frame()
		require.NoError(t, err)
		assert.Nil(t, frame)
	}
}

func TestDispatch_Unimplemented(t *testing.T) {
	f := newFixture(t)
	clientID, _ := f.client(t)

	res := f.dispatch("teleport", nil, envelope.OnClient, clientID)
	require.True(t, res.Failed)
	assert.Equal(t, "action attribute isn't implemented", res.Reply.Data["action"])
	assert.NotNil(t, res.Reply.TransactionID)
}

func TestHandleFrame(t *testing.T) {
	f := newFixture(t)
	clientID, _ := f.client(t)

	t.Run("not an object", func(t *testing.T) {
		for _, frame := range []string{"[]", "42", "{", "null"} {
			out, err := f.kernel.HandleFrame(context.Background(), []byte(frame), envelope.OnClient, clientID)
			require.NoError(t, err)
			var reply map[string]any
			require.NoError(t, json.Unmarshal(out, &reply))
			assert.Equal(t, "unprocessable entity", reply["message"])
			assert.Equal(t, "body must be json object", reply["data"].(map[string]any)["body"])
			assert.NotContains(t, reply, "action")
		}
	})

	t.Run("ping", func(t *testing.T) {
		txID := uuid.NewString()
		out, err := f.kernel.HandleFrame(context.Background(),
			[]byte(`{"transaction_id":"`+txID+`","action":"ping"}`), envelope.OnClient, clientID)
		require.NoError(t, err)
		var reply map[string]any
		require.NoError(t, json.Unmarshal(out, &reply))
		assert.Equal(t, txID, reply["transaction_id"])
		assert.Equal(t, "ack", reply["action"])
		assert.Equal(t, "success", reply["status"])
		assert.Equal(t, "pong", reply["message"])
	})
}

func TestPing(t *testing.T) {
	f := newFixture(t)
	sessionID, _ := f.session(t)

	res := f.dispatch("ping", nil, envelope.OnSession, sessionID)
	assert.False(t, res.Failed)
	assert.Equal(t, envelope.MessagePong, res.Reply.Message)
}
