package kernel

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmacdonaldsmith/meshbroker-go/pkg/envelope"
	"github.com/rmacdonaldsmith/meshbroker-go/pkg/peerlink"
	"github.com/rmacdonaldsmith/meshbroker-go/pkg/registry"
)

func actions(messages []map[string]any) []string {
	out := make([]string, 0, len(messages))
	for _, m := range messages {
		out = append(out, m["action"].(string))
	}
	return out
}

func TestRegister(t *testing.T) {
	f := newFixture(t)
	clientID, _ := f.client(t)
	require.True(t, f.state.Subscribe(f.state.ID(), clientID, "news"))
	sessionID, peer := f.pendingSession(t)

	t.Run("client context has no effect", func(t *testing.T) {
		res := f.dispatch("register", map[string]any{"sessions_port": 1, "clients_port": 2, "registered": true}, envelope.OnClient, clientID)
		assert.False(t, res.Failed)
		assert.Equal(t, envelope.MessageNoEffect, res.Reply.Message)
	})

	t.Run("invalid params", func(t *testing.T) {
		res := f.dispatch("register", map[string]any{"sessions_port": 1.0, "clients_port": "2"}, envelope.OnSession, sessionID)
		require.True(t, res.Failed)
		assert.Equal(t, "params clients_port attribute must be number", res.Reply.Data["params"])

		res = f.dispatch("register", map[string]any{"sessions_port": 11001.9, "clients_port": 12001.0, "registered": true}, envelope.OnSession, sessionID)
		require.True(t, res.Failed)
		assert.Equal(t, "params sessions_port attribute must be port", res.Reply.Data["params"])
		session, ok := f.state.GetSession(sessionID)
		require.True(t, ok)
		assert.False(t, session.Registered)
	})

	t.Run("unknown session", func(t *testing.T) {
		res := f.dispatch("register", map[string]any{"sessions_port": 1.0, "clients_port": 2.0, "registered": true}, envelope.OnSession, uuid.NewString())
		assert.Equal(t, envelope.MessageNoEffect, res.Reply.Message)
	})

	t.Run("registers and syncs", func(t *testing.T) {
		res := f.dispatch("register", map[string]any{"sessions_port": 11001.0, "clients_port": 12001.0, "registered": true}, envelope.OnSession, sessionID)
		require.False(t, res.Failed)
		assert.Equal(t, envelope.MessageOK, res.Reply.Message)

		session, ok := f.state.GetSession(sessionID)
		require.True(t, ok)
		assert.True(t, session.Registered)
		assert.Equal(t, 11001, session.SessionsPort)
		assert.Equal(t, 12001, session.ClientsPort)
		assert.Equal(t, []string{"join", "subscribe"}, actions(peer.messages(t)))
	})
}

func TestRegister_UnregisteredPeerLearnsTheMesh(t *testing.T) {
	f := newFixture(t)
	known, _ := f.session(t)
	require.True(t, f.state.RegisterSession(known, 11002, 12002))
	newcomer, link := f.pendingSession(t)

	res := f.dispatch("register", map[string]any{"sessions_port": 11003.0, "clients_port": 12003.0, "registered": false}, envelope.OnSession, newcomer)
	require.Equal(t, envelope.MessageOK, res.Reply.Message)

	messages := link.messages(t)
	require.Len(t, messages, 1)
	assert.Equal(t, "session", messages[0]["action"])
	params := messages[0]["params"].(map[string]any)
	assert.Equal(t, "10.0.0.2", params["host"])
	assert.Equal(t, 11002.0, params["sessions_port"])
	assert.Equal(t, 12002.0, params["clients_port"])
}

func TestSession(t *testing.T) {
	f := newFixture(t)
	sessionID, _ := f.session(t)
	require.True(t, f.state.RegisterSession(sessionID, 11001, 12001))

	res := f.dispatch("session", map[string]any{"host": "10.0.0.2", "sessions_port": 11001.0, "clients_port": 12001.0}, envelope.OnSession, sessionID)
	assert.Equal(t, envelope.MessageNoEffect, res.Reply.Message)
	assert.Empty(t, f.dialer.dialed)

	res = f.dispatch("session", map[string]any{"host": "10.0.0.3", "sessions_port": 11001.0, "clients_port": 12001.0}, envelope.OnSession, sessionID)
	assert.Equal(t, envelope.MessageOK, res.Reply.Message)
	require.Len(t, f.dialer.dialed, 1)
	assert.Equal(t, peerlink.PeerAddress{Host: "10.0.0.3", SessionsPort: 11001, ClientsPort: 12001}, f.dialer.dialed[0])

	f.dialer.accept = false
	res = f.dispatch("session", map[string]any{"host": "10.0.0.3", "sessions_port": 11001.0, "clients_port": 12001.0}, envelope.OnSession, sessionID)
	assert.Equal(t, envelope.MessageNoEffect, res.Reply.Message)

	res = f.dispatch("session", map[string]any{"host": 3}, envelope.OnSession, sessionID)
	require.True(t, res.Failed)
	assert.Equal(t, "params host attribute must be string", res.Reply.Data["params"])

	clientID, _ := f.client(t)
	res = f.dispatch("session", map[string]any{"host": "10.0.0.4", "sessions_port": 1.0, "clients_port": 2.0}, envelope.OnClient, clientID)
	assert.Equal(t, envelope.MessageNoEffect, res.Reply.Message)
}

func TestJoinAndLeave(t *testing.T) {
	f := newFixture(t)
	sessionID, _ := f.session(t)
	remoteID := uuid.NewString()

	res := f.dispatch("join", map[string]any{"client_id": remoteID}, envelope.OnSession, sessionID)
	assert.Equal(t, envelope.MessageOK, res.Reply.Message)
	client, ok := f.state.GetClient(remoteID)
	require.True(t, ok)
	assert.Equal(t, sessionID, client.SessionID)
	assert.False(t, client.Local)

	res = f.dispatch("join", map[string]any{"client_id": remoteID}, envelope.OnSession, sessionID)
	assert.Equal(t, envelope.MessageNoEffect, res.Reply.Message)

	res = f.dispatch("join", map[string]any{"client_id": "x"}, envelope.OnSession, sessionID)
	require.True(t, res.Failed)
	assert.Equal(t, "params client_id attribute must be uuid", res.Reply.Data["params"])

	res = f.dispatch("leave", map[string]any{"client_id": remoteID}, envelope.OnSession, sessionID)
	assert.Equal(t, envelope.MessageOK, res.Reply.Message)
	_, ok = f.state.GetClient(remoteID)
	assert.False(t, ok)

	res = f.dispatch("leave", map[string]any{"client_id": remoteID}, envelope.OnSession, sessionID)
	assert.Equal(t, envelope.MessageNoEffect, res.Reply.Message)

	localID, _ := f.client(t)
	res = f.dispatch("leave", map[string]any{"client_id": localID}, envelope.OnClient, localID)
	assert.Equal(t, envelope.MessageNoEffect, res.Reply.Message)
	_, ok = f.state.GetClient(localID)
	assert.True(t, ok)
}

func TestLeave_OnlyFromOwningSession(t *testing.T) {
	f := newFixture(t)
	owner, _ := f.session(t)
	other, _ := f.session(t)
	remoteID := uuid.NewString()
	require.True(t, f.state.AddClient(registry.Client{ID: remoteID, SessionID: owner}))

	res := f.dispatch("leave", map[string]any{"client_id": remoteID}, envelope.OnSession, other)
	assert.Equal(t, envelope.MessageNoEffect, res.Reply.Message)
	_, ok := f.state.GetClient(remoteID)
	assert.True(t, ok, "a peer cannot remove a client mirrored through another live session")

	localID, _ := f.client(t)
	res = f.dispatch("leave", map[string]any{"client_id": localID}, envelope.OnSession, other)
	assert.Equal(t, envelope.MessageNoEffect, res.Reply.Message)
	_, ok = f.state.GetClient(localID)
	assert.True(t, ok)

	t.Run("owner gone", func(t *testing.T) {
		require.True(t, f.state.RemoveSession(owner))
		res := f.dispatch("leave", map[string]any{"client_id": remoteID}, envelope.OnSession, other)
		assert.Equal(t, envelope.MessageOK, res.Reply.Message)
		_, ok := f.state.GetClient(remoteID)
		assert.False(t, ok)
	})
}

func TestSubscribe(t *testing.T) {
	f := newFixture(t)
	clientID, _ := f.client(t)
	_, peer := f.session(t)

	res := f.dispatch("subscribe", map[string]any{"channel": "news"}, envelope.OnClient, clientID)
	assert.Equal(t, envelope.MessageOK, res.Reply.Message)
	res = f.dispatch("subscribe", map[string]any{"channel": "news"}, envelope.OnClient, clientID)
	assert.Equal(t, envelope.MessageNoEffect, res.Reply.Message)

	assert.True(t, f.state.IsSubscribed(clientID, "news"))
	messages := peer.messages(t)
	require.NotEmpty(t, messages)
	assert.Equal(t, "subscribe", messages[0]["action"])
	assert.Equal(t, map[string]any{"client_id": clientID, "channel": "news"}, messages[0]["params"])

	res = f.dispatch("is_subscribed", map[string]any{"channel": "news"}, envelope.OnClient, clientID)
	assert.Equal(t, envelope.MessageOK, res.Reply.Message)

	res = f.dispatch("unsubscribe", map[string]any{"channel": "news"}, envelope.OnClient, clientID)
	assert.Equal(t, envelope.MessageOK, res.Reply.Message)
	res = f.dispatch("unsubscribe", map[string]any{"channel": "news"}, envelope.OnClient, clientID)
	assert.Equal(t, envelope.MessageNoEffect, res.Reply.Message)

	res = f.dispatch("is_subscribed", map[string]any{"channel": "news"}, envelope.OnClient, clientID)
	assert.Equal(t, envelope.MessageNoEffect, res.Reply.Message)

	res = f.dispatch("subscribe", map[string]any{}, envelope.OnClient, clientID)
	require.True(t, res.Failed)
	assert.Equal(t, "params channel attribute must be present", res.Reply.Data["params"])

	res = f.dispatch("subscribe", nil, envelope.OnClient, clientID)
	require.True(t, res.Failed)
	assert.Equal(t, "params attribute must be present", res.Reply.Data["params"])
}

func TestSubscribe_FromSession(t *testing.T) {
	f := newFixture(t)
	sessionID, _ := f.session(t)
	remoteID := uuid.NewString()
	require.True(t, f.state.AddClient(registry.Client{ID: remoteID, SessionID: sessionID}))

	res := f.dispatch("subscribe", map[string]any{"channel": "news"}, envelope.OnSession, sessionID)
	require.True(t, res.Failed)
	assert.Equal(t, "params client_id attribute must be present", res.Reply.Data["params"])

	res = f.dispatch("subscribe", map[string]any{"client_id": remoteID, "channel": "news"}, envelope.OnSession, sessionID)
	assert.Equal(t, envelope.MessageOK, res.Reply.Message)
	assert.Equal(t, []registry.Subscription{{SessionID: sessionID, ClientID: remoteID, Channel: "news"}}, f.state.GetSubscriptions())

	res = f.dispatch("is_subscribed", map[string]any{"channel": "news"}, envelope.OnSession, sessionID)
	assert.Equal(t, envelope.MessageNoEffect, res.Reply.Message)

	res = f.dispatch("unsubscribe", map[string]any{"client_id": remoteID, "channel": "news"}, envelope.OnSession, sessionID)
	assert.Equal(t, envelope.MessageOK, res.Reply.Message)
	assert.Empty(t, f.state.GetSubscriptions())
}

func TestBroadcast(t *testing.T) {
	f := newFixture(t)
	sender, senderLink := f.client(t)
	_, receiverLink := f.client(t)
	_, peer := f.session(t)
	payload := map[string]any{"text": "hello"}

	res := f.dispatch("broadcast", map[string]any{"payload": payload}, envelope.OnClient, sender)
	require.False(t, res.Failed)
	assert.Equal(t, envelope.MessageOK, res.Reply.Message)
	assert.Equal(t, 1, res.Reply.Data["count"])

	assert.Empty(t, senderLink.messages(t))
	received := receiverLink.messages(t)
	require.Len(t, received, 1)
	assert.Equal(t, "broadcast", received[0]["action"])
	assert.Equal(t, res.Reply.ID(), received[0]["transaction_id"])

	forwarded := peer.messages(t)
	require.Len(t, forwarded, 1)
	assert.Equal(t, sender, forwarded[0]["params"].(map[string]any)["client_id"])

	res = f.dispatch("broadcast", map[string]any{"payload": "text"}, envelope.OnClient, sender)
	require.True(t, res.Failed)
	assert.Equal(t, "params payload attribute must be object", res.Reply.Data["params"])
}

func TestBroadcast_FromSessionStaysLocal(t *testing.T) {
	f := newFixture(t)
	_, receiverLink := f.client(t)
	sessionID, _ := f.session(t)
	_, otherPeer := f.session(t)

	res := f.dispatch("broadcast", map[string]any{"client_id": uuid.NewString(), "payload": map[string]any{}}, envelope.OnSession, sessionID)
	assert.Equal(t, envelope.MessageOK, res.Reply.Message)
	assert.Len(t, receiverLink.messages(t), 1)
	assert.Empty(t, otherPeer.messages(t))
}

func TestBroadcast_NobodyListening(t *testing.T) {
	f := newFixture(t)
	sender, _ := f.client(t)

	res := f.dispatch("broadcast", map[string]any{"payload": map[string]any{}}, envelope.OnClient, sender)
	assert.Equal(t, envelope.MessageNoEffect, res.Reply.Message)
	assert.Equal(t, 0, res.Reply.Data["count"])
}

func TestPublish(t *testing.T) {
	f := newFixture(t)
	sender, _ := f.client(t)
	subscriber, subscriberLink := f.client(t)
	_, bystanderLink := f.client(t)
	require.True(t, f.state.Subscribe(f.state.ID(), subscriber, "news"))

	sessionID, peer := f.session(t)
	_, quietPeer := f.session(t)
	remoteID := uuid.NewString()
	require.True(t, f.state.AddClient(registry.Client{ID: remoteID, SessionID: sessionID}))
	require.True(t, f.state.Subscribe(sessionID, remoteID, "news"))

	res := f.dispatch("publish", map[string]any{"channel": "news", "payload": map[string]any{"n": 1}}, envelope.OnClient, sender)
	require.False(t, res.Failed)
	assert.Equal(t, envelope.MessageOK, res.Reply.Message)
	assert.Equal(t, 1, res.Reply.Data["count"])

	assert.Len(t, subscriberLink.messages(t), 1)
	assert.Empty(t, bystanderLink.messages(t))
	assert.Len(t, peer.messages(t), 1)
	assert.Empty(t, quietPeer.messages(t))

	res = f.dispatch("publish", map[string]any{"channel": "empty", "payload": map[string]any{}}, envelope.OnClient, sender)
	assert.Equal(t, envelope.MessageNoEffect, res.Reply.Message)
}

func TestPublish_FromSession(t *testing.T) {
	f := newFixture(t)
	subscriber, subscriberLink := f.client(t)
	require.True(t, f.state.Subscribe(f.state.ID(), subscriber, "news"))
	sessionID, _ := f.session(t)

	res := f.dispatch("publish", map[string]any{"channel": "news", "payload": map[string]any{}}, envelope.OnSession, sessionID)
	require.True(t, res.Failed)
	assert.Equal(t, "params client_id attribute must be present", res.Reply.Data["params"])

	res = f.dispatch("publish", map[string]any{"channel": "news", "payload": map[string]any{}, "client_id": uuid.NewString()}, envelope.OnSession, sessionID)
	assert.Equal(t, envelope.MessageOK, res.Reply.Message)
	assert.Len(t, subscriberLink.messages(t), 1)
}

func TestSend(t *testing.T) {
	f := newFixture(t)
	sender, _ := f.client(t)
	receiver, receiverLink := f.client(t)
	sessionID, peer := f.session(t)
	remoteID := uuid.NewString()
	require.True(t, f.state.AddClient(registry.Client{ID: remoteID, SessionID: sessionID}))

	res := f.dispatch("send", map[string]any{"to_client_id": receiver, "payload": map[string]any{"a": 1}}, envelope.OnClient, sender)
	assert.Equal(t, envelope.MessageOK, res.Reply.Message)
	received := receiverLink.messages(t)
	require.Len(t, received, 1)
	params := received[0]["params"].(map[string]any)
	assert.Equal(t, sender, params["from_client_id"])
	assert.Equal(t, receiver, params["to_client_id"])

	res = f.dispatch("send", map[string]any{"to_client_id": remoteID, "payload": map[string]any{}}, envelope.OnClient, sender)
	assert.Equal(t, envelope.MessageOK, res.Reply.Message)
	assert.Len(t, peer.messages(t), 1)

	res = f.dispatch("send", map[string]any{"to_client_id": uuid.NewString(), "payload": map[string]any{}}, envelope.OnClient, sender)
	assert.Equal(t, envelope.MessageNoEffect, res.Reply.Message)

	t.Run("from session", func(t *testing.T) {
		res := f.dispatch("send", map[string]any{"to_client_id": receiver, "payload": map[string]any{}, "from_client_id": remoteID}, envelope.OnSession, sessionID)
		assert.Equal(t, envelope.MessageOK, res.Reply.Message)
		assert.Len(t, receiverLink.messages(t), 2)

		res = f.dispatch("send", map[string]any{"to_client_id": remoteID, "payload": map[string]any{}, "from_client_id": receiver}, envelope.OnSession, sessionID)
		assert.Equal(t, envelope.MessageNoEffect, res.Reply.Message)
		assert.Len(t, peer.messages(t), 1)

		res = f.dispatch("send", map[string]any{"to_client_id": receiver, "payload": map[string]any{}}, envelope.OnSession, sessionID)
		require.True(t, res.Failed)
		assert.Equal(t, "params from_client_id attribute must be present", res.Reply.Data["params"])
	})
}
