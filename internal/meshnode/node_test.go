package meshnode

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmacdonaldsmith/meshbroker-go/internal/peerlink"
	"github.com/rmacdonaldsmith/meshbroker-go/internal/tlsutil"
	"github.com/rmacdonaldsmith/meshbroker-go/pkg/brokerclient"
	"github.com/rmacdonaldsmith/meshbroker-go/pkg/envelope"
	"github.com/rmacdonaldsmith/meshbroker-go/pkg/registry"
)

const (
	waitFor = 5 * time.Second
	tick    = 20 * time.Millisecond
)

func testConfig(tlsConfigs *tlsutil.Configs) *Config {
	config := NewConfig(tlsConfigs).WithPorts(0, 0).WithPeerLinkConfig(&peerlink.Config{
		HeartbeatInterval: time.Second,
		RetryInterval:     100 * time.Millisecond,
	})
	config.Address = "127.0.0.1"
	config.Threads = 2
	return config
}

func startNode(t *testing.T, tlsConfigs *tlsutil.Configs, via *Node, opts ...Option) *Node {
	t.Helper()
	config := testConfig(tlsConfigs)
	if via != nil {
		cfg := via.state.Config()
		config.WithRemote("127.0.0.1", cfg.SessionsPort(), cfg.ClientsPort())
	}
	node, err := NewNode(config, opts...)
	require.NoError(t, err)
	require.NoError(t, node.Start(context.Background()))
	t.Cleanup(func() { _ = node.Close() })
	return node
}

func connect(t *testing.T, node *Node, tlsConfigs *tlsutil.Configs) *brokerclient.Conn {
	t.Helper()
	conn, err := brokerclient.Dial(context.Background(), brokerclient.Config{
		Address:   node.ClientsAddr(),
		TLSConfig: tlsConfigs.Dial,
		Timeout:   waitFor,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// silent fails if conn gets an action push within a short window.
func silent(t *testing.T, conn *brokerclient.Conn, action string) {
	t.Helper()
	window := time.After(300 * time.Millisecond)
	for {
		select {
		case push, ok := <-conn.Messages():
			if !ok {
				return
			}
			assert.NotEqual(t, action, push.Action, "unexpected %s push", action)
		case <-window:
			return
		}
	}
}

func receive(t *testing.T, conn *brokerclient.Conn, action string) envelope.Push {
	t.Helper()
	deadline := time.After(waitFor)
	for {
		select {
		case push, ok := <-conn.Messages():
			require.True(t, ok, "connection closed while waiting for %s", action)
			if push.Action == action {
				return push
			}
		case <-deadline:
			t.Fatalf("no %s push received", action)
		}
	}
}

func sessions(node *Node) int {
	return len(node.state.GetSessions())
}

func mirrored(node *Node, clientID string) bool {
	client, ok := node.state.GetClient(clientID)
	return ok && !client.Local
}

func TestNode_WelcomeAndPing(t *testing.T) {
	tlsConfigs := devTLS(t)
	node := startNode(t, tlsConfigs, nil)
	conn := connect(t, node, tlsConfigs)

	_, err := uuid.Parse(conn.ClientID())
	require.NoError(t, err)

	client, ok := node.state.GetClient(conn.ClientID())
	require.True(t, ok)
	assert.True(t, client.Local)
	assert.Equal(t, node.ID(), client.SessionID)

	reply, err := conn.Request(context.Background(), envelope.ActionPing, nil)
	require.NoError(t, err)
	assert.Equal(t, envelope.MessagePong, reply.Message)
	assert.Equal(t, envelope.ActionAck, reply.Action)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool {
		_, ok := node.state.GetClient(conn.ClientID())
		return !ok
	}, waitFor, tick)
}

func TestNode_LocalDelivery(t *testing.T) {
	tlsConfigs := devTLS(t)
	node := startNode(t, tlsConfigs, nil)
	alice := connect(t, node, tlsConfigs)
	bob := connect(t, node, tlsConfigs)
	ctx := context.Background()

	changed, err := bob.Subscribe(ctx, "news")
	require.NoError(t, err)
	assert.True(t, changed)

	subscribed, err := bob.IsSubscribed(ctx, "news")
	require.NoError(t, err)
	assert.True(t, subscribed)

	n, err := alice.Publish(ctx, "news", map[string]any{"headline": "local"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	push := receive(t, bob, envelope.ActionPublish)
	assert.Equal(t, alice.ClientID(), push.Params["client_id"])

	n, err = bob.Broadcast(ctx, map[string]any{"hello": "all"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	push = receive(t, alice, envelope.ActionBroadcast)
	assert.Equal(t, bob.ClientID(), push.Params["from_client_id"])

	delivered, err := alice.Send(ctx, bob.ClientID(), map[string]any{"dm": true})
	require.NoError(t, err)
	assert.True(t, delivered)
	push = receive(t, bob, envelope.ActionSend)
	assert.Equal(t, alice.ClientID(), push.Params["from_client_id"])
	assert.Equal(t, bob.ClientID(), push.Params["to_client_id"])

	delivered, err = alice.Send(ctx, uuid.NewString(), map[string]any{"dm": true})
	require.NoError(t, err)
	assert.False(t, delivered)
}

func TestNode_Federation(t *testing.T) {
	tlsConfigs := devTLS(t)
	a := startNode(t, tlsConfigs, nil)
	b := startNode(t, tlsConfigs, a)
	ctx := context.Background()

	require.Eventually(t, func() bool {
		return sessions(a) == 1 && sessions(b) == 1
	}, waitFor, tick)

	onA := connect(t, a, tlsConfigs)
	onB := connect(t, b, tlsConfigs)

	t.Run("clients_mirrored", func(t *testing.T) {
		require.Eventually(t, func() bool {
			return mirrored(a, onB.ClientID()) && mirrored(b, onA.ClientID())
		}, waitFor, tick)
	})

	t.Run("publish_forwarded", func(t *testing.T) {
		_, err := onB.Subscribe(ctx, "news")
		require.NoError(t, err)
		require.Eventually(t, func() bool {
			for _, row := range a.state.GetSubscriptions() {
				if row.ClientID == onB.ClientID() && row.Channel == "news" {
					return true
				}
			}
			return false
		}, waitFor, tick)

		reply, err := onA.Request(ctx, envelope.ActionPublish, map[string]any{
			"channel": "news",
			"payload": map[string]any{"headline": "remote"},
		})
		require.NoError(t, err)
		assert.Equal(t, envelope.MessageOK, reply.Message)
		assert.Equal(t, float64(0), reply.Data["count"])

		push := receive(t, onB, envelope.ActionPublish)
		assert.Equal(t, "news", push.Params["channel"])
		assert.Equal(t, onA.ClientID(), push.Params["client_id"])
		assert.Equal(t, reply.ID(), push.TransactionID)
	})

	t.Run("send_forwarded", func(t *testing.T) {
		delivered, err := onA.Send(ctx, onB.ClientID(), map[string]any{"dm": 1})
		require.NoError(t, err)
		assert.True(t, delivered)

		push := receive(t, onB, envelope.ActionSend)
		assert.Equal(t, onA.ClientID(), push.Params["from_client_id"])
	})

	t.Run("broadcast_forwarded", func(t *testing.T) {
		_, err := onB.Broadcast(ctx, map[string]any{"hello": "mesh"})
		require.NoError(t, err)

		push := receive(t, onA, envelope.ActionBroadcast)
		assert.Equal(t, onB.ClientID(), push.Params["from_client_id"])
	})

	t.Run("leave_propagated", func(t *testing.T) {
		require.NoError(t, onB.Close())
		require.Eventually(t, func() bool {
			_, known := a.state.GetClient(onB.ClientID())
			return !known && len(a.state.GetSubscriptions()) == 0
		}, waitFor, tick)
	})
}

func TestNode_BootstrapSync(t *testing.T) {
	tlsConfigs := devTLS(t)
	a := startNode(t, tlsConfigs, nil)
	b := startNode(t, tlsConfigs, a)
	require.Eventually(t, func() bool {
		return sessions(a) == 1 && sessions(b) == 1
	}, waitFor, tick)

	onA := connect(t, a, tlsConfigs)
	onB := connect(t, b, tlsConfigs)
	_, err := onB.Subscribe(context.Background(), "alerts")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return len(a.state.GetSubscriptions()) == 1
	}, waitFor, tick)

	c := startNode(t, tlsConfigs, a)

	require.Eventually(t, func() bool {
		return sessions(c) == 2 && sessions(a) == 2 && sessions(b) == 2
	}, waitFor, tick, "newcomer should dial every registered peer")
	require.Eventually(t, func() bool {
		return mirrored(c, onA.ClientID()) && mirrored(c, onB.ClientID()) &&
			len(c.state.GetSubscriptions()) == 1
	}, waitFor, tick)

	row := c.state.GetSubscriptions()[0]
	assert.Equal(t, registry.Subscription{SessionID: row.SessionID, ClientID: onB.ClientID(), Channel: "alerts"}, row)
	owner, ok := c.state.GetSession(row.SessionID)
	require.True(t, ok)
	assert.Equal(t, b.state.Config().SessionsPort(), owner.SessionsPort)

	onC := connect(t, c, tlsConfigs)
	_, err = onC.Publish(context.Background(), "alerts", map[string]any{"level": "high"})
	require.NoError(t, err)
	push := receive(t, onB, envelope.ActionPublish)
	assert.Equal(t, "alerts", push.Params["channel"])
	assert.Equal(t, onC.ClientID(), push.Params["client_id"])
	silent(t, onA, envelope.ActionPublish)
}

func TestNode_SessionLossKeepsMirroredClients(t *testing.T) {
	tlsConfigs := devTLS(t)
	a := startNode(t, tlsConfigs, nil)
	b := startNode(t, tlsConfigs, a)
	onB := connect(t, b, tlsConfigs)
	_, err := onB.Subscribe(context.Background(), "news")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return mirrored(a, onB.ClientID()) && len(a.state.GetSubscriptions()) == 1
	}, waitFor, tick)

	require.NoError(t, b.Close())
	require.Eventually(t, func() bool {
		return sessions(a) == 0
	}, waitFor, tick)
	assert.Empty(t, a.state.GetSubscriptions())
}

func TestNode_Lifecycle(t *testing.T) {
	tlsConfigs := devTLS(t)
	ctx := context.Background()

	node, err := NewNode(testConfig(tlsConfigs))
	require.NoError(t, err)

	health, err := node.GetHealth(ctx)
	require.NoError(t, err)
	assert.False(t, health.Healthy)
	assert.Empty(t, node.ClientsAddr())

	require.NoError(t, node.Start(ctx))
	require.NoError(t, node.Start(ctx), "second Start is a no-op")
	assert.NotEmpty(t, node.ClientsAddr())
	assert.NotEmpty(t, node.SessionsAddr())
	assert.NotZero(t, node.state.Config().ClientsPort())

	connect(t, node, tlsConfigs)
	health, err = node.GetHealth(ctx)
	require.NoError(t, err)
	assert.True(t, health.Healthy)
	assert.Equal(t, 1, health.ConnectedClients)
	assert.Equal(t, "accepting connections", health.Message)

	snapshot := node.Snapshot()
	assert.Equal(t, node.ID(), snapshot.ID)
	assert.Equal(t, "127.0.0.1", snapshot.Host)
	require.Len(t, snapshot.Clients, 1)
	assert.True(t, snapshot.Clients[0].Local)

	stopCtx, cancel := context.WithTimeout(ctx, waitFor)
	defer cancel()
	require.NoError(t, node.Stop(stopCtx))
	require.NoError(t, node.Stop(stopCtx), "second Stop is a no-op")

	require.NoError(t, node.Close())
	assert.Error(t, node.Start(ctx))

	cancelled, cancelNow := context.WithCancel(ctx)
	cancelNow()
	_, err = node.GetHealth(cancelled)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNode_NewNodeErrors(t *testing.T) {
	_, err := NewNode(nil)
	assert.Error(t, err)

	_, err = NewNode(NewConfig(nil))
	assert.ErrorIs(t, err, ErrMissingTLS)
}

func TestNode_Metrics(t *testing.T) {
	tlsConfigs := devTLS(t)
	reg := prometheus.NewRegistry()
	node := startNode(t, tlsConfigs, nil, WithMetricsRegistry(reg))
	conn := connect(t, node, tlsConfigs)
	require.NoError(t, conn.Ping(context.Background()))

	families, err := reg.Gather()
	require.NoError(t, err)
	values := map[string]float64{}
	for _, family := range families {
		for _, metric := range family.GetMetric() {
			switch {
			case metric.GetGauge() != nil:
				values[family.GetName()] += metric.GetGauge().GetValue()
			case metric.GetCounter() != nil:
				values[family.GetName()] += metric.GetCounter().GetValue()
			}
		}
	}
	assert.Equal(t, float64(1), values["meshbroker_node_connections_active"])
	assert.Equal(t, float64(1), values["meshbroker_registry_clients"])
	assert.GreaterOrEqual(t, values["meshbroker_node_frames_received_total"], float64(1))
	assert.GreaterOrEqual(t, values["meshbroker_kernel_dispatched_total"], float64(1))
}
