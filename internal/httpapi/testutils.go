package httpapi

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rmacdonaldsmith/meshbroker-go/pkg/meshnode"
	"github.com/rmacdonaldsmith/meshbroker-go/pkg/registry"
)

const testSecret = "test-secret-key"

// stubNode serves a fixed snapshot and health status.
type stubNode struct {
	mu       sync.Mutex
	snapshot meshnode.Snapshot
	health   meshnode.HealthStatus
	err      error
}

func (n *stubNode) ID() string                  { return n.snapshot.ID }
func (n *stubNode) Snapshot() meshnode.Snapshot { return n.snapshot }

func (n *stubNode) GetHealth(ctx context.Context) (meshnode.HealthStatus, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return meshnode.HealthStatus{}, n.err
	}
	return n.health, nil
}

func (n *stubNode) setHealthy(healthy bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.health.Healthy = healthy
}

func newStubNode() *stubNode {
	nodeID := "2b5c8f0e-6a43-4c36-9f7e-3c0f9f8f8a11"
	return &stubNode{
		snapshot: meshnode.Snapshot{
			ID:           nodeID,
			Host:         "localhost",
			SessionsPort: 11000,
			ClientsPort:  12000,
			Registered:   true,
			Sessions: []meshnode.SessionInfo{
				{ID: "s-1", Role: "remote", Host: "localhost", SessionsPort: 11001, ClientsPort: 12001, Registered: true},
			},
			Clients: []meshnode.ClientInfo{
				{ID: "c-local", SessionID: nodeID, Local: true},
				{ID: "c-remote", SessionID: "s-1"},
			},
			Subscriptions: []registry.Subscription{
				{SessionID: nodeID, ClientID: "c-local", Channel: "news"},
				{SessionID: "s-1", ClientID: "c-remote", Channel: "news"},
				{SessionID: "s-1", ClientID: "c-remote", Channel: "alerts"},
			},
		},
		health: meshnode.HealthStatus{
			Healthy:          true,
			ConnectedClients: 1,
			MirroredClients:  1,
			ConnectedPeers:   1,
			Subscriptions:    3,
			Uptime:           90 * time.Second,
			Message:          "accepting connections",
		},
	}
}

// TestServerSetup holds common test dependencies
type TestServerSetup struct {
	Node   *stubNode
	Server *Server
	Auth   *JWTAuth
}

// NewTestServerSetup creates an admin server over a stub node
func NewTestServerSetup(t *testing.T) *TestServerSetup {
	t.Helper()

	node := newStubNode()
	server, err := NewServer(node, Config{
		Address:   "127.0.0.1:0",
		SecretKey: testSecret,
	})
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	return &TestServerSetup{
		Node:   node,
		Server: server,
		Auth:   server.Auth(),
	}
}

// GenerateTestToken creates a JWT token for testing
func (setup *TestServerSetup) GenerateTestToken(t *testing.T, subject string, isAdmin bool) string {
	t.Helper()

	token, _, err := setup.Auth.GenerateToken(subject, isAdmin, time.Hour)
	if err != nil {
		t.Fatalf("Failed to generate test token: %v", err)
	}
	return token
}
