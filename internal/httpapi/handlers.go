package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/rmacdonaldsmith/meshbroker-go/pkg/meshnode"
	"github.com/rmacdonaldsmith/meshbroker-go/pkg/registry"
)

// NodeView is the part of a node the admin API reads.
type NodeView interface {
	ID() string
	Snapshot() meshnode.Snapshot
	GetHealth(ctx context.Context) (meshnode.HealthStatus, error)
}

// Handlers contains all HTTP request handlers
type Handlers struct {
	node NodeView
}

// NewHandlers creates a new handlers instance
func NewHandlers(node NodeView) *Handlers {
	return &Handlers{node: node}
}

// Health handles GET /api/v1/health
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	health, err := h.node.GetHealth(r.Context())
	if err != nil {
		writeError(w, "Failed to get health status", http.StatusInternalServerError)
		return
	}

	resp := HealthResponse{
		Healthy:          health.Healthy,
		NodeID:           h.node.ID(),
		ConnectedClients: health.ConnectedClients,
		MirroredClients:  health.MirroredClients,
		ConnectedPeers:   health.ConnectedPeers,
		Subscriptions:    health.Subscriptions,
		Uptime:           health.Uptime.Truncate(time.Second).String(),
		Message:          health.Message,
	}

	statusCode := http.StatusOK
	if !health.Healthy {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, resp, statusCode)
}

// AdminListSessions handles GET /api/v1/admin/sessions
func (h *Handlers) AdminListSessions(w http.ResponseWriter, r *http.Request) {
	snapshot := h.node.Snapshot()
	writeJSON(w, AdminSessionsResponse{Sessions: nonNil(snapshot.Sessions)}, http.StatusOK)
}

// AdminListClients handles GET /api/v1/admin/clients
func (h *Handlers) AdminListClients(w http.ResponseWriter, r *http.Request) {
	snapshot := h.node.Snapshot()
	writeJSON(w, AdminClientsResponse{Clients: nonNil(snapshot.Clients)}, http.StatusOK)
}

// AdminListSubscriptions handles GET /api/v1/admin/subscriptions
func (h *Handlers) AdminListSubscriptions(w http.ResponseWriter, r *http.Request) {
	snapshot := h.node.Snapshot()
	writeJSON(w, AdminSubscriptionsResponse{Subscriptions: nonNil(snapshot.Subscriptions)}, http.StatusOK)
}

// AdminGetStats handles GET /api/v1/admin/stats
func (h *Handlers) AdminGetStats(w http.ResponseWriter, r *http.Request) {
	health, err := h.node.GetHealth(r.Context())
	if err != nil {
		writeError(w, "Failed to get node status", http.StatusInternalServerError)
		return
	}
	snapshot := h.node.Snapshot()
	writeJSON(w, AdminStatsResponse{
		NodeID:          snapshot.ID,
		Sessions:        len(snapshot.Sessions),
		LocalClients:    health.ConnectedClients,
		MirroredClients: health.MirroredClients,
		Subscriptions:   len(snapshot.Subscriptions),
		Channels:        countChannels(snapshot.Subscriptions),
		Uptime:          health.Uptime.Truncate(time.Second).String(),
	}, http.StatusOK)
}

// AdminDump handles GET /api/v1/admin/dump
func (h *Handlers) AdminDump(w http.ResponseWriter, r *http.Request) {
	snapshot := h.node.Snapshot()
	snapshot.Sessions = nonNil(snapshot.Sessions)
	snapshot.Clients = nonNil(snapshot.Clients)
	snapshot.Subscriptions = nonNil(snapshot.Subscriptions)
	writeJSON(w, snapshot, http.StatusOK)
}

func countChannels(rows []registry.Subscription) int {
	channels := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		channels[row.Channel] = struct{}{}
	}
	return len(channels)
}

// nonNil renders empty lists as [] rather than null.
func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
