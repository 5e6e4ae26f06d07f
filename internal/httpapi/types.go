package httpapi

import (
	"github.com/rmacdonaldsmith/meshbroker-go/pkg/meshnode"
	"github.com/rmacdonaldsmith/meshbroker-go/pkg/registry"
)

// Response types for the admin HTTP API

// HealthResponse represents health check response
type HealthResponse struct {
	Healthy          bool   `json:"healthy"`
	NodeID           string `json:"nodeId"`
	ConnectedClients int    `json:"connectedClients"`
	MirroredClients  int    `json:"mirroredClients"`
	ConnectedPeers   int    `json:"connectedPeers"`
	Subscriptions    int    `json:"subscriptions"`
	Uptime           string `json:"uptime"`
	Message          string `json:"message"`
}

// AdminSessionsResponse lists the peer sessions of the node
type AdminSessionsResponse struct {
	Sessions []meshnode.SessionInfo `json:"sessions"`
}

// AdminClientsResponse lists local and mirrored clients
type AdminClientsResponse struct {
	Clients []meshnode.ClientInfo `json:"clients"`
}

// AdminSubscriptionsResponse lists every subscription row
type AdminSubscriptionsResponse struct {
	Subscriptions []registry.Subscription `json:"subscriptions"`
}

// AdminStatsResponse represents node statistics
type AdminStatsResponse struct {
	NodeID          string `json:"nodeId"`
	Sessions        int    `json:"sessions"`
	LocalClients    int    `json:"localClients"`
	MirroredClients int    `json:"mirroredClients"`
	Subscriptions   int    `json:"subscriptions"`
	Channels        int    `json:"channels"`
	Uptime          string `json:"uptime"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}
