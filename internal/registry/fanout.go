package registry

import (
	"github.com/google/uuid"

	"github.com/rmacdonaldsmith/meshbroker-go/pkg/envelope"
	"github.com/rmacdonaldsmith/meshbroker-go/pkg/registry"
)

// target is a link captured while the registry lock was held. Frames are
// queued after the lock is released; Enqueue never blocks on the network.
type target struct {
	id   string
	link registry.Outbound
}

// BroadcastToClients pushes a broadcast to every attached client but the sender.
func (s *State) BroadcastToClients(transactionID, fromClientID string, payload map[string]any) int {
	targets := s.attachedClients(func(c *registry.Client) bool {
		return c.ID != fromClientID
	})
	return s.push(targets, transactionID, envelope.ActionBroadcast, map[string]any{
		"from_client_id": fromClientID,
		"payload":        payload,
	})
}

// BroadcastToSessions forwards a broadcast to every peer. Peers only deliver
// to their own clients, so the broadcast travels a single hop.
func (s *State) BroadcastToSessions(transactionID, fromClientID string, payload map[string]any) int {
	return s.push(s.sessionTargets(""), transactionID, envelope.ActionBroadcast, map[string]any{
		"client_id": fromClientID,
		"payload":   payload,
	})
}

// PublishToClients pushes a publish to attached subscribers of channel.
func (s *State) PublishToClients(transactionID, channel, fromClientID string, payload map[string]any) int {
	s.mu.RLock()
	targets := make([]target, 0)
	for _, row := range s.subscriptions.channel(channel) {
		if row.SessionID != s.id || row.ClientID == fromClientID {
			continue
		}
		client, ok := s.clients[row.ClientID]
		if !ok || !client.Local || client.Link == nil {
			continue
		}
		targets = append(targets, target{id: client.ID, link: client.Link})
	}
	s.mu.RUnlock()

	return s.push(targets, transactionID, envelope.ActionPublish, map[string]any{
		"channel":   channel,
		"client_id": fromClientID,
		"payload":   payload,
	})
}

// PublishToSessions forwards a publish once to each peer owning at least one
// subscriber of channel.
func (s *State) PublishToSessions(transactionID, channel, fromClientID string, payload map[string]any) int {
	s.mu.RLock()
	seen := make(map[string]struct{})
	targets := make([]target, 0)
	for _, row := range s.subscriptions.channel(channel) {
		if row.SessionID == s.id {
			continue
		}
		if _, dup := seen[row.SessionID]; dup {
			continue
		}
		seen[row.SessionID] = struct{}{}
		session, ok := s.sessions[row.SessionID]
		if !ok || session.Link == nil {
			continue
		}
		targets = append(targets, target{id: session.ID, link: session.Link})
	}
	s.mu.RUnlock()

	return s.push(targets, transactionID, envelope.ActionPublish, map[string]any{
		"channel":   channel,
		"client_id": fromClientID,
		"payload":   payload,
	})
}

// SubscribeToSessions tells every peer that clientID subscribed to channel here.
func (s *State) SubscribeToSessions(transactionID, clientID, channel string) int {
	return s.push(s.sessionTargets(""), transactionID, envelope.ActionSubscribe, map[string]any{
		"client_id": clientID,
		"channel":   channel,
	})
}

// UnsubscribeToSessions tells every peer that clientID left channel here.
func (s *State) UnsubscribeToSessions(transactionID, clientID, channel string) int {
	return s.push(s.sessionTargets(""), transactionID, envelope.ActionUnsubscribe, map[string]any{
		"client_id": clientID,
		"channel":   channel,
	})
}

// JoinToSessions announces a newly attached client to every peer.
func (s *State) JoinToSessions(clientID string) int {
	return s.push(s.sessionTargets(""), uuid.NewString(), envelope.ActionJoin, map[string]any{
		"client_id": clientID,
	})
}

// LeaveToSessions tells every peer to drop its mirror of clientID.
func (s *State) LeaveToSessions(clientID string) int {
	return s.push(s.sessionTargets(""), uuid.NewString(), envelope.ActionLeave, map[string]any{
		"client_id": clientID,
	})
}

// SendToClient pushes a point-to-point message to an attached client.
func (s *State) SendToClient(transactionID, fromClientID, toClientID string, payload map[string]any) bool {
	s.mu.RLock()
	client, ok := s.clients[toClientID]
	var targets []target
	if ok && client.Local && client.Link != nil {
		targets = []target{{id: client.ID, link: client.Link}}
	}
	s.mu.RUnlock()

	return s.push(targets, transactionID, envelope.ActionSend, map[string]any{
		"from_client_id": fromClientID,
		"to_client_id":   toClientID,
		"payload":        payload,
	}) > 0
}

// SendToSession forwards a point-to-point message to the peer owning the target.
func (s *State) SendToSession(transactionID, sessionID, fromClientID, toClientID string, payload map[string]any) bool {
	s.mu.RLock()
	session, ok := s.sessions[sessionID]
	var targets []target
	if ok && session.Link != nil {
		targets = []target{{id: session.ID, link: session.Link}}
	}
	s.mu.RUnlock()

	return s.push(targets, transactionID, envelope.ActionSend, map[string]any{
		"from_client_id": fromClientID,
		"to_client_id":   toClientID,
		"payload":        payload,
	}) > 0
}

// attachedClients captures the links of clients whose socket this node owns.
func (s *State) attachedClients(keep func(*registry.Client) bool) []target {
	s.mu.RLock()
	defer s.mu.RUnlock()

	targets := make([]target, 0, len(s.clientsBySession[s.id]))
	for id := range s.clientsBySession[s.id] {
		client := s.clients[id]
		if client == nil || !client.Local || client.Link == nil || !keep(client) {
			continue
		}
		targets = append(targets, target{id: client.ID, link: client.Link})
	}
	return targets
}

// sessionTargets captures the links of every registered peer except exclude.
func (s *State) sessionTargets(exclude string) []target {
	s.mu.RLock()
	defer s.mu.RUnlock()

	targets := make([]target, 0, len(s.sessions))
	for _, session := range s.sessions {
		if session.ID == exclude || !session.Registered || session.Link == nil {
			continue
		}
		targets = append(targets, target{id: session.ID, link: session.Link})
	}
	return targets
}

// push encodes one frame and queues it on every target. It returns the
// number of links that accepted the frame.
func (s *State) push(targets []target, transactionID, action string, params map[string]any) int {
	if len(targets) == 0 {
		return 0
	}
	frame, err := envelope.Encode(envelope.NewPush(transactionID, action, params))
	if err != nil {
		s.logger.Warn("push.encode_failed", "action", action, "error", err)
		return 0
	}
	count := 0
	for _, t := range targets {
		if err := t.link.Enqueue(frame); err != nil {
			s.logger.Debug("push.dropped", "action", action, "target", t.id, "error", err)
			continue
		}
		count++
	}
	return count
}
