package registry

import (
	"context"

	"github.com/google/uuid"

	"github.com/rmacdonaldsmith/meshbroker-go/pkg/envelope"
	"github.com/rmacdonaldsmith/meshbroker-go/pkg/registry"
)

// Sync sends this node's view to the peer behind sessionID: a join for
// every client attached here and a subscribe for every subscription owned
// here. A peer that has never registered anywhere also receives a session
// directive for each other registered peer, so it dials the rest of the
// mesh. Only the node a newcomer bootstraps against sends that listing.
// Frames wait for queue room rather than being dropped. It returns the
// number of frames queued.
func (s *State) Sync(ctx context.Context, sessionID string, peerRegistered bool) int {
	s.mu.RLock()
	session, ok := s.sessions[sessionID]
	if !ok || session.Link == nil {
		s.mu.RUnlock()
		return 0
	}
	link := session.Link

	clients := make([]string, 0, len(s.clientsBySession[s.id]))
	for id := range s.clientsBySession[s.id] {
		clients = append(clients, id)
	}
	subscriptions := s.subscriptions.session(s.id)

	var peers []registry.Session
	if !peerRegistered {
		for _, other := range s.sessions {
			if other.ID == sessionID || !other.Registered || other.SessionsPort == 0 {
				continue
			}
			peers = append(peers, *other)
		}
	}
	s.mu.RUnlock()

	frames := make([]envelope.Request, 0, len(clients)+len(subscriptions)+len(peers))
	for _, id := range clients {
		frames = append(frames, envelope.NewPush(uuid.NewString(), envelope.ActionJoin, map[string]any{
			"client_id": id,
		}))
	}
	for _, row := range subscriptions {
		frames = append(frames, envelope.NewPush(uuid.NewString(), envelope.ActionSubscribe, map[string]any{
			"client_id": row.ClientID,
			"channel":   row.Channel,
		}))
	}
	for _, peer := range peers {
		frames = append(frames, envelope.NewPush(uuid.NewString(), envelope.ActionSession, map[string]any{
			"host":          peer.Host,
			"sessions_port": peer.SessionsPort,
			"clients_port":  peer.ClientsPort,
		}))
	}

	sent := 0
	for _, request := range frames {
		frame, err := envelope.Encode(request)
		if err != nil {
			s.logger.Warn("sync.encode_failed", "session_id", sessionID, "error", err)
			continue
		}
		if err := link.Send(ctx, frame); err != nil {
			s.logger.Warn("sync.aborted", "session_id", sessionID, "sent", sent, "total", len(frames), "error", err)
			break
		}
		sent++
	}
	s.logger.Info("sync.sent", "session_id", sessionID, "peer_registered", peerRegistered,
		"clients", len(clients), "subscriptions", len(subscriptions), "sessions", len(peers))
	return sent
}
