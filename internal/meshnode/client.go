package meshnode

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/rmacdonaldsmith/meshbroker-go/internal/peerlink"
	"github.com/rmacdonaldsmith/meshbroker-go/pkg/envelope"
	"github.com/rmacdonaldsmith/meshbroker-go/pkg/registry"
)

// serveClient runs one end-user connection: handshake, welcome, read loop
// and cleanup. The client is announced to every peer once it is registered
// and withdrawn from them when it leaves.
func (n *Node) serveClient(w http.ResponseWriter, r *http.Request) {
	n.conns.Add(1)
	defer n.conns.Done()

	link, err := peerlink.Accept(w, r, &n.upgrader, n.config.PeerLinkConfig, n.logger)
	if err != nil {
		n.logger.Debug("client.handshake_failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}
	acceptedAt := time.Now()
	id := uuid.NewString()
	logger := n.logger.With("client_id", id)

	if !n.state.AddClient(registry.Client{
		ID:          id,
		SessionID:   n.state.ID(),
		Local:       true,
		ConnectedAt: acceptedAt,
		Link:        link,
	}) {
		_ = link.Close()
		return
	}
	n.metrics.connectionOpened("client")
	defer n.metrics.connectionClosed("client")

	defer func() {
		n.state.RemoveClient(id)
		left := n.state.LeaveToSessions(id)
		logger.Info("client.closed", "notified", left)
	}()

	welcome, err := envelope.Encode(envelope.Welcome(id, acceptedAt))
	if err != nil {
		logger.Warn("client.welcome_failed", "error", err)
		return
	}
	if err := link.Enqueue(welcome); err != nil {
		return
	}
	joined := n.state.JoinToSessions(id)
	logger.Info("client.open", "remote_addr", r.RemoteAddr, "notified", joined)

	err = link.Run(n.ctx, func(frame []byte) {
		n.metrics.frameReceived("client")
		reply, err := n.kernel.HandleFrame(n.ctx, frame, envelope.OnClient, id)
		if err != nil {
			logger.Warn("client.encode_failed", "error", err)
			return
		}
		if reply == nil {
			return
		}
		if err := link.Enqueue(reply); err != nil {
			logger.Debug("client.reply_dropped", "error", err)
		}
	})
	if err != nil {
		logger.Debug("client.read_failed", "error", err)
	}
}
