package peerlink

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"pkt.systems/pslog"

	"github.com/rmacdonaldsmith/meshbroker-go/pkg/envelope"
	"github.com/rmacdonaldsmith/meshbroker-go/pkg/peerlink"
	"github.com/rmacdonaldsmith/meshbroker-go/pkg/registry"
)

// FrameHandler turns an inbound frame into the reply to write back, if any.
type FrameHandler interface {
	HandleFrame(ctx context.Context, frame []byte, c envelope.Context, entityID string) ([]byte, error)
}

// Announcer yields the ports this node advertises and whether it has
// announced itself before.
type Announcer interface {
	Announce() (sessionsPort, clientsPort int, registered bool)
}

// Session drives one federated link for its whole life: it records the peer
// in the registry, exchanges state, feeds inbound frames to the kernel and
// removes the peer once the link ends.
type Session struct {
	id        string
	role      registry.Role
	address   peerlink.PeerAddress
	link      *Link
	registry  registry.Registry
	announcer Announcer
	handler   FrameHandler
	logger    pslog.Logger
}

// SessionOptions wires a Session to the rest of the node.
type SessionOptions struct {
	Registry  registry.Registry
	Announcer Announcer
	Handler   FrameHandler
	Logger    pslog.Logger
}

// NewSession prepares a session over an open link. For RoleLocal only the
// host of address is known; the peer advertises its ports with register.
func NewSession(role registry.Role, address peerlink.PeerAddress, link *Link, opts SessionOptions) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	id := uuid.NewString()
	return &Session{
		id:        id,
		role:      role,
		address:   address,
		link:      link,
		registry:  opts.Registry,
		announcer: opts.Announcer,
		handler:   opts.Handler,
		logger:    logger.With("sys", "session", "session_id", id, "role", role.String()),
	}
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// Run blocks until the link closes. The session is removed from the
// registry before Run returns, and peers still connected are told that the
// clients mirrored through it are gone.
func (s *Session) Run(ctx context.Context) error {
	record := registry.Session{
		ID:          s.id,
		Role:        s.role,
		Host:        s.address.Host,
		ConnectedAt: time.Now(),
		Link:        s.link,
	}
	if s.role == registry.RoleRemote {
		record.SessionsPort = s.address.SessionsPort
		record.ClientsPort = s.address.ClientsPort
	}
	if !s.registry.AddSession(record) {
		_ = s.link.Close()
		return nil
	}
	s.logger.Info("session.open", "host", s.address.Host)

	defer func() {
		s.registry.RemoveSession(s.id)
		_ = s.link.Close()
		s.depart()
		s.logger.Info("session.closed")
	}()

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer wg.Wait()
	defer cancel()

	if s.role == registry.RoleRemote {
		if err := s.announce(); err != nil {
			return err
		}
		// Sync waits for queue room, so it must not hold up the read loop.
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.syncPeer(ctx)
		}()
	}

	err := s.link.Run(ctx, func(frame []byte) {
		reply, err := s.handler.HandleFrame(ctx, frame, envelope.OnSession, s.id)
		if err != nil {
			s.logger.Warn("session.encode_failed", "error", err)
			return
		}
		if reply == nil {
			return
		}
		if err := s.link.Enqueue(reply); err != nil {
			s.logger.Debug("session.reply_dropped", "error", err)
		}
	})
	if err != nil {
		s.logger.Warn("session.read_failed", "error", err)
	}
	return err
}

// announce queues the register frame telling the accepting peer which ports
// this node listens on. It is the first frame on the link.
func (s *Session) announce() error {
	sessionsPort, clientsPort, registered := s.announcer.Announce()
	frame, err := envelope.Encode(envelope.NewRequest(envelope.ActionRegister, map[string]any{
		"sessions_port": sessionsPort,
		"clients_port":  clientsPort,
		"registered":    registered,
	}))
	if err != nil {
		return err
	}
	if err := s.link.Enqueue(frame); err != nil {
		return err
	}
	s.logger.Info("session.registered", "sessions_port", sessionsPort, "clients_port", clientsPort,
		"registered", registered)
	return nil
}

// syncPeer marks the dialed peer routable and sends it this node's own clients
// and subscriptions.
func (s *Session) syncPeer(ctx context.Context) {
	if !s.registry.RegisterSession(s.id, s.address.SessionsPort, s.address.ClientsPort) {
		return
	}
	synced := s.registry.Sync(ctx, s.id, true)
	s.logger.Info("session.synced", "frames", synced)
}

// depart forgets the clients mirrored through this session and tells the
// remaining peers they left.
func (s *Session) depart() {
	departed := 0
	for _, client := range s.registry.GetClients() {
		if client.SessionID != s.id || client.Local {
			continue
		}
		if !s.registry.RemoveClient(client.ID) {
			continue
		}
		s.registry.LeaveToSessions(client.ID)
		departed++
	}
	if departed > 0 {
		s.logger.Info("session.departed", "clients", departed)
	}
}
