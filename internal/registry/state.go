// Package registry implements the in-memory node registry: sessions,
// clients and subscriptions, plus the fan-out operations that push frames
// to attached clients and forward them to federated peers.
package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"pkt.systems/pslog"

	"github.com/rmacdonaldsmith/meshbroker-go/pkg/registry"
)

// State implements registry.Registry. A single RWMutex guards the primary
// maps and every secondary index, so each mutation is one critical section.
type State struct {
	id     string
	config *Config
	logger pslog.Logger

	mu               sync.RWMutex
	sessions         map[string]*registry.Session
	clients          map[string]*registry.Client
	clientsBySession map[string]map[string]struct{}
	subscriptions    *subscriptionIndex
}

// Option configures a State.
type Option func(*State)

// WithID assigns the node id instead of a random one.
func WithID(id string) Option {
	return func(s *State) {
		s.id = id
	}
}

// WithLogger sets the logger used for registry events.
func WithLogger(logger pslog.Logger) Option {
	return func(s *State) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewState creates an empty registry for a node.
func NewState(config *Config, opts ...Option) *State {
	if config == nil {
		config = NewConfig("localhost", 0, 0)
	}
	s := &State{
		id:               uuid.NewString(),
		config:           config,
		logger:           pslog.NoopLogger(),
		sessions:         make(map[string]*registry.Session),
		clients:          make(map[string]*registry.Client),
		clientsBySession: make(map[string]map[string]struct{}),
		subscriptions:    newSubscriptionIndex(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("sys", "registry", "state_id", s.id)
	return s
}

// ID returns the node id.
func (s *State) ID() string {
	return s.id
}

// Config returns the runtime configuration.
func (s *State) Config() *Config {
	return s.config
}

// AddClient inserts a client record. It reports false if the id is taken.
func (s *State) AddClient(client registry.Client) bool {
	if client.ConnectedAt.IsZero() {
		client.ConnectedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.clients[client.ID]; exists {
		return false
	}
	record := client
	s.clients[client.ID] = &record
	owned, ok := s.clientsBySession[client.SessionID]
	if !ok {
		owned = make(map[string]struct{})
		s.clientsBySession[client.SessionID] = owned
	}
	owned[client.ID] = struct{}{}
	s.logger.Debug("client.added", "client_id", client.ID, "session_id", client.SessionID, "local", client.Local)
	return true
}

// RemoveClient erases a client and every subscription it holds. Removing an
// unknown client is a no-op that reports false.
func (s *State) RemoveClient(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	client, exists := s.clients[id]
	if !exists {
		return false
	}
	delete(s.clients, id)
	if owned, ok := s.clientsBySession[client.SessionID]; ok {
		delete(owned, id)
		if len(owned) == 0 {
			delete(s.clientsBySession, client.SessionID)
		}
	}
	dropped := s.subscriptions.eraseClient(id)
	s.logger.Debug("client.removed", "client_id", id, "subscriptions", dropped)
	return true
}

// GetClient returns a snapshot of one client.
func (s *State) GetClient(id string) (registry.Client, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	client, ok := s.clients[id]
	if !ok {
		return registry.Client{}, false
	}
	return *client, true
}

// GetClients returns a snapshot of every client ordered by id.
func (s *State) GetClients() []registry.Client {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]registry.Client, 0, len(s.clients))
	for _, client := range s.clients {
		out = append(out, *client)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AddSession inserts a session record. It reports false if the id is taken.
func (s *State) AddSession(session registry.Session) bool {
	if session.ConnectedAt.IsZero() {
		session.ConnectedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[session.ID]; exists {
		return false
	}
	record := session
	s.sessions[session.ID] = &record
	s.logger.Debug("session.added", "session_id", session.ID, "role", session.Role.String(), "host", session.Host)
	return true
}

// RemoveSession erases a session and the subscriptions it owns. Clients
// owned by the session stay until a leave removes them.
func (s *State) RemoveSession(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[id]; !exists {
		return false
	}
	delete(s.sessions, id)
	dropped := s.subscriptions.eraseSession(id)
	s.logger.Debug("session.removed", "session_id", id, "subscriptions", dropped)
	return true
}

// GetSession returns a snapshot of one session.
func (s *State) GetSession(id string) (registry.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[id]
	if !ok {
		return registry.Session{}, false
	}
	return *session, true
}

// GetSessions returns a snapshot of every session ordered by id.
func (s *State) GetSessions() []registry.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]registry.Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		out = append(out, *session)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RegisterSession stores the ports a peer advertised and marks it registered.
func (s *State) RegisterSession(id string, sessionsPort, clientsPort int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return false
	}
	session.SessionsPort = sessionsPort
	session.ClientsPort = clientsPort
	session.Registered = true
	return true
}

// HasSession reports whether a session already targets host and ports.
func (s *State) HasSession(host string, sessionsPort, clientsPort int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, session := range s.sessions {
		if SameHost(session.Host, host) && session.SessionsPort == sessionsPort && session.ClientsPort == clientsPort {
			return true
		}
	}
	return false
}

// Subscribe inserts the (session, client, channel) triple.
func (s *State) Subscribe(sessionID, clientID, channel string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscriptions.insert(registry.Subscription{SessionID: sessionID, ClientID: clientID, Channel: channel})
}

// Unsubscribe removes the (session, client, channel) triple.
func (s *State) Unsubscribe(sessionID, clientID, channel string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscriptions.erase(registry.Subscription{SessionID: sessionID, ClientID: clientID, Channel: channel})
}

// IsSubscribed reports whether any session holds clientID on channel.
func (s *State) IsSubscribed(clientID, channel string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.subscriptions.has(clientID, channel)
}

// GetSubscriptions returns a snapshot of every subscription.
func (s *State) GetSubscriptions() []registry.Subscription {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.subscriptions.all()
}

// Counts returns the number of sessions, clients and subscriptions.
func (s *State) Counts() (sessions, clients, subscriptions int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions), len(s.clients), s.subscriptions.len()
}

// SameHost treats the loopback spellings of a host as equal.
func SameHost(a, b string) bool {
	if a == b {
		return true
	}
	return isLoopback(a) && isLoopback(b)
}

func isLoopback(host string) bool {
	switch host {
	case "localhost", "127.0.0.1", "::1":
		return true
	default:
		return false
	}
}

var _ registry.Registry = (*State)(nil)
