package meshnode

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"
	"pkt.systems/pslog"

	"github.com/rmacdonaldsmith/meshbroker-go/internal/discovery"
	"github.com/rmacdonaldsmith/meshbroker-go/internal/kernel"
	"github.com/rmacdonaldsmith/meshbroker-go/internal/peerlink"
	"github.com/rmacdonaldsmith/meshbroker-go/internal/registry"
	"github.com/rmacdonaldsmith/meshbroker-go/pkg/meshnode"
	peerlinkpkg "github.com/rmacdonaldsmith/meshbroker-go/pkg/peerlink"
	registrypkg "github.com/rmacdonaldsmith/meshbroker-go/pkg/registry"
)

// Node implements the meshnode.Node interface.
// It owns both TLS listeners, the registry, the kernel and the federation
// dialer, and ties the lifetime of every connection to its own.
type Node struct {
	mu     sync.RWMutex
	config *Config

	// Core components
	state     *registry.State
	kernel    *kernel.Kernel
	dialer    *peerlink.Dialer
	discovery discovery.Discovery
	upgrader  websocket.Upgrader
	logger    pslog.Logger
	metrics   *Metrics

	// Lifecycle
	ctx       context.Context
	cancel    context.CancelFunc
	group     *errgroup.Group
	conns     sync.WaitGroup
	clients   *http.Server
	sessions  *http.Server
	clientsLn net.Listener
	sessLn    net.Listener
	started   bool
	closed    bool
	startedAt time.Time
}

// Option configures a Node.
type Option func(*options)

type options struct {
	id        string
	logger    pslog.Logger
	registry  prometheus.Registerer
	tracer    trace.Tracer
	discovery discovery.Discovery
}

// WithID fixes the node id instead of generating one.
func WithID(id string) Option {
	return func(o *options) { o.id = id }
}

// WithLogger sets the base logger.
func WithLogger(logger pslog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMetricsRegistry registers node and kernel collectors on reg.
func WithMetricsRegistry(reg prometheus.Registerer) Option {
	return func(o *options) { o.registry = reg }
}

// WithTracer overrides the tracer used by the kernel.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) { o.tracer = tracer }
}

// WithDiscovery replaces the bootstrap source. By default a joining node
// bootstraps against the configured remote node only.
func WithDiscovery(d discovery.Discovery) Option {
	return func(o *options) { o.discovery = d }
}

// NewNode creates a node with the given configuration. It does not bind
// any socket; call Start.
func NewNode(config *Config, opts ...Option) (*Node, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	o := options{logger: pslog.NoopLogger()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = pslog.NoopLogger()
	}

	stateOpts := []registry.Option{registry.WithLogger(o.logger)}
	if o.id != "" {
		stateOpts = append(stateOpts, registry.WithID(o.id))
	}
	state := registry.NewState(registry.NewConfig(advertisedHost(config.Address), config.SessionsPort, config.ClientsPort), stateOpts...)
	logger := o.logger.With("sys", "node", "state_id", state.ID())

	n := &Node{
		config:    config,
		state:     state,
		discovery: o.discovery,
		logger:    logger,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: config.PeerLinkConfig.HandshakeTimeout,
			CheckOrigin:      func(*http.Request) bool { return true },
		},
	}
	if n.discovery == nil && config.IsNode {
		n.discovery = discovery.NewStaticDiscovery(config.Remote())
	}

	kernelOpts := []kernel.Option{kernel.WithLogger(o.logger)}
	if o.tracer != nil {
		kernelOpts = append(kernelOpts, kernel.WithTracer(o.tracer))
	}
	if o.registry != nil {
		n.metrics = NewMetrics(o.registry, state)
		kernelOpts = append(kernelOpts, kernel.WithMetrics(kernel.NewMetrics(o.registry)))
	}
	n.kernel = kernel.New(state, append(kernelOpts, kernel.WithDialer(peerlinkpkg.Dialer(n)))...)
	return n, nil
}

// Dial implements peerlink.Dialer for the kernel. Dials are bound to the
// node lifetime rather than to the request that asked for them.
func (n *Node) Dial(ctx context.Context, address peerlinkpkg.PeerAddress) bool {
	n.mu.RLock()
	dialer := n.dialer
	n.mu.RUnlock()
	if dialer == nil {
		return false
	}
	return dialer.Dial(ctx, address)
}

// Start binds both listeners, records the bound ports and, for a joining
// node, starts dialing the bootstrap peers.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return fmt.Errorf("cannot start closed node")
	}
	if n.started {
		return nil // Already started, idempotent
	}

	if n.config.Threads > 0 {
		runtime.GOMAXPROCS(n.config.Threads)
	}

	clientsLn, err := n.listen(n.config.ClientsPort, n.config.TLS.Clients)
	if err != nil {
		return fmt.Errorf("clients listener: %w", err)
	}
	sessLn, err := n.listen(n.config.SessionsPort, n.config.TLS.Sessions)
	if err != nil {
		_ = clientsLn.Close()
		return fmt.Errorf("sessions listener: %w", err)
	}
	n.clientsLn, n.sessLn = clientsLn, sessLn

	cfg := n.state.Config()
	cfg.SetClientsPort(boundPort(clientsLn))
	cfg.SetSessionsPort(boundPort(sessLn))

	n.ctx, n.cancel = context.WithCancel(context.WithoutCancel(ctx))
	n.dialer = peerlink.NewDialer(peerlink.DialerOptions{
		Context:   n.ctx,
		Config:    n.config.PeerLinkConfig,
		TLSConfig: n.config.TLS.Dial,
		Self:      n.self,
		SameHost:  registry.SameHost,
		Session:   n.sessionOptions(),
		Logger:    n.logger,
	})

	n.clients = n.server(http.HandlerFunc(n.serveClient))
	n.sessions = n.server(http.HandlerFunc(n.serveSession))

	group, _ := errgroup.WithContext(n.ctx)
	group.Go(func() error { return serve(n.clients, clientsLn) })
	group.Go(func() error { return serve(n.sessions, sessLn) })
	n.group = group

	n.started = true
	n.startedAt = time.Now()
	n.logger.Info("node.started",
		"clients_addr", clientsLn.Addr().String(),
		"sessions_addr", sessLn.Addr().String(),
		"is_node", n.config.IsNode,
	)

	if n.discovery != nil {
		peers, err := n.discovery.FindPeers(ctx)
		if err != nil {
			n.logger.Warn("node.discovery_failed", "error", err)
		}
		for _, peer := range peers {
			if n.dialer.Dial(n.ctx, peer) {
				n.logger.Info("node.bootstrap", "address", peer.SessionsAddr())
			}
		}
	}
	return nil
}

func (n *Node) listen(port int, tlsConfig *tls.Config) (net.Listener, error) {
	ln, err := net.Listen("tcp", net.JoinHostPort(n.config.Address, strconv.Itoa(port)))
	if err != nil {
		return nil, err
	}
	if n.config.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, n.config.MaxConnections)
	}
	return tls.NewListener(ln, tlsConfig), nil
}

func (n *Node) server(handler http.Handler) *http.Server {
	return &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: n.config.PeerLinkConfig.HandshakeTimeout,
		BaseContext:       func(net.Listener) context.Context { return n.ctx },
	}
}

func serve(srv *http.Server, ln net.Listener) error {
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (n *Node) sessionOptions() peerlink.SessionOptions {
	return peerlink.SessionOptions{
		Registry:  n.state,
		Announcer: n.state.Config(),
		Handler:   n.kernel,
		Logger:    n.logger,
	}
}

func (n *Node) self() peerlinkpkg.PeerAddress {
	cfg := n.state.Config()
	return peerlinkpkg.PeerAddress{Host: cfg.Host(), SessionsPort: cfg.SessionsPort(), ClientsPort: cfg.ClientsPort()}
}

// serveSession accepts a peer dialing in.
func (n *Node) serveSession(w http.ResponseWriter, r *http.Request) {
	n.conns.Add(1)
	defer n.conns.Done()

	link, err := peerlink.Accept(w, r, &n.upgrader, n.config.PeerLinkConfig, n.logger)
	if err != nil {
		n.logger.Debug("session.handshake_failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	n.metrics.connectionOpened("session")
	defer n.metrics.connectionClosed("session")

	session := peerlink.NewSession(registrypkg.RoleLocal, peerlinkpkg.PeerAddress{Host: host}, link, n.sessionOptions())
	_ = session.Run(n.ctx)
}

// Stop closes the listeners, then every connection, cancels pending dials
// and waits for all goroutines.
func (n *Node) Stop(ctx context.Context) error {
	n.mu.Lock()
	if !n.started {
		n.mu.Unlock()
		return nil // Not started, idempotent
	}
	n.started = false
	n.mu.Unlock()

	shutdownErr := errors.Join(n.clients.Shutdown(ctx), n.sessions.Shutdown(ctx))
	n.cancel()

	done := make(chan struct{})
	go func() {
		n.conns.Wait()
		n.dialer.Wait()
		_ = n.group.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("stop: %w", ctx.Err())
	}
	n.logger.Info("node.stopped")
	if shutdownErr != nil && !errors.Is(shutdownErr, context.Canceled) {
		return shutdownErr
	}
	return nil
}

// Close stops the node and marks it permanently closed.
func (n *Node) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := n.Stop(ctx)

	n.mu.Lock()
	n.closed = true
	n.mu.Unlock()
	return err
}

// ID returns the node id.
func (n *Node) ID() string {
	return n.state.ID()
}

// ClientsAddr returns the bound clients listener address.
func (n *Node) ClientsAddr() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.clientsLn == nil {
		return ""
	}
	return n.clientsLn.Addr().String()
}

// SessionsAddr returns the bound sessions listener address.
func (n *Node) SessionsAddr() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.sessLn == nil {
		return ""
	}
	return n.sessLn.Addr().String()
}

// Registry exposes the node registry.
func (n *Node) Registry() registrypkg.Registry {
	return n.state
}

// Snapshot returns a copy of the registry for operators.
func (n *Node) Snapshot() meshnode.Snapshot {
	cfg := n.state.Config()
	snapshot := meshnode.Snapshot{
		ID:            n.state.ID(),
		Host:          cfg.Host(),
		SessionsPort:  cfg.SessionsPort(),
		ClientsPort:   cfg.ClientsPort(),
		Registered:    cfg.Registered(),
		Subscriptions: n.state.GetSubscriptions(),
	}
	for _, s := range n.state.GetSessions() {
		snapshot.Sessions = append(snapshot.Sessions, meshnode.NewSessionInfo(s))
	}
	for _, c := range n.state.GetClients() {
		snapshot.Clients = append(snapshot.Clients, meshnode.NewClientInfo(c))
	}
	return snapshot
}

// GetHealth returns the overall health status of this node.
func (n *Node) GetHealth(ctx context.Context) (meshnode.HealthStatus, error) {
	if err := ctx.Err(); err != nil {
		return meshnode.HealthStatus{}, err
	}
	n.mu.RLock()
	started, startedAt := n.started, n.startedAt
	n.mu.RUnlock()

	status := meshnode.HealthStatus{Healthy: started}
	for _, c := range n.state.GetClients() {
		if c.Local {
			status.ConnectedClients++
		} else {
			status.MirroredClients++
		}
	}
	status.ConnectedPeers = len(n.state.GetSessions())
	status.Subscriptions = len(n.state.GetSubscriptions())
	if started {
		status.Uptime = time.Since(startedAt)
		status.Message = "accepting connections"
	} else {
		status.Message = "node is not running"
	}
	return status, nil
}

// advertisedHost maps a wildcard bind address to the loopback name used
// when comparing a peer address with this node.
func advertisedHost(address string) string {
	switch address {
	case "", "0.0.0.0", "::":
		return "localhost"
	default:
		return address
	}
}

func boundPort(ln net.Listener) int {
	if addr, ok := ln.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}

var _ meshnode.Node = (*Node)(nil)
var _ peerlinkpkg.Dialer = (*Node)(nil)
