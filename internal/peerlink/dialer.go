package peerlink

import (
	"context"
	"crypto/tls"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"pkt.systems/pslog"

	"github.com/rmacdonaldsmith/meshbroker-go/pkg/peerlink"
	"github.com/rmacdonaldsmith/meshbroker-go/pkg/registry"
)

// Dialer opens outbound sessions. Each dial runs in its own goroutine and
// retries on a constant interval until the link opens or its context ends.
type Dialer struct {
	base      context.Context
	config    *Config
	tlsConfig *tls.Config
	self      func() peerlink.PeerAddress
	sameHost  func(a, b string) bool
	session   SessionOptions
	logger    pslog.Logger

	mu      sync.Mutex
	pending map[string]struct{}
	wg      sync.WaitGroup
}

// DialerOptions wires a Dialer.
type DialerOptions struct {
	// Context bounds every dial and session started by the dialer. When
	// nil, the context passed to Dial is used.
	Context   context.Context
	Config    *Config
	TLSConfig *tls.Config
	// Self returns this node's advertised address so that it never dials
	// itself.
	Self func() peerlink.PeerAddress
	// SameHost compares host spellings; defaults to string equality.
	SameHost func(a, b string) bool
	Session  SessionOptions
	Logger   pslog.Logger
}

// NewDialer creates a dialer.
func NewDialer(opts DialerOptions) *Dialer {
	logger := opts.Logger
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	sameHost := opts.SameHost
	if sameHost == nil {
		sameHost = func(a, b string) bool { return a == b }
	}
	return &Dialer{
		base:      opts.Context,
		config:    opts.Config,
		tlsConfig: opts.TLSConfig,
		self:      opts.Self,
		sameHost:  sameHost,
		session:   opts.Session,
		logger:    logger.With("sys", "dialer"),
		pending:   make(map[string]struct{}),
	}
}

// Dial implements peerlink.Dialer. The address stays pending for as long as
// the resulting session lives.
func (d *Dialer) Dial(ctx context.Context, address peerlink.PeerAddress) bool {
	if d.isSelf(address) {
		d.logger.Debug("dial.self", "address", address.SessionsAddr())
		return false
	}
	key := address.SessionsAddr()
	d.mu.Lock()
	if _, busy := d.pending[key]; busy {
		d.mu.Unlock()
		return false
	}
	d.pending[key] = struct{}{}
	d.wg.Add(1)
	d.mu.Unlock()

	if d.base != nil {
		ctx = d.base
	}

	go func() {
		defer d.wg.Done()
		defer func() {
			d.mu.Lock()
			delete(d.pending, key)
			d.mu.Unlock()
		}()
		d.run(ctx, address)
	}()
	return true
}

func (d *Dialer) run(ctx context.Context, address peerlink.PeerAddress) {
	logger := d.logger.With("address", address.SessionsAddr())
	link, err := backoff.Retry(ctx, func() (*Link, error) {
		return Dial(ctx, address, d.tlsConfig, d.config, d.session.Logger)
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(d.config.RetryInterval)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Info("dial.retry", "error", err, "next", next)
		}),
	)
	if err != nil {
		logger.Warn("dial.abandoned", "error", err)
		return
	}
	logger.Info("dial.connected")
	session := NewSession(registry.RoleRemote, address, link, d.session)
	_ = session.Run(ctx)
}

func (d *Dialer) isSelf(address peerlink.PeerAddress) bool {
	if d.self == nil {
		return false
	}
	own := d.self()
	return own.SessionsPort == address.SessionsPort && d.sameHost(own.Host, address.Host)
}

// Wait blocks until every dial and the sessions they started have ended.
func (d *Dialer) Wait() {
	d.wg.Wait()
}

// Pending returns the number of addresses currently dialed or connected.
func (d *Dialer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}
