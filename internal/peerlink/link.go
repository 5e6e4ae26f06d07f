// Package peerlink runs the WebSocket links of a node: the socket state
// machine, the single-writer outbound queue, federated sessions and the
// dialer that opens them.
package peerlink

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"pkt.systems/pslog"

	"github.com/rmacdonaldsmith/meshbroker-go/pkg/peerlink"
)

var (
	// ErrClosed is returned when queueing on a link that is shutting down.
	ErrClosed = errors.New("peerlink: link closed")

	// ErrQueueFull is returned when the outbound queue has no room left.
	ErrQueueFull = errors.New("peerlink: send queue full")
)

// Link owns one TLS WebSocket stream. Frames are written by a single
// goroutine in the order they were queued.
type Link struct {
	ws     *websocket.Conn
	config *Config
	logger pslog.Logger

	state      atomic.Int32
	queue      chan []byte
	done       chan struct{}
	writerDone chan struct{}
	closeOnce  sync.Once
}

func newLink(config *Config, logger pslog.Logger) *Link {
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	l := &Link{
		config:     config,
		logger:     logger,
		queue:      make(chan []byte, config.SendQueueSize),
		done:       make(chan struct{}),
		writerDone: make(chan struct{}),
	}
	return l
}

// Accept upgrades an inbound HTTPS request. The TLS handshake has already
// been completed by the listener.
func Accept(w http.ResponseWriter, r *http.Request, upgrader *websocket.Upgrader, config *Config, logger pslog.Logger) (*Link, error) {
	l := newLink(config, logger)
	l.setState(peerlink.StateTLSHandshaking)
	if r.TLS != nil && !r.TLS.HandshakeComplete {
		l.setState(peerlink.StateClosed)
		return nil, errors.New("peerlink: tls handshake incomplete")
	}
	l.setState(peerlink.StateWSHandshaking)
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.setState(peerlink.StateClosed)
		return nil, fmt.Errorf("websocket upgrade: %w", err)
	}
	l.open(ws)
	return l, nil
}

// Dial connects to a peer sessions listener, running the TLS client
// handshake and then the WebSocket client handshake.
func Dial(ctx context.Context, address peerlink.PeerAddress, tlsConfig *tls.Config, config *Config, logger pslog.Logger) (*Link, error) {
	l := newLink(config, logger)
	l.setState(peerlink.StateConnecting)

	dialer := websocket.Dialer{
		HandshakeTimeout: config.HandshakeTimeout,
		NetDialTLSContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			raw, err := (&net.Dialer{Timeout: config.HandshakeTimeout}).DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			l.setState(peerlink.StateTLSHandshaking)
			cfg := tlsConfig.Clone()
			if cfg == nil {
				cfg = &tls.Config{MinVersion: tls.VersionTLS12}
			}
			if cfg.ServerName == "" {
				cfg.ServerName = address.Host
			}
			conn := tls.Client(raw, cfg)
			if err := conn.HandshakeContext(ctx); err != nil {
				_ = raw.Close()
				return nil, err
			}
			l.setState(peerlink.StateWSHandshaking)
			return conn, nil
		},
	}

	ws, resp, err := dialer.DialContext(ctx, "wss://"+address.SessionsAddr()+"/", nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		l.setState(peerlink.StateClosed)
		return nil, fmt.Errorf("dial %s: %w", address.SessionsAddr(), err)
	}
	l.open(ws)
	return l, nil
}

// open starts the writer as soon as the socket is usable, so frames queued
// before Run are already flowing.
func (l *Link) open(ws *websocket.Conn) {
	l.ws = ws
	ws.SetReadLimit(l.config.MaxMessageSize)
	l.setState(peerlink.StateOpen)
	go func() {
		defer close(l.writerDone)
		l.writeLoop()
	}()
}

// State returns the current step of the state machine.
func (l *Link) State() peerlink.State {
	return peerlink.State(l.state.Load())
}

func (l *Link) setState(s peerlink.State) {
	l.state.Store(int32(s))
}

// RemoteAddr returns the address of the other end.
func (l *Link) RemoteAddr() net.Addr {
	return l.ws.RemoteAddr()
}

// Enqueue appends a frame to the outbound queue. It never blocks.
func (l *Link) Enqueue(frame []byte) error {
	select {
	case <-l.done:
		return ErrClosed
	default:
	}
	select {
	case l.queue <- frame:
		return nil
	case <-l.done:
		return ErrClosed
	default:
		return ErrQueueFull
	}
}

// Send queues a frame like Enqueue but waits for room instead of failing
// with ErrQueueFull.
func (l *Link) Send(ctx context.Context, frame []byte) error {
	select {
	case <-l.done:
		return ErrClosed
	default:
	}
	select {
	case l.queue <- frame:
		return nil
	case <-l.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run reads frames and passes each one to handle until the link fails or
// ctx ends. The link is closed, and its writer stopped, before Run returns.
func (l *Link) Run(ctx context.Context, handle func(frame []byte)) error {
	// Close first: the writer only notices a dead peer on its next write.
	defer func() {
		_ = l.Close()
		<-l.writerDone
	}()

	stop := context.AfterFunc(ctx, func() { _ = l.Close() })
	defer stop()

	// A peer that stops answering pings is dropped after two intervals.
	deadline := 2 * l.config.HeartbeatInterval
	_ = l.ws.SetReadDeadline(time.Now().Add(deadline))
	l.ws.SetPongHandler(func(string) error {
		return l.ws.SetReadDeadline(time.Now().Add(deadline))
	})

	for {
		messageType, frame, err := l.ws.ReadMessage()
		if err != nil {
			if l.State() != peerlink.StateOpen ||
				websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		_ = l.ws.SetReadDeadline(time.Now().Add(deadline))
		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}
		handle(frame)
	}
}

func (l *Link) writeLoop() {
	ticker := time.NewTicker(l.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case frame := <-l.queue:
			_ = l.ws.SetWriteDeadline(time.Now().Add(l.config.WriteTimeout))
			if err := l.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				l.logger.Debug("link.write_failed", "error", err)
				_ = l.Close()
				return
			}
		case <-ticker.C:
			if err := l.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(l.config.WriteTimeout)); err != nil {
				l.logger.Debug("link.ping_failed", "error", err)
				_ = l.Close()
				return
			}
		}
	}
}

// Close sends a close frame and tears the socket down. Only the first call
// has an effect.
func (l *Link) Close() error {
	var err error
	l.closeOnce.Do(func() {
		l.setState(peerlink.StateClosing)
		close(l.done)
		if l.ws != nil {
			_ = l.ws.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second),
			)
			err = l.ws.Close()
		}
		l.setState(peerlink.StateClosed)
	})
	return err
}

// Done is closed once the link starts shutting down.
func (l *Link) Done() <-chan struct{} {
	return l.done
}
