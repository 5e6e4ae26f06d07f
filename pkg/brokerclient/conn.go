package brokerclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"pkt.systems/pslog"

	"github.com/rmacdonaldsmith/meshbroker-go/pkg/envelope"
)

var (
	// ErrNotConnected is returned by requests on a closed connection.
	ErrNotConnected = errors.New("brokerclient: not connected")

	// ErrTimeout is returned when no acknowledgment arrives in time.
	ErrTimeout = errors.New("brokerclient: request timed out")

	// ErrNoWelcome is returned by Dial when the first frame is not a welcome.
	ErrNoWelcome = errors.New("brokerclient: node did not send a welcome")
)

// ReplyError is returned when the node answers a request with a failed
// acknowledgment.
type ReplyError struct {
	Reply envelope.Reply
}

func (e *ReplyError) Error() string {
	if len(e.Reply.Data) == 0 {
		return fmt.Sprintf("brokerclient: %s", e.Reply.Message)
	}
	keys := make([]string, 0, len(e.Reply.Data))
	for key := range e.Reply.Data {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	details := make([]string, 0, len(keys))
	for _, key := range keys {
		details = append(details, fmt.Sprintf("%s: %v", key, e.Reply.Data[key]))
	}
	return fmt.Sprintf("brokerclient: %s (%s)", e.Reply.Message, strings.Join(details, ", "))
}

// Conn is a client connection to a node.
type Conn struct {
	ws       *websocket.Conn
	config   Config
	logger   pslog.Logger
	clientID string

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan envelope.Reply
	err     error

	messages  chan envelope.Push
	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to a node clients listener and waits for the welcome frame.
func Dial(ctx context.Context, config Config) (*Conn, error) {
	config.SetDefaults()
	if config.Address == "" {
		return nil, fmt.Errorf("Address is required")
	}
	host, _, err := net.SplitHostPort(config.Address)
	if err != nil {
		return nil, fmt.Errorf("invalid Address: %w", err)
	}

	tlsConfig := config.TLSConfig
	if tlsConfig == nil {
		tlsConfig = defaultTLS()
	}
	tlsConfig = tlsConfig.Clone()
	if tlsConfig.ServerName == "" {
		tlsConfig.ServerName = host
	}

	dialer := websocket.Dialer{
		TLSClientConfig:  tlsConfig,
		HandshakeTimeout: config.HandshakeTimeout,
	}
	target := url.URL{Scheme: "wss", Host: config.Address, Path: "/"}
	ws, _, err := dialer.DialContext(ctx, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", config.Address, err)
	}

	clientID, err := readWelcome(ws, config.Timeout)
	if err != nil {
		_ = ws.Close()
		return nil, err
	}

	c := &Conn{
		ws:       ws,
		config:   config,
		logger:   config.Logger.With("sys", "brokerclient", "client_id", clientID),
		clientID: clientID,
		pending:  make(map[string]chan envelope.Reply),
		messages: make(chan envelope.Push, config.MessageBuffer),
		done:     make(chan struct{}),
	}
	go c.readLoop()
	c.logger.Debug("conn.open", "address", config.Address)
	return c, nil
}

func readWelcome(ws *websocket.Conn, timeout time.Duration) (string, error) {
	_ = ws.SetReadDeadline(time.Now().Add(timeout))
	defer func() { _ = ws.SetReadDeadline(time.Time{}) }()

	_, frame, err := ws.ReadMessage()
	if err != nil {
		return "", fmt.Errorf("read welcome: %w", err)
	}
	var welcome envelope.Reply
	if err := json.Unmarshal(frame, &welcome); err != nil {
		return "", fmt.Errorf("decode welcome: %w", err)
	}
	if welcome.Action != envelope.ActionWelcome {
		return "", ErrNoWelcome
	}
	clientID, _ := welcome.Data["client_id"].(string)
	if clientID == "" {
		return "", ErrNoWelcome
	}
	return clientID, nil
}

// ClientID returns the id the node assigned to this connection.
func (c *Conn) ClientID() string {
	return c.clientID
}

// Messages returns the channel of pushed deliveries. It is closed when the
// connection ends.
func (c *Conn) Messages() <-chan envelope.Push {
	return c.messages
}

// Done is closed once the connection has ended.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Err returns the error that ended the connection, if any.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close sends a close frame and tears the connection down. Safe to call
// more than once.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	return err
}

// Request sends an envelope and waits for its acknowledgment. A failed
// acknowledgment is returned together with a *ReplyError.
func (c *Conn) Request(ctx context.Context, action string, params map[string]any) (envelope.Reply, error) {
	req := envelope.NewRequest(action, params)
	frame, err := envelope.Encode(req)
	if err != nil {
		return envelope.Reply{}, fmt.Errorf("encode %s: %w", action, err)
	}

	ch := make(chan envelope.Reply, 1)
	c.mu.Lock()
	if c.err != nil || c.isDone() {
		c.mu.Unlock()
		return envelope.Reply{}, ErrNotConnected
	}
	c.pending[req.TransactionID] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, req.TransactionID)
		c.mu.Unlock()
	}()

	if err := c.write(frame); err != nil {
		return envelope.Reply{}, err
	}

	timer := time.NewTimer(c.config.Timeout)
	defer timer.Stop()

	select {
	case reply := <-ch:
		if reply.Failed() {
			return reply, &ReplyError{Reply: reply}
		}
		return reply, nil
	case <-ctx.Done():
		return envelope.Reply{}, ctx.Err()
	case <-c.done:
		return envelope.Reply{}, ErrNotConnected
	case <-timer.C:
		return envelope.Reply{}, ErrTimeout
	}
}

// Ping checks the round trip to the node.
func (c *Conn) Ping(ctx context.Context) error {
	_, err := c.Request(ctx, envelope.ActionPing, nil)
	return err
}

// Subscribe subscribes this client to channel. It reports false when the
// subscription already existed.
func (c *Conn) Subscribe(ctx context.Context, channel string) (bool, error) {
	reply, err := c.Request(ctx, envelope.ActionSubscribe, map[string]any{"channel": channel})
	return reply.Message == envelope.MessageOK, err
}

// Unsubscribe removes this client from channel. It reports false when
// there was nothing to remove.
func (c *Conn) Unsubscribe(ctx context.Context, channel string) (bool, error) {
	reply, err := c.Request(ctx, envelope.ActionUnsubscribe, map[string]any{"channel": channel})
	return reply.Message == envelope.MessageOK, err
}

// IsSubscribed asks the node whether this client is subscribed to channel.
func (c *Conn) IsSubscribed(ctx context.Context, channel string) (bool, error) {
	reply, err := c.Request(ctx, envelope.ActionIsSubscribed, map[string]any{"channel": channel})
	return reply.Message == envelope.MessageOK, err
}

// Publish delivers payload to every subscriber of channel in the mesh. It
// returns the number of subscribers reached on the local node.
func (c *Conn) Publish(ctx context.Context, channel string, payload map[string]any) (int, error) {
	reply, err := c.Request(ctx, envelope.ActionPublish, map[string]any{
		"channel": channel,
		"payload": payload,
	})
	return count(reply), err
}

// Broadcast delivers payload to every other client in the mesh. It returns
// the number of clients reached on the local node.
func (c *Conn) Broadcast(ctx context.Context, payload map[string]any) (int, error) {
	reply, err := c.Request(ctx, envelope.ActionBroadcast, map[string]any{"payload": payload})
	return count(reply), err
}

// Send delivers payload to a single client anywhere in the mesh. It reports
// whether the message was delivered or forwarded.
func (c *Conn) Send(ctx context.Context, toClientID string, payload map[string]any) (bool, error) {
	reply, err := c.Request(ctx, envelope.ActionSend, map[string]any{
		"to_client_id": toClientID,
		"payload":      payload,
	})
	return reply.Message == envelope.MessageOK, err
}

func count(reply envelope.Reply) int {
	n, _ := reply.Data["count"].(float64)
	return int(n)
}

func (c *Conn) write(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.config.Timeout))
	if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}
	return nil
}

func (c *Conn) isDone() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// frameKind carries the fields that tell a reply from a push.
type frameKind struct {
	Action string `json:"action"`
	Status string `json:"status"`
}

func (c *Conn) readLoop() {
	defer close(c.messages)
	defer close(c.done)

	for {
		_, frame, err := c.ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.mu.Lock()
				c.err = err
				c.mu.Unlock()
			}
			c.logger.Debug("conn.closed", "error", err)
			_ = c.ws.Close()
			return
		}

		var kind frameKind
		if err := json.Unmarshal(frame, &kind); err != nil {
			c.logger.Warn("conn.frame_invalid", "error", err)
			continue
		}
		if kind.Status != "" {
			c.handleReply(frame)
			continue
		}
		c.handlePush(frame)
	}
}

func (c *Conn) handleReply(frame []byte) {
	var reply envelope.Reply
	if err := json.Unmarshal(frame, &reply); err != nil {
		c.logger.Warn("conn.reply_invalid", "error", err)
		return
	}
	c.mu.Lock()
	ch, ok := c.pending[reply.ID()]
	c.mu.Unlock()
	if !ok {
		c.logger.Debug("conn.reply_unmatched", "transaction_id", reply.ID(), "message", reply.Message)
		return
	}
	select {
	case ch <- reply:
	default:
	}
}

func (c *Conn) handlePush(frame []byte) {
	var push envelope.Push
	if err := json.Unmarshal(frame, &push); err != nil {
		c.logger.Warn("conn.push_invalid", "error", err)
		return
	}
	select {
	case c.messages <- push:
	default:
		c.logger.Warn("conn.push_dropped", "action", push.Action, "transaction_id", push.TransactionID)
	}
}
