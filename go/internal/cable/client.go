package cable

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Handlers are the lifecycle callbacks for one subscription. All callbacks
// are invoked from the client's read loop; they must not block.
type Handlers struct {
	Connected    func()
	Disconnected func()
	Received     func(message json.RawMessage)
}

// Config holds tunables for the cable connection.
type Config struct {
	WriteTimeout      time.Duration
	HandshakeTimeout  time.Duration
	MaxReconnects     int
	ReconnectBaseWait time.Duration
}

func DefaultConfig() Config {
	return Config{
		WriteTimeout:      10 * time.Second,
		HandshakeTimeout:  10 * time.Second,
		MaxReconnects:     5,
		ReconnectBaseWait: time.Second,
	}
}

type subscription struct {
	key        string
	identifier string
	handlers   Handlers
	confirmed  bool
}

// Client manages one logical cable connection and any number of named
// subscriptions over it. Inbound message frames are routed to the subscriber
// whose identifier they carry. On a dropped connection the client redials a
// bounded number of times and replays live subscriptions; subscribers observe
// the gap through their Disconnected/Connected callbacks.
type Client struct {
	url    string
	config Config
	clock  clockwork.Clock

	mu      sync.Mutex
	conn    *websocket.Conn
	connID  string
	subs    map[string]*subscription
	byIdent map[string]*subscription
	closed  bool

	writeMu sync.Mutex
}

func NewClient(url string, clock clockwork.Clock) *Client {
	return &Client{
		url:     url,
		config:  DefaultConfig(),
		clock:   clock,
		subs:    make(map[string]*subscription),
		byIdent: make(map[string]*subscription),
	}
}

// Connect opens the cable connection. Idempotent: an already-open connection
// is reused.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return nil
	}
	if c.closed {
		return fmt.Errorf("cable client is closed")
	}

	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	c.conn = conn
	c.connID = uuid.New().String()

	go c.readLoop(conn)

	log.Info().
		Str("connection_id", c.connID).
		Str("url", c.url).
		Msg("cable connection established")
	return nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: c.config.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial cable %s: %w", c.url, err)
	}
	return conn, nil
}

// SubscriptionKey computes the stable key for a channel + parameter set. Keys
// are canonical: parameter order never changes the key.
func SubscriptionKey(channelName string, params map[string]any) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	sorted := make(map[string]any, len(params))
	for _, k := range keys {
		sorted[k] = params[k]
	}
	encoded, _ := json.Marshal(sorted)
	return channelName + "_" + string(encoded)
}

// Subscribe opens a remote subscription to channelName with params. If a
// subscription with the same key is already live it is torn down first, so at
// most one subscription exists per key. Returns the key.
func (c *Client) Subscribe(channelName string, params map[string]any, handlers Handlers) (string, error) {
	key := SubscriptionKey(channelName, params)

	identParams := make(map[string]any, len(params)+1)
	for k, v := range params {
		identParams[k] = v
	}
	identParams["channel"] = channelName
	identifier, err := json.Marshal(identParams)
	if err != nil {
		return "", fmt.Errorf("encode subscription identifier: %w", err)
	}

	c.mu.Lock()
	if c.conn == nil {
		c.mu.Unlock()
		return "", fmt.Errorf("cable client is not connected")
	}
	if _, exists := c.subs[key]; exists {
		c.removeSubscriptionLocked(key)
	}
	sub := &subscription{
		key:        key,
		identifier: string(identifier),
		handlers:   handlers,
	}
	c.subs[key] = sub
	c.byIdent[sub.identifier] = sub
	c.mu.Unlock()

	if err := c.sendCommand("subscribe", sub.identifier); err != nil {
		c.mu.Lock()
		c.removeSubscriptionLocked(key)
		c.mu.Unlock()
		return "", err
	}

	log.Debug().
		Str("channel", channelName).
		Str("key", key).
		Msg("cable subscription requested")
	return key, nil
}

// Unsubscribe closes the remote subscription for key. Unknown keys are a
// no-op.
func (c *Client) Unsubscribe(key string) {
	c.mu.Lock()
	sub, exists := c.subs[key]
	if exists {
		c.removeSubscriptionLocked(key)
	}
	c.mu.Unlock()

	if exists {
		if err := c.sendCommand("unsubscribe", sub.identifier); err != nil {
			log.Debug().Err(err).Str("key", key).Msg("failed to send unsubscribe")
		}
	}
}

// UnsubscribeAll tears down every subscription, used at shutdown.
func (c *Client) UnsubscribeAll() {
	c.mu.Lock()
	subs := make([]*subscription, 0, len(c.subs))
	for key, sub := range c.subs {
		subs = append(subs, sub)
		delete(c.subs, key)
		delete(c.byIdent, sub.identifier)
	}
	c.mu.Unlock()

	for _, sub := range subs {
		if err := c.sendCommand("unsubscribe", sub.identifier); err != nil {
			log.Debug().Err(err).Str("key", sub.key).Msg("failed to send unsubscribe")
		}
	}
}

// Disconnect tears down all subscriptions and closes the connection. The
// client cannot be reused afterwards.
func (c *Client) Disconnect() {
	c.UnsubscribeAll()

	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
		log.Info().Str("connection_id", c.connID).Msg("cable connection closed")
	}
}

func (c *Client) removeSubscriptionLocked(key string) {
	if sub, exists := c.subs[key]; exists {
		delete(c.subs, key)
		delete(c.byIdent, sub.identifier)
	}
}

func (c *Client) sendCommand(command, identifier string) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("cable client is not connected")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	if err := conn.WriteJSON(map[string]string{
		"command":    command,
		"identifier": identifier,
	}); err != nil {
		return fmt.Errorf("send %s command: %w", command, err)
	}
	return nil
}

// readLoop routes inbound frames until the connection drops, then hands off
// to the reconnect path.
func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleDrop(conn, err)
			return
		}
		c.routeFrame(data)
	}
}

type inboundFrame struct {
	Type       string          `json:"type"`
	Identifier string          `json:"identifier"`
	Message    json.RawMessage `json:"message"`
	Reason     string          `json:"reason"`
}

func (c *Client) routeFrame(data []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		log.Warn().Err(err).Msg("dropping malformed cable frame")
		return
	}

	switch frame.Type {
	case "welcome":
		log.Debug().Str("connection_id", c.connID).Msg("cable welcome received")
	case "ping":
		// Server heartbeat, nothing to do.
	case "confirm_subscription":
		c.mu.Lock()
		sub := c.byIdent[frame.Identifier]
		if sub != nil {
			sub.confirmed = true
		}
		c.mu.Unlock()
		if sub != nil && sub.handlers.Connected != nil {
			sub.handlers.Connected()
		}
	case "reject_subscription":
		log.Warn().Str("identifier", frame.Identifier).Msg("cable subscription rejected")
		c.mu.Lock()
		if sub := c.byIdent[frame.Identifier]; sub != nil {
			c.removeSubscriptionLocked(sub.key)
		}
		c.mu.Unlock()
	case "disconnect":
		log.Warn().Str("reason", frame.Reason).Msg("cable server requested disconnect")
	default:
		c.mu.Lock()
		sub := c.byIdent[frame.Identifier]
		c.mu.Unlock()
		if sub != nil && sub.handlers.Received != nil {
			sub.handlers.Received(frame.Message)
		}
	}
}

// handleDrop notifies subscribers and attempts a bounded redial with
// subscription replay. If every attempt fails the client stays down; callers
// learn about it through the Disconnected callbacks that already fired.
func (c *Client) handleDrop(conn *websocket.Conn, cause error) {
	conn.Close()

	c.mu.Lock()
	if c.closed || c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	subs := make([]*subscription, 0, len(c.subs))
	for _, sub := range c.subs {
		sub.confirmed = false
		subs = append(subs, sub)
	}
	c.mu.Unlock()

	log.Warn().Err(cause).Str("connection_id", c.connID).Msg("cable connection dropped")
	for _, sub := range subs {
		if sub.handlers.Disconnected != nil {
			sub.handlers.Disconnected()
		}
	}

	for attempt := 1; attempt <= c.config.MaxReconnects; attempt++ {
		c.clock.Sleep(c.config.ReconnectBaseWait * time.Duration(attempt))

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		newConn, err := c.dial(context.Background())
		if err != nil {
			log.Warn().Err(err).Int("attempt", attempt).Msg("cable reconnect failed")
			continue
		}

		// Replay whatever is subscribed now, not the drop-time snapshot:
		// anything unsubscribed during the backoff window must stay closed
		// server-side.
		c.mu.Lock()
		c.conn = newConn
		c.connID = uuid.New().String()
		replay := make([]*subscription, 0, len(c.subs))
		for _, sub := range c.subs {
			replay = append(replay, sub)
		}
		c.mu.Unlock()

		go c.readLoop(newConn)

		for _, sub := range replay {
			if err := c.sendCommand("subscribe", sub.identifier); err != nil {
				log.Error().Err(err).Str("key", sub.key).Msg("failed to replay subscription")
			}
		}

		log.Info().
			Str("connection_id", c.connID).
			Int("attempt", attempt).
			Msg("cable reconnected")
		return
	}

	log.Error().
		Int("attempts", c.config.MaxReconnects).
		Msg("cable reconnect attempts exhausted, staying offline")
}
