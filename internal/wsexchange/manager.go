// Package wsexchange is the WebSocket Manager of spec §4.1: one long-lived
// connection multiplexing every subscription, dispatching frames to
// per-channel handlers, reconnecting with backoff. Grounded on the
// teacher's websocket.ConnectionManager/Client pair (websocket/manager.go,
// websocket/client.go), generalized from Stockbit's protobuf+bearer-token
// handshake to Hyperliquid's JSON subscribe/unsubscribe frames.
package wsexchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nofendian17/hl-whale-signal/internal/retry"
)

// State is the connection state machine (spec §4.1).
type State string

const (
	StateInit         State = "INIT"
	StateConnecting   State = "CONNECTING"
	StateConnected    State = "CONNECTED"
	StateReconnecting State = "RECONNECTING"
	StateFailed       State = "FAILED"
)

// ChannelSpec identifies one subscription (candles for a symbol, orderbook
// for a symbol, a trader's user channel, ...).
type ChannelSpec struct {
	Type     string `json:"type"`
	Coin     string `json:"coin,omitempty"`
	Interval string `json:"interval,omitempty"`
	User     string `json:"user,omitempty"`
}

// Key is a stable identity for a ChannelSpec, used to key the handler map.
func (c ChannelSpec) Key() string {
	return fmt.Sprintf("%s|%s|%s|%s", c.Type, c.Coin, c.Interval, c.User)
}

// FrameHandler processes one decoded inbound frame for a channel.
type FrameHandler func(raw []byte)

// handlerEntry pairs a registered handler with the spec it was registered
// for, so readLoop can pick the right one out of several handlers sharing
// the same bare channel type (e.g. multiple "candle" subscriptions, one
// per symbol/interval pair).
type handlerEntry struct {
	spec    ChannelSpec
	handler FrameHandler
}

// discriminator is the subset of an inbound data payload's fields that
// distinguish which subscription a frame belongs to. Hyperliquid's server
// echoes only the bare subscription type in "channel" (spec §4.1); the
// coin/interval/user discriminators live inside "data" itself, so every
// frame is peeked generically before dispatch.
type discriminator struct {
	Coin     string `json:"coin"`
	Symbol   string `json:"s"`
	Interval string `json:"i"`
	User     string `json:"user"`
}

// matches reports whether entry was registered for a frame carrying d,
// comparing only the fields entry's spec actually constrains. A spec field
// left empty at Subscribe time (e.g. allMids has no coin) matches anything.
func (d discriminator) matches(spec ChannelSpec) bool {
	if spec.Coin != "" {
		coin := d.Coin
		if coin == "" {
			coin = d.Symbol
		}
		if !strings.EqualFold(coin, spec.Coin) {
			return false
		}
	}
	if spec.Interval != "" && !strings.EqualFold(d.Interval, spec.Interval) {
		return false
	}
	if spec.User != "" && !strings.EqualFold(d.User, spec.User) {
		return false
	}
	return true
}

type subscribeFrame struct {
	Method       string      `json:"method"`
	Subscription ChannelSpec `json:"subscription"`
}

// Status reports the manager's externally-observable health.
type Status struct {
	State             State
	ReconnectAttempts int
	LastHeartbeat     time.Time
}

// Options configures a Manager.
type Options struct {
	URL                  string
	HeartbeatInterval    time.Duration
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	ReconnectMaxAttempts int
}

// Manager multiplexes one WebSocket connection across many subscriptions.
type Manager struct {
	opts Options

	mu       sync.Mutex
	conn     *websocket.Conn
	state    State
	attempts int
	lastMsg  time.Time

	subs map[string]ChannelSpec
	hand map[string][]handlerEntry

	writeMu sync.Mutex
	stopCh  chan struct{}
	stopped bool
}

// New creates a Manager in state INIT. Call Start to connect.
func New(opts Options) *Manager {
	return &Manager{
		opts:  opts,
		state: StateInit,
		subs:  make(map[string]ChannelSpec),
		hand:  make(map[string][]handlerEntry),
	}
}

// Start opens the connection and begins the read loop in the background.
// Non-blocking.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	m.stopCh = make(chan struct{})
	m.mu.Unlock()

	go m.run(ctx)
}

// Subscribe registers handler for spec. If currently connected, sends a
// subscribe frame immediately; otherwise it is sent on the next connect
// (and replayed on every reconnect, since collectors must be idempotent).
func (m *Manager) Subscribe(spec ChannelSpec, handler FrameHandler) {
	m.mu.Lock()
	m.subs[spec.Key()] = spec
	m.hand[spec.Type] = append(m.hand[spec.Type], handlerEntry{spec: spec, handler: handler})
	connected := m.state == StateConnected
	m.mu.Unlock()

	if connected {
		if err := m.sendSubscribe(spec); err != nil {
			log.Printf("⚠️  wsexchange: subscribe send failed for %s: %v", spec.Key(), err)
		}
	}
}

// Unsubscribe removes a handler and, if connected, sends an unsubscribe
// frame.
func (m *Manager) Unsubscribe(spec ChannelSpec) {
	m.mu.Lock()
	delete(m.subs, spec.Key())
	entries := m.hand[spec.Type]
	for i, e := range entries {
		if e.spec.Key() == spec.Key() {
			m.hand[spec.Type] = append(entries[:i], entries[i+1:]...)
			break
		}
	}
	connected := m.state == StateConnected
	m.mu.Unlock()

	if connected {
		if err := m.sendUnsubscribe(spec); err != nil {
			log.Printf("⚠️  wsexchange: unsubscribe send failed for %s: %v", spec.Key(), err)
		}
	}
}

// Stop closes the connection cleanly; collectors observe end-of-stream via
// their own context/handler contract.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	close(m.stopCh)
	conn := m.conn
	m.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
}

// Status reports connected/disconnected, reconnect attempts, last heartbeat.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{State: m.state, ReconnectAttempts: m.attempts, LastHeartbeat: m.lastMsg}
}

func (m *Manager) run(ctx context.Context) {
	for {
		select {
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		if err := m.connectAndRead(ctx); err != nil {
			log.Printf("⚠️  wsexchange: connection lost: %v", err)
		}

		m.mu.Lock()
		stopped := m.stopped
		m.mu.Unlock()
		if stopped {
			return
		}

		if !m.backoffAndReconnect(ctx) {
			return
		}
	}
}

func (m *Manager) connectAndRead(ctx context.Context) error {
	m.setState(StateConnecting)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, m.opts.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", m.opts.URL, err)
	}

	m.mu.Lock()
	m.conn = conn
	m.attempts = 0
	m.lastMsg = time.Now()
	m.mu.Unlock()
	m.setState(StateConnected)
	log.Printf("✅ wsexchange: connected to %s", m.opts.URL)

	if err := m.replaySubscriptions(); err != nil {
		log.Printf("⚠️  wsexchange: replay subscriptions failed: %v", err)
	}

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		m.readLoop(conn)
	}()

	heartbeatTimeout := 2 * m.opts.HeartbeatInterval
	ticker := time.NewTicker(m.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return nil
		case <-ctx.Done():
			return nil
		case <-readDone:
			return fmt.Errorf("read loop exited")
		case <-ticker.C:
			if err := m.ping(); err != nil {
				return fmt.Errorf("ping failed: %w", err)
			}
			if time.Since(m.lastHeartbeat()) > heartbeatTimeout {
				return fmt.Errorf("no frame received for %v", heartbeatTimeout)
			}
		}
	}
}

func (m *Manager) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		m.touchHeartbeat()

		var envelope struct {
			Channel string          `json:"channel"`
			Data    json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(data, &envelope); err != nil {
			log.Printf("⚠️  wsexchange: malformed frame dropped: %v", err)
			continue
		}

		var d discriminator
		_ = json.Unmarshal(envelope.Data, &d)

		m.mu.Lock()
		entries := m.hand[envelope.Channel]
		var matched []FrameHandler
		for _, e := range entries {
			if d.matches(e.spec) {
				matched = append(matched, e.handler)
			}
		}
		m.mu.Unlock()

		for _, h := range matched {
			h(envelope.Data)
		}
	}
}

func (m *Manager) backoffAndReconnect(ctx context.Context) bool {
	m.mu.Lock()
	m.attempts++
	attempts := m.attempts
	maxAttempts := m.opts.ReconnectMaxAttempts
	m.mu.Unlock()

	if maxAttempts > 0 && attempts > maxAttempts {
		m.setState(StateFailed)
		log.Printf("❌ wsexchange: giving up after %d attempts", attempts)
		return false
	}

	m.setState(StateReconnecting)
	delay := retry.Backoff(m.opts.ReconnectBaseDelay, m.opts.ReconnectMaxDelay, attempts-1, true)
	log.Printf("🔄 wsexchange: reconnecting in %v (attempt %d)", delay, attempts)

	select {
	case <-time.After(delay):
		return true
	case <-ctx.Done():
		return false
	case <-m.stopCh:
		return false
	}
}

func (m *Manager) replaySubscriptions() error {
	m.mu.Lock()
	specs := make([]ChannelSpec, 0, len(m.subs))
	for _, s := range m.subs {
		specs = append(specs, s)
	}
	m.mu.Unlock()

	for _, spec := range specs {
		if err := m.sendSubscribe(spec); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) sendSubscribe(spec ChannelSpec) error {
	return m.writeJSON(subscribeFrame{Method: "subscribe", Subscription: spec})
}

func (m *Manager) sendUnsubscribe(spec ChannelSpec) error {
	return m.writeJSON(subscribeFrame{Method: "unsubscribe", Subscription: spec})
}

func (m *Manager) ping() error {
	return m.writeJSON(map[string]string{"method": "ping"})
}

func (m *Manager) writeJSON(v interface{}) error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("not connected")
	}

	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func (m *Manager) touchHeartbeat() {
	m.mu.Lock()
	m.lastMsg = time.Now()
	m.mu.Unlock()
}

func (m *Manager) lastHeartbeat() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastMsg
}
