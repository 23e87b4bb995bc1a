package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/devtrack/eventpipeline/pkg/idgen"
	"github.com/devtrack/eventpipeline/pkg/metrics"
)

// defaultWriteTimeout bounds a single WebSocket write so a stalled client
// cannot block the broadcaster indefinitely (spec.md §4.H "bounded-time"
// delivery discipline).
const defaultWriteTimeout = 5 * time.Second

// Client is a single authenticated WebSocket connection and its
// subscription set. subscriptions is read/written only from the
// connection's own read-loop goroutine (and the manager's broadcast path
// under channelMu), matching the teacher's single-writer discipline for
// Connection.subscriptions.
type Client struct {
	ID            string
	conn          *websocket.Conn
	subscriptions map[string]bool
	isAlive       boolFlag
	sendMu        sync.Mutex
	ctx           context.Context
	cancel        context.CancelFunc
}

// boolFlag is a tiny CAS-free atomic bool good enough for a single-writer,
// single-reader keepalive flag guarded by its own mutex.
type boolFlag struct {
	mu sync.Mutex
	v  bool
}

func (b *boolFlag) set(v bool) {
	b.mu.Lock()
	b.v = v
	b.mu.Unlock()
}

func (b *boolFlag) get() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.v
}

// ConnectionManager tracks connected clients and their subscriptions, and
// performs the non-blocking filtered fanout spec.md §4.H requires. One
// instance per process; every WebSocket connection is registered here
// after a successful bearer-token upgrade.
type ConnectionManager struct {
	mu      sync.RWMutex
	clients map[string]*Client

	channelMu sync.RWMutex
	channels  map[string]map[string]bool // subscription key -> client ids

	pingInterval time.Duration
	pongTimeout  time.Duration
	writeTimeout time.Duration

	catchup CatchupQuerier // nil disables catch-up on subscribe

	// instanceID tags every outbound NOTIFY payload so this process's own
	// NotifyListener can discard its own broadcasts instead of delivering
	// them to local clients twice (once via the direct in-process call,
	// once via the Postgres round trip).
	instanceID string
}

// NewConnectionManager builds a ConnectionManager. catchup may be nil.
func NewConnectionManager(pingInterval, pongTimeout time.Duration, catchup CatchupQuerier) *ConnectionManager {
	return &ConnectionManager{
		clients:      make(map[string]*Client),
		instanceID:   idgen.New(),
		channels:     make(map[string]map[string]bool),
		pingInterval: pingInterval,
		pongTimeout:  pongTimeout,
		writeTimeout: defaultWriteTimeout,
		catchup:      catchup,
	}
}

// HandleConnection manages one client's lifecycle from just after a
// successful authenticated upgrade until the socket closes. Blocks until
// the connection ends.
func (m *ConnectionManager) HandleConnection(parentCtx context.Context, conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(parentCtx)
	c := &Client{
		ID:            idgen.New(),
		conn:          conn,
		subscriptions: make(map[string]bool),
		ctx:           ctx,
		cancel:        cancel,
	}
	c.isAlive.set(true)

	m.register(c)
	defer m.unregister(c)

	stopKeepalive := make(chan struct{})
	go m.keepalive(c, stopKeepalive)
	defer close(stopKeepalive)

	m.send(c, ServerMessage{Type: "connected", ClientID: c.ID})

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		c.isAlive.set(true)

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			m.send(c, ServerMessage{Type: "error", Message: "invalid message"})
			continue
		}
		m.handleClientMessage(ctx, c, msg)
	}
}

func (m *ConnectionManager) handleClientMessage(ctx context.Context, c *Client, msg ClientMessage) {
	switch msg.Action {
	case ActionSubscribe:
		key, ok := subscriptionKey(msg)
		if !ok {
			m.send(c, ServerMessage{Type: "error", Message: "subscribe requires scope, workspace_id, or session_id"})
			return
		}
		m.subscribe(c, key)
		m.send(c, ServerMessage{Type: "subscribed", Scope: msg.Scope, WorkspaceID: msg.WorkspaceID, SessionID: msg.SessionID})
		if m.catchup != nil {
			m.handleCatchup(ctx, c, msg)
		}
	case ActionUnsubscribe:
		key, ok := subscriptionKey(msg)
		if !ok {
			m.send(c, ServerMessage{Type: "error", Message: "unsubscribe requires scope, workspace_id, or session_id"})
			return
		}
		m.unsubscribe(c, key)
		m.send(c, ServerMessage{Type: "unsubscribed", Scope: msg.Scope, WorkspaceID: msg.WorkspaceID, SessionID: msg.SessionID})
	case ActionPong:
		// isAlive was already refreshed above on any inbound message.
	default:
		m.send(c, ServerMessage{Type: "error", Message: "unknown action"})
	}
}

// keepalive sends a ping every pingInterval; if the client has not
// produced any message (tracked via isAlive) since the previous tick, the
// connection is terminated (spec.md §4.G).
func (m *ConnectionManager) keepalive(c *Client, stop <-chan struct{}) {
	ticker := time.NewTicker(m.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !c.isAlive.get() {
				slog.Info("ws: client missed keepalive, closing", "client_id", c.ID)
				c.cancel()
				return
			}
			c.isAlive.set(false)
			m.send(c, ServerMessage{Type: "ping"})
		}
	}
}

func (m *ConnectionManager) subscribe(c *Client, key string) {
	m.channelMu.Lock()
	if m.channels[key] == nil {
		m.channels[key] = make(map[string]bool)
	}
	m.channels[key][c.ID] = true
	m.channelMu.Unlock()
	c.subscriptions[key] = true
}

func (m *ConnectionManager) unsubscribe(c *Client, key string) {
	m.channelMu.Lock()
	if subs, ok := m.channels[key]; ok {
		delete(subs, c.ID)
		if len(subs) == 0 {
			delete(m.channels, key)
		}
	}
	m.channelMu.Unlock()
	delete(c.subscriptions, key)
}

func (m *ConnectionManager) register(c *Client) {
	m.mu.Lock()
	m.clients[c.ID] = c
	m.mu.Unlock()
	metrics.ActiveWebSocketConnections.Set(float64(m.ActiveConnections()))
}

func (m *ConnectionManager) unregister(c *Client) {
	for key := range c.subscriptions {
		m.unsubscribe(c, key)
	}
	m.mu.Lock()
	delete(m.clients, c.ID)
	m.mu.Unlock()
	c.cancel()
	_ = c.conn.Close(websocket.StatusNormalClosure, "")
	metrics.ActiveWebSocketConnections.Set(float64(m.ActiveConnections()))
}

// CloseAll closes every registered client with a normal closure, for use
// during graceful process shutdown (spec.md §5 requires WebSocket clients
// closed with normal closure before DB/log/object-store clients close).
// Each closed connection unblocks its HandleConnection read loop, which
// unregisters itself via its own deferred cleanup.
func (m *ConnectionManager) CloseAll() {
	m.mu.RLock()
	clients := make([]*Client, 0, len(m.clients))
	for _, c := range m.clients {
		clients = append(clients, c)
	}
	m.mu.RUnlock()

	for _, c := range clients {
		_ = c.conn.Close(websocket.StatusNormalClosure, "server shutting down")
		c.cancel()
	}
}

// InstanceID identifies this process's ConnectionManager for NOTIFY
// loop-back suppression.
func (m *ConnectionManager) InstanceID() string {
	return m.instanceID
}

// ActiveConnections reports the number of connected clients.
func (m *ConnectionManager) ActiveConnections() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

// broadcastMatching delivers msg to every client matching the "all",
// workspace, or session subscription keys (spec.md §4.H match rule).
// Delivery is non-blocking per client: a failed send removes that client
// from the registry without affecting delivery to any other client or
// returning an error to the caller.
func (m *ConnectionManager) broadcastMatching(workspaceKeyStr, sessionKeyStr string, msg ServerMessage) {
	keys := []string{scopeAll}
	if workspaceKeyStr != "" {
		keys = append(keys, workspaceKeyStr)
	}
	if sessionKeyStr != "" {
		keys = append(keys, sessionKeyStr)
	}

	seen := make(map[string]bool)
	var targets []*Client
	m.channelMu.RLock()
	for _, key := range keys {
		for id := range m.channels[key] {
			seen[id] = true
		}
	}
	m.channelMu.RUnlock()

	m.mu.RLock()
	for id := range seen {
		if c, ok := m.clients[id]; ok {
			targets = append(targets, c)
		}
	}
	m.mu.RUnlock()

	for _, c := range targets {
		if err := m.send(c, msg); err != nil {
			slog.Warn("ws: send failed, removing client", "client_id", c.ID, "error", err)
			m.unregister(c)
			continue
		}
		metrics.BroadcastsSentTotal.WithLabelValues(msg.Type).Inc()
	}
}

func (m *ConnectionManager) send(c *Client, msg ServerMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return m.sendRaw(c, data)
}

func (m *ConnectionManager) sendRaw(c *Client, data []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	writeCtx, cancel := context.WithTimeout(c.ctx, m.writeTimeout)
	defer cancel()
	return c.conn.Write(writeCtx, websocket.MessageText, data)
}
