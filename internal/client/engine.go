// Package client is the Go counterpart of the forum's web client socket
// layer: a reconnecting WebSocket engine with exponential backoff, a
// bounded offline send queue, and automatic resubscription of chat and
// group memberships after reconnect.
package client

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/threadhub/realtime/internal/api/ws"
	"github.com/threadhub/realtime/internal/domain/presence"
	"github.com/threadhub/realtime/internal/infrastructure/logging"
	"github.com/threadhub/realtime/internal/infrastructure/resilience"
)

// Dialer establishes WebSocket connections. Satisfied by
// websocket.DefaultDialer; tests substitute failing implementations.
type Dialer interface {
	Dial(urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

// Config tunes the engine. Zero values fall back to the production
// policy: 20 reconnection attempts backing off from 1s to 30s, a queue of
// 100 messages, staleness checks every 30s declaring death after 60s.
type Config struct {
	URL               string
	Backoff           resilience.Backoff
	QueueCap          int
	HeartbeatInterval time.Duration
	StaleAfter        time.Duration
}

func (c Config) withDefaults() Config {
	if c.Backoff == (resilience.Backoff{}) {
		c.Backoff = resilience.DefaultBackoff()
	}
	if c.QueueCap <= 0 {
		c.QueueCap = 100
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 60 * time.Second
	}
	return c
}

// Stats is a point-in-time snapshot of the engine.
type Stats struct {
	Status         Status
	Attempts       int
	MaxAttempts    int
	Connected      bool
	Manual         bool
	QueuedMessages int
	LastInbound    time.Time
	UserID         string
	Groups         int
}

// Engine maintains one logical connection to the realtime layer across
// transport failures.
type Engine struct {
	cfg    Config
	dialer Dialer
	logger *logging.Logger
	queue  *sendQueue

	mu          sync.Mutex
	conn        *websocket.Conn
	writeMu     sync.Mutex
	generation  uint64
	status      Status
	attempts    int
	connecting  bool
	manual      bool
	userID      string
	groups      []string
	lastInbound time.Time
	retryTimer  *time.Timer
	hbStop      chan struct{}

	handlerMu      sync.Mutex
	nextHandlerID  int
	msgHandlers    map[string]map[int]MessageHandler
	statusHandlers map[int]StatusHandler
}

// New creates an engine. It stays idle until Connect.
func New(cfg Config, logger *logging.Logger) *Engine {
	cfg = cfg.withDefaults()
	return &Engine{
		cfg:            cfg,
		dialer:         websocket.DefaultDialer,
		logger:         logger.Component("ws-client"),
		queue:          newSendQueue(cfg.QueueCap),
		status:         StatusDisconnected,
		msgHandlers:    make(map[string]map[int]MessageHandler),
		statusHandlers: make(map[int]StatusHandler),
	}
}

// WithDialer substitutes the transport dialer. For tests.
func (e *Engine) WithDialer(d Dialer) *Engine {
	e.dialer = d
	return e
}

// On subscribes a handler to an inbound message type and returns a
// function that removes the subscription.
func (e *Engine) On(msgType string, handler MessageHandler) (cancel func()) {
	e.handlerMu.Lock()
	defer e.handlerMu.Unlock()

	e.nextHandlerID++
	hid := e.nextHandlerID
	if e.msgHandlers[msgType] == nil {
		e.msgHandlers[msgType] = make(map[int]MessageHandler)
	}
	e.msgHandlers[msgType][hid] = handler

	return func() {
		e.handlerMu.Lock()
		defer e.handlerMu.Unlock()
		delete(e.msgHandlers[msgType], hid)
	}
}

// OnStatus subscribes a handler to connection state transitions and
// returns a function that removes the subscription.
func (e *Engine) OnStatus(handler StatusHandler) (cancel func()) {
	e.handlerMu.Lock()
	defer e.handlerMu.Unlock()

	e.nextHandlerID++
	hid := e.nextHandlerID
	e.statusHandlers[hid] = handler

	return func() {
		e.handlerMu.Lock()
		defer e.handlerMu.Unlock()
		delete(e.statusHandlers, hid)
	}
}

// Connect dials the realtime layer. Returns nil immediately when already
// connected or a dial is in flight. A failed dial schedules automatic
// reconnection before returning the error.
func (e *Engine) Connect() error {
	e.mu.Lock()
	if e.connecting || e.conn != nil {
		e.mu.Unlock()
		return nil
	}
	e.manual = false
	e.connecting = true
	e.mu.Unlock()

	e.setStatus(StatusConnecting, StatusDetail{})
	return e.dial()
}

// dial performs one connection attempt and installs the connection on
// success.
func (e *Engine) dial() error {
	conn, resp, err := e.dialer.Dial(e.cfg.URL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		e.mu.Lock()
		e.connecting = false
		e.mu.Unlock()

		e.logger.Warn("dial failed", zap.String("url", e.cfg.URL), zap.Error(err))
		e.setStatus(StatusError, StatusDetail{})
		e.scheduleReconnect()
		return err
	}

	e.mu.Lock()
	e.conn = conn
	e.connecting = false
	e.attempts = 0
	e.generation++
	gen := e.generation
	e.lastInbound = time.Now()
	e.hbStop = make(chan struct{})
	hbStop := e.hbStop
	userID := e.userID
	groups := append([]string(nil), e.groups...)
	e.mu.Unlock()

	e.logger.Info("connected", zap.String("url", e.cfg.URL))
	e.setStatus(StatusConnected, StatusDetail{})

	e.flushQueue()
	e.resubscribe(userID, groups)

	go e.readLoop(conn, gen)
	go e.heartbeat(conn, gen, hbStop)
	return nil
}

// resubscribe replays chat registration and group memberships so a
// reconnect is invisible to the server-side registries.
func (e *Engine) resubscribe(userID string, groups []string) {
	if userID == "" {
		return
	}

	e.Send(ws.TypeJoinChat, ws.ChatUserPayload{UserID: userID})
	for _, groupID := range groups {
		e.Send(ws.TypeNewUser, ws.PresencePayload{GroupID: groupID, UserID: userID})
	}
}

func (e *Engine) flushQueue() {
	queued := e.queue.drain()
	if len(queued) == 0 {
		return
	}

	e.logger.Info("flushing queued messages", zap.Int("count", len(queued)))
	for _, p := range queued {
		e.Send(p.Type, p.Payload)
	}
}

// readLoop consumes frames until the connection dies, then hands off to
// the reconnection path. The generation guard makes a stale loop from a
// replaced connection exit without side effects.
func (e *Engine) readLoop(conn *websocket.Conn, gen uint64) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			e.connLost(conn, gen, err)
			return
		}

		e.mu.Lock()
		if e.generation == gen {
			e.lastInbound = time.Now()
		}
		e.mu.Unlock()

		var env ws.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			e.logger.Warn("malformed inbound frame", zap.Error(err))
			continue
		}
		e.dispatch(env)
	}
}

func (e *Engine) dispatch(env ws.Envelope) {
	e.handlerMu.Lock()
	handlers := make([]MessageHandler, 0, len(e.msgHandlers[env.Type]))
	for _, h := range e.msgHandlers[env.Type] {
		handlers = append(handlers, h)
	}
	e.handlerMu.Unlock()

	for _, h := range handlers {
		h(env.Payload)
	}
}

// connLost tears down after a read failure and schedules reconnection
// unless the disconnect was requested.
func (e *Engine) connLost(conn *websocket.Conn, gen uint64, err error) {
	e.mu.Lock()
	if e.generation != gen || e.conn != conn {
		e.mu.Unlock()
		return
	}
	e.conn = nil
	if e.hbStop != nil {
		close(e.hbStop)
		e.hbStop = nil
	}
	manual := e.manual
	e.mu.Unlock()

	conn.Close()
	e.logger.Info("connection lost", zap.Error(err))
	e.setStatus(StatusDisconnected, StatusDetail{})

	if !manual {
		e.scheduleReconnect()
	}
}

// scheduleReconnect books the next automatic attempt, or surfaces a
// terminal error once the budget is spent.
func (e *Engine) scheduleReconnect() {
	e.mu.Lock()
	if e.connecting || e.manual || e.conn != nil {
		e.mu.Unlock()
		return
	}

	if e.cfg.Backoff.Exhausted(e.attempts) {
		e.mu.Unlock()
		e.logger.Error("reconnection attempts exhausted",
			zap.Int("attempts", e.cfg.Backoff.MaxAttempts))
		e.setStatus(StatusError, StatusDetail{MaxAttemptsReached: true, CanRetry: true})
		return
	}

	e.attempts++
	attempt := e.attempts
	delay := e.cfg.Backoff.Delay(attempt)
	e.retryTimer = time.AfterFunc(delay, func() {
		e.mu.Lock()
		skip := e.manual || e.conn != nil || e.connecting
		if !skip {
			e.connecting = true
		}
		e.mu.Unlock()
		if skip {
			return
		}
		e.dial()
	})
	e.mu.Unlock()

	e.logger.Info("reconnecting",
		zap.Int("attempt", attempt),
		zap.Int("max_attempts", e.cfg.Backoff.MaxAttempts),
		zap.Duration("delay", delay),
	)
	e.setStatus(StatusConnecting, StatusDetail{})
}

// heartbeat watches for inbound silence and forces a close when the
// connection has gone stale, which routes recovery through the normal
// reconnection path.
func (e *Engine) heartbeat(conn *websocket.Conn, gen uint64, stop <-chan struct{}) {
	ticker := time.NewTicker(e.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			e.mu.Lock()
			stale := e.generation == gen && e.conn == conn &&
				time.Since(e.lastInbound) > e.cfg.StaleAfter
			e.mu.Unlock()

			if stale {
				e.logger.Warn("connection stale, forcing close",
					zap.Duration("silence", e.cfg.StaleAfter))
				conn.Close()
				return
			}
		}
	}
}

// Send writes an enveloped frame when connected. Returns false, dropping
// the message, otherwise.
func (e *Engine) Send(msgType string, payload interface{}) bool {
	e.mu.Lock()
	conn := e.conn
	e.mu.Unlock()

	if conn == nil {
		e.logger.Debug("not connected, message dropped", zap.String("type", msgType))
		return false
	}

	e.writeMu.Lock()
	err := conn.WriteJSON(ws.Event{Type: msgType, Payload: payload})
	e.writeMu.Unlock()

	if err != nil {
		e.logger.Warn("send failed", zap.String("type", msgType), zap.Error(err))
		return false
	}
	return true
}

// SendWithQueue sends when connected and queues for the next connection
// otherwise. Returns whether the message went out immediately.
func (e *Engine) SendWithQueue(msgType string, payload interface{}) bool {
	e.mu.Lock()
	connected := e.conn != nil
	e.mu.Unlock()

	if connected {
		return e.Send(msgType, payload)
	}
	e.queue.push(pending{Type: msgType, Payload: payload, QueuedAt: time.Now()})
	return false
}

// SetUser announces the local user. When connected, the chat registration
// goes out immediately; either way it is replayed on every reconnect.
func (e *Engine) SetUser(userID string) {
	e.mu.Lock()
	e.userID = userID
	connected := e.conn != nil
	e.mu.Unlock()

	if connected {
		e.Send(ws.TypeJoinChat, ws.ChatUserPayload{UserID: userID})
	}
}

// JoinGroup subscribes the user to a group feed. No-op without a user or
// when already joined.
func (e *Engine) JoinGroup(groupID string) {
	e.mu.Lock()
	if e.userID == "" {
		e.mu.Unlock()
		return
	}
	for _, g := range e.groups {
		if g == groupID {
			e.mu.Unlock()
			return
		}
	}
	e.groups = append(e.groups, groupID)
	userID := e.userID
	e.mu.Unlock()

	e.Send(ws.TypeNewUser, ws.PresencePayload{GroupID: groupID, UserID: userID})
}

// LeaveGroup unsubscribes the user from a group feed.
func (e *Engine) LeaveGroup(groupID string) {
	e.mu.Lock()
	if e.userID == "" {
		e.mu.Unlock()
		return
	}
	kept := e.groups[:0]
	found := false
	for _, g := range e.groups {
		if g == groupID {
			found = true
			continue
		}
		kept = append(kept, g)
	}
	e.groups = kept
	userID := e.userID
	e.mu.Unlock()

	if found {
		e.Send(ws.TypeRemoveUser, ws.PresencePayload{GroupID: groupID, UserID: userID})
	}
}

// JoinGeneralFeed subscribes the user to the all-users feed used for
// events that belong to no particular group.
func (e *Engine) JoinGeneralFeed() {
	e.mu.Lock()
	userID := e.userID
	e.mu.Unlock()

	if userID != "" {
		e.Send(ws.TypeNewUser, ws.PresencePayload{GroupID: presence.GroupAll, UserID: userID})
	}
}

// AskBot sends a message to the assistant. The reply arrives through the
// BOT_CHAT subscription.
func (e *Engine) AskBot(userID, message string) bool {
	return e.SendWithQueue(ws.TypeBotChat, ws.BotPayload{UserID: userID, Message: message})
}

// Disconnect closes the connection on purpose: memberships are withdrawn
// best-effort, automatic reconnection is suppressed, and all local state
// is cleared. Retry or a fresh Connect re-enables the engine.
func (e *Engine) Disconnect() {
	e.mu.Lock()
	userID := e.userID
	groups := append([]string(nil), e.groups...)
	e.manual = true
	e.attempts = e.cfg.Backoff.MaxAttempts
	if e.retryTimer != nil {
		e.retryTimer.Stop()
		e.retryTimer = nil
	}
	e.mu.Unlock()

	if userID != "" {
		e.Send(ws.TypeLeaveChat, ws.ChatUserPayload{UserID: userID})
		for _, groupID := range groups {
			e.Send(ws.TypeRemoveUser, ws.PresencePayload{GroupID: groupID, UserID: userID})
		}
	}

	e.mu.Lock()
	conn := e.conn
	e.conn = nil
	if e.hbStop != nil {
		close(e.hbStop)
		e.hbStop = nil
	}
	e.generation++
	e.connecting = false
	e.userID = ""
	e.groups = nil
	e.mu.Unlock()

	if conn != nil {
		e.writeMu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "manual disconnect")
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		e.writeMu.Unlock()
		conn.Close()
	}

	e.queue.clear()
	e.logger.Info("disconnected")
	e.setStatus(StatusDisconnected, StatusDetail{})
}

// Retry resets the attempt budget after a terminal error and dials again.
func (e *Engine) Retry() error {
	e.mu.Lock()
	e.attempts = 0
	e.manual = false
	e.mu.Unlock()

	e.logger.Info("manual retry requested")
	return e.Connect()
}

// IsConnected reports whether a live connection exists.
func (e *Engine) IsConnected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conn != nil
}

// Status returns the current connection status.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// Stats returns a snapshot of the engine state.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	return Stats{
		Status:         e.status,
		Attempts:       e.attempts,
		MaxAttempts:    e.cfg.Backoff.MaxAttempts,
		Connected:      e.conn != nil,
		Manual:         e.manual,
		QueuedMessages: e.queue.len(),
		LastInbound:    e.lastInbound,
		UserID:         e.userID,
		Groups:         len(e.groups),
	}
}

// setStatus records the state and notifies observers outside the lock.
func (e *Engine) setStatus(status Status, detail StatusDetail) {
	e.mu.Lock()
	e.status = status
	e.mu.Unlock()

	e.handlerMu.Lock()
	handlers := make([]StatusHandler, 0, len(e.statusHandlers))
	for _, h := range e.statusHandlers {
		handlers = append(handlers, h)
	}
	e.handlerMu.Unlock()

	for _, h := range handlers {
		h(status, detail)
	}
}
