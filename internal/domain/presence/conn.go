// Package presence tracks which users are live on the realtime layer and
// fans events out to them. It holds two registries: DirectRegistry maps a
// user to their single active connection for point-to-point chat, and
// GroupRegistry maps community rooms to their member connections for
// broadcast fan-out. Both are plain constructed instances owned by the
// composition root; nothing in this package is global.
package presence

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/threadhub/realtime/internal/shared/id"
)

// ErrClosed is returned when writing to a connection that has been closed.
var ErrClosed = errors.New("connection closed")

// Conn is the registry-facing view of a live connection: an identity, an
// open/closed state, and a serialized JSON write path. The registries hold
// these by reference and never own their lifecycle.
type Conn interface {
	ID() id.ConnID
	IsOpen() bool
	SendJSON(v interface{}) error
}

// Socket wraps a gorilla WebSocket connection as a Conn. Gorilla permits a
// single concurrent writer, so all writes are serialized through a mutex;
// fan-out paths running on many goroutines call SendJSON safely.
type Socket struct {
	id id.ConnID
	ws *websocket.Conn

	mu     sync.Mutex // serializes writes and guards closed
	closed bool

	lastSeen atomic.Int64 // unix nanos of last inbound activity
}

// NewSocket wraps an upgraded WebSocket connection.
func NewSocket(ws *websocket.Conn) *Socket {
	s := &Socket{
		id: id.NewConnID(),
		ws: ws,
	}
	s.Touch()
	return s
}

// ID returns the transport identity of this connection.
func (s *Socket) ID() id.ConnID {
	return s.id
}

// IsOpen reports whether the connection is still writable.
func (s *Socket) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

// SendJSON writes a JSON frame. Returns ErrClosed after Close or Terminate.
func (s *Socket) SendJSON(v interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	return s.ws.WriteJSON(v)
}

// Ping sends a ping control frame with the given write deadline.
func (s *Socket) Ping(deadline time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	return s.ws.WriteControl(websocket.PingMessage, nil, deadline)
}

// Touch records inbound activity.
func (s *Socket) Touch() {
	s.lastSeen.Store(time.Now().UnixNano())
}

// LastActivity returns the time of the last inbound frame.
func (s *Socket) LastActivity() time.Time {
	return time.Unix(0, s.lastSeen.Load())
}

// Close sends a close frame with the given code and closes the transport.
// Subsequent writes return ErrClosed. Safe to call more than once.
func (s *Socket) Close(code int, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	msg := websocket.FormatCloseMessage(code, reason)
	_ = s.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return s.ws.Close()
}

// Terminate closes the transport without a close handshake. Used when the
// peer failed a liveness probe and is presumed gone.
func (s *Socket) Terminate() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	_ = s.ws.Close()
}
