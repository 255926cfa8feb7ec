// Package gateway owns the connection layer: live sessions, the registry
// mapping sessions to users, rooms, and channels, and the typed message
// router. Services above it never touch transports directly; they go
// through the registry's send operations.
package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/partyhub/server/internal/v1/logging"
	"github.com/partyhub/server/internal/v1/metrics"
)

// Conn is the subset of WebSocket connection operations the session uses.
// *websocket.Conn satisfies it; tests substitute fakes.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
	SetWriteDeadline(t time.Time) error
}

const (
	writeWait      = 10 * time.Second
	sendBufferSize = 256
)

// Session is the server-side record of one live client transport.
type Session struct {
	ID   string
	conn Conn

	mu            sync.RWMutex
	userID        string
	lastHeartbeat time.Time
	closed        bool
	closeOnce     sync.Once

	send chan []byte

	// onClose runs exactly once after the read pump exits, before the
	// registry entry is removed. Set by the server during wiring.
	onClose func(*Session)
}

func newSession(conn Conn) *Session {
	return &Session{
		ID:            uuid.NewString(),
		conn:          conn,
		lastHeartbeat: time.Now(),
		send:          make(chan []byte, sendBufferSize),
	}
}

// UserID returns the bound user id, or "" before login.
func (s *Session) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

// Authenticated reports whether a user is bound to this session.
func (s *Session) Authenticated() bool {
	return s.UserID() != ""
}

func (s *Session) bindUser(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userID = userID
}

func (s *Session) clearUser() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userID = ""
}

// Touch refreshes the heartbeat clock.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastHeartbeat = time.Now()
}

// LastHeartbeat returns the time of the most recent heartbeat.
func (s *Session) LastHeartbeat() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastHeartbeat
}

// SendRaw queues a pre-serialized frame. A full or closed session drops
// the frame rather than blocking the caller.
func (s *Session) SendRaw(data []byte) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return
	}
	s.mu.RUnlock()

	defer func() {
		if r := recover(); r != nil {
			logging.Warn(context.Background(), "send on closing session",
				zap.String("session_id", s.ID), zap.Any("panic", r))
		}
	}()

	select {
	case s.send <- data:
	default:
		logging.Warn(context.Background(), "session send buffer full, dropping frame",
			zap.String("session_id", s.ID))
	}
}

// CloseWithCode writes a close control frame carrying the given status
// code, then tears the session down. Safe to call more than once.
func (s *Session) CloseWithCode(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	s.Close()
}

// Close shuts the send channel, which drains the write pump and closes
// the transport. The read pump exits on the transport error.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.send)
	})
}

// ReadLoop consumes inbound frames and dispatches them in arrival order.
// It blocks until the transport fails or is closed, then runs the
// disconnect path exactly once.
func (s *Session) ReadLoop(router *Router) {
	defer func() {
		if s.onClose != nil {
			s.onClose(s)
		}
		_ = s.conn.Close()
		metrics.DecConnection()
	}()

	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			break
		}
		if messageType != websocket.TextMessage {
			continue
		}

		router.Dispatch(context.Background(), s, data)
	}
}

// WriteLoop drains the send channel onto the transport. It exits when
// the channel closes (after sending a close frame) or a write fails.
func (s *Session) WriteLoop() {
	defer func() { _ = s.conn.Close() }()

	for message := range s.send {
		_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			logging.Error(context.Background(), "session write failed",
				zap.String("session_id", s.ID), zap.Error(err))
			return
		}
	}
	_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
}
