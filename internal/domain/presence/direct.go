package presence

import (
	"sync"

	"go.uber.org/zap"

	"github.com/threadhub/realtime/internal/infrastructure/logging"
	"github.com/threadhub/realtime/internal/infrastructure/monitoring"
	"github.com/threadhub/realtime/internal/shared/id"
)

// chatFrame is the direct-message wire frame. Unlike server push events it
// is flat, not enveloped: the web client reads from/message at the top
// level of a NEW_CHAT frame.
type chatFrame struct {
	Type    string `json:"type"`
	From    string `json:"from"`
	Message string `json:"message"`
}

// DirectRegistry maps a user to their single active connection for live
// point-to-point chat. A user has at most one entry; registering again
// replaces the previous connection (last writer wins). A reverse
// connection-to-user index lets abrupt-close teardown clean this registry
// symmetrically with the group registry, without knowing the user ID.
type DirectRegistry struct {
	mu      sync.RWMutex
	users   map[string]Conn
	byConn  map[id.ConnID]string
	logger  *logging.Logger
	metrics *monitoring.Metrics
}

// NewDirectRegistry creates an empty direct-chat registry.
func NewDirectRegistry(logger *logging.Logger) *DirectRegistry {
	return &DirectRegistry{
		users:  make(map[string]Conn),
		byConn: make(map[id.ConnID]string),
		logger: logger.Component("direct-registry"),
	}
}

// WithMetrics attaches a metrics collector.
func (r *DirectRegistry) WithMetrics(m *monitoring.Metrics) *DirectRegistry {
	r.metrics = m
	return r
}

// AddUser registers the connection for userID, replacing any prior entry
// for either the user or the connection so the forward and reverse maps
// stay one-to-one.
func (r *DirectRegistry) AddUser(userID string, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.users[userID]; ok {
		delete(r.byConn, prev.ID())
	}
	if prevUser, ok := r.byConn[conn.ID()]; ok {
		delete(r.users, prevUser)
	}

	r.users[userID] = conn
	r.byConn[conn.ID()] = userID

	r.logger.Debug("user joined chat",
		zap.String("user_id", userID),
		zap.String("conn_id", conn.ID().String()),
	)
}

// RemoveUser deregisters userID. No-op if absent.
func (r *DirectRegistry) RemoveUser(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.users[userID]
	if !ok {
		return
	}
	delete(r.users, userID)
	delete(r.byConn, conn.ID())

	r.logger.Debug("user left chat", zap.String("user_id", userID))
}

// RemoveByConn deregisters whichever user the connection belongs to.
// Returns the user ID and true if an entry was removed. Used on abrupt
// disconnect where the supervisor only knows the connection.
func (r *DirectRegistry) RemoveByConn(conn Conn) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.byConn[conn.ID()]
	if !ok {
		return "", false
	}
	delete(r.byConn, conn.ID())
	delete(r.users, userID)

	r.logger.Debug("user removed by connection",
		zap.String("user_id", userID),
		zap.String("conn_id", conn.ID().String()),
	)
	return userID, true
}

// IsActive reports whether userID has a registered connection.
func (r *DirectRegistry) IsActive(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.users[userID]
	return ok
}

// ActiveUsers returns the number of registered users.
func (r *DirectRegistry) ActiveUsers() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.users)
}

// SendToUser delivers a NEW_CHAT frame to the recipient, but only when
// both sender and recipient currently have live registered connections.
// Returns false otherwise; there is no queueing and no error. This path is
// best-effort presence chat, not guaranteed delivery.
func (r *DirectRegistry) SendToUser(fromUserID, toUserID, message string) bool {
	r.mu.RLock()
	_, senderActive := r.users[fromUserID]
	recipient, recipientActive := r.users[toUserID]
	r.mu.RUnlock()

	delivered := false
	if senderActive && recipientActive {
		err := recipient.SendJSON(chatFrame{
			Type:    "NEW_CHAT",
			From:    fromUserID,
			Message: message,
		})
		delivered = err == nil
		if err != nil {
			r.logger.Warn("direct send failed",
				zap.String("from", fromUserID),
				zap.String("to", toUserID),
				zap.Error(err),
			)
		}
	}

	if r.metrics != nil {
		r.metrics.RecordDirectSend(delivered)
	}
	return delivered
}
