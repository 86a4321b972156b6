package presence

import (
	"sync"

	"go.uber.org/zap"

	"github.com/threadhub/realtime/internal/infrastructure/logging"
	"github.com/threadhub/realtime/internal/infrastructure/monitoring"
	"github.com/threadhub/realtime/internal/shared/id"
)

// GroupAll is the reserved group identifier meaning "every connected user
// regardless of group". Feed-wide events (new posts, new communities) are
// broadcast here instead of to a single room.
const GroupAll = "NATHI_KOI_GROUP"

type member struct {
	userID string
	conn   Conn
}

// GroupRegistry maps community rooms to the set of (user, connection)
// pairs currently subscribed. Groups are created lazily on first join and
// deleted when their last member leaves, so broadcast cost stays
// proportional to the target room, and an enumeration of groups never
// shows empty ones.
type GroupRegistry struct {
	mu      sync.RWMutex
	groups  map[string][]member
	logger  *logging.Logger
	metrics *monitoring.Metrics
}

// NewGroupRegistry creates an empty group presence registry.
func NewGroupRegistry(logger *logging.Logger) *GroupRegistry {
	return &GroupRegistry{
		groups: make(map[string][]member),
		logger: logger.Component("group-registry"),
	}
}

// WithMetrics attaches a metrics collector.
func (r *GroupRegistry) WithMetrics(m *monitoring.Metrics) *GroupRegistry {
	r.metrics = m
	return r
}

// AddUser subscribes userID's connection to groupID. Any prior entry for
// the same (group, user) pair is removed first, so duplicate joins and
// rejoins after reconnect leave exactly one membership.
func (r *GroupRegistry) AddUser(groupID, userID string, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.removeLocked(groupID, userID)
	r.groups[groupID] = append(r.groups[groupID], member{userID: userID, conn: conn})

	r.logger.Debug("user joined group",
		zap.String("group_id", groupID),
		zap.String("user_id", userID),
		zap.Int("members", len(r.groups[groupID])),
	)
	r.updateGauges()
}

// RemoveUser unsubscribes userID from groupID. A group emptied by the
// removal is deleted entirely.
func (r *GroupRegistry) RemoveUser(groupID, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.removeLocked(groupID, userID)
	r.updateGauges()
}

func (r *GroupRegistry) removeLocked(groupID, userID string) {
	members, ok := r.groups[groupID]
	if !ok {
		return
	}

	kept := members[:0]
	for _, m := range members {
		if m.userID != userID {
			kept = append(kept, m)
		}
	}

	if len(kept) == 0 {
		delete(r.groups, groupID)
		return
	}
	r.groups[groupID] = kept
}

// Exists reports whether userID is a member of groupID.
func (r *GroupRegistry) Exists(groupID, userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, m := range r.groups[groupID] {
		if m.userID == userID {
			return true
		}
	}
	return false
}

// Broadcast fans a frame out to every member of groupID, or to every
// connected user when groupID is GroupAll. Members whose connection is no
// longer open are skipped; send failures are logged, never propagated.
// The GroupAll path deduplicates by connection identity so a user joined
// to several groups receives the event once.
func (r *GroupRegistry) Broadcast(groupID string, frame interface{}) {
	targets := r.snapshot(groupID)

	scope := "group"
	if groupID == GroupAll {
		scope = "all"
	}
	if r.metrics != nil {
		r.metrics.RecordBroadcast(scope)
	}

	if len(targets) == 0 {
		r.logger.Debug("broadcast to empty group", zap.String("group_id", groupID))
		return
	}

	sent := 0
	for _, m := range targets {
		if !m.conn.IsOpen() {
			continue
		}
		if err := m.conn.SendJSON(frame); err != nil {
			r.logger.Warn("broadcast send failed",
				zap.String("group_id", groupID),
				zap.String("user_id", m.userID),
				zap.Error(err),
			)
			continue
		}
		sent++
	}

	r.logger.Debug("broadcast delivered",
		zap.String("group_id", groupID),
		zap.Int("targets", len(targets)),
		zap.Int("sent", sent),
	)
}

// snapshot copies the delivery set under the read lock so slow client
// writes never stall membership changes.
func (r *GroupRegistry) snapshot(groupID string) []member {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if groupID != GroupAll {
		members := r.groups[groupID]
		out := make([]member, len(members))
		copy(out, members)
		return out
	}

	seen := make(map[id.ConnID]bool)
	var out []member
	for _, members := range r.groups {
		for _, m := range members {
			if seen[m.conn.ID()] {
				continue
			}
			seen[m.conn.ID()] = true
			out = append(out, m)
		}
	}
	return out
}

// RemoveByConn removes every membership bound to the connection across all
// groups, deleting any group left empty. Used on abrupt disconnect where
// the user ID may never have been learned.
func (r *GroupRegistry) RemoveByConn(conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for groupID, members := range r.groups {
		kept := members[:0]
		for _, m := range members {
			if m.conn.ID() == conn.ID() {
				removed++
				continue
			}
			kept = append(kept, m)
		}

		if len(kept) == 0 {
			delete(r.groups, groupID)
			continue
		}
		r.groups[groupID] = kept
	}

	if removed > 0 {
		r.logger.Debug("connection removed from groups",
			zap.String("conn_id", conn.ID().String()),
			zap.Int("memberships", removed),
		)
	}
	r.updateGauges()
}

// TotalUsers returns the number of membership entries across all groups.
func (r *GroupRegistry) TotalUsers() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := 0
	for _, members := range r.groups {
		total += len(members)
	}
	return total
}

// GroupUserCount returns the number of members in groupID.
func (r *GroupRegistry) GroupUserCount(groupID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.groups[groupID])
}

// Groups returns the identifiers of all non-empty groups.
func (r *GroupRegistry) Groups() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.groups))
	for groupID := range r.groups {
		out = append(out, groupID)
	}
	return out
}

func (r *GroupRegistry) updateGauges() {
	if r.metrics == nil {
		return
	}

	total := 0
	for _, members := range r.groups {
		total += len(members)
	}
	r.metrics.SetPresence(total, len(r.groups))
}
