package presence

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threadhub/realtime/internal/infrastructure/logging"
	"github.com/threadhub/realtime/internal/shared/id"
)

// fakeConn records frames instead of writing to a socket.
type fakeConn struct {
	id id.ConnID

	mu     sync.Mutex
	open   bool
	frames []interface{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{id: id.NewConnID(), open: true}
}

func (f *fakeConn) ID() id.ConnID { return f.id }

func (f *fakeConn) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

func (f *fakeConn) SendJSON(v interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.open {
		return ErrClosed
	}
	f.frames = append(f.frames, v)
	return nil
}

func (f *fakeConn) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.open = false
}

func (f *fakeConn) received() []interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]interface{}, len(f.frames))
	copy(out, f.frames)
	return out
}

func newGroups(t *testing.T) *GroupRegistry {
	t.Helper()
	return NewGroupRegistry(logging.NewNop())
}

func newDirect(t *testing.T) *DirectRegistry {
	t.Helper()
	return NewDirectRegistry(logging.NewNop())
}

func TestGroupLifecycle(t *testing.T) {
	r := newGroups(t)
	alice := newFakeConn()
	bob := newFakeConn()

	r.AddUser("go-lang", "alice", alice)
	r.AddUser("go-lang", "bob", bob)

	assert.True(t, r.Exists("go-lang", "alice"))
	assert.True(t, r.Exists("go-lang", "bob"))
	assert.Equal(t, 2, r.GroupUserCount("go-lang"))
	assert.Equal(t, 2, r.TotalUsers())
	assert.Equal(t, []string{"go-lang"}, r.Groups())

	r.RemoveUser("go-lang", "alice")
	assert.False(t, r.Exists("go-lang", "alice"))
	assert.Equal(t, 1, r.GroupUserCount("go-lang"))

	// Removing the last member deletes the group entirely.
	r.RemoveUser("go-lang", "bob")
	assert.Equal(t, 0, r.GroupUserCount("go-lang"))
	assert.Empty(t, r.Groups())
	assert.Equal(t, 0, r.TotalUsers())
}

func TestGroupRemoveUnknownIsNoop(t *testing.T) {
	r := newGroups(t)
	r.RemoveUser("nope", "ghost")
	assert.Empty(t, r.Groups())
}

func TestGroupRejoinReplacesEntry(t *testing.T) {
	r := newGroups(t)
	stale := newFakeConn()
	fresh := newFakeConn()

	r.AddUser("music", "alice", stale)
	r.AddUser("music", "alice", fresh)

	// Exactly one membership for the pair, bound to the new connection.
	require.Equal(t, 1, r.GroupUserCount("music"))

	r.Broadcast("music", "hello")
	assert.Empty(t, stale.received())
	assert.Len(t, fresh.received(), 1)
}

func TestBroadcastScopedToGroup(t *testing.T) {
	r := newGroups(t)
	alice := newFakeConn()
	bob := newFakeConn()
	carol := newFakeConn()

	r.AddUser("music", "alice", alice)
	r.AddUser("music", "bob", bob)
	r.AddUser("movies", "carol", carol)

	r.Broadcast("music", "new track")

	assert.Len(t, alice.received(), 1)
	assert.Len(t, bob.received(), 1)
	assert.Empty(t, carol.received())
}

func TestBroadcastAllReachesEveryConnectionOnce(t *testing.T) {
	r := newGroups(t)
	alice := newFakeConn()
	bob := newFakeConn()

	// Alice is in two groups; the all-users fan-out must still deliver
	// exactly once to her connection.
	r.AddUser("music", "alice", alice)
	r.AddUser("movies", "alice", alice)
	r.AddUser("movies", "bob", bob)

	r.Broadcast(GroupAll, "feed update")

	assert.Len(t, alice.received(), 1)
	assert.Len(t, bob.received(), 1)
}

func TestBroadcastSkipsClosedConnections(t *testing.T) {
	r := newGroups(t)
	alive := newFakeConn()
	dead := newFakeConn()

	r.AddUser("music", "alice", alive)
	r.AddUser("music", "bob", dead)
	dead.close()

	r.Broadcast("music", "still here")

	assert.Len(t, alive.received(), 1)
	assert.Empty(t, dead.received())
}

func TestRemoveByConn(t *testing.T) {
	r := newGroups(t)
	doomed := newFakeConn()
	other := newFakeConn()

	r.AddUser("music", "alice", doomed)
	r.AddUser("movies", "alice", doomed)
	r.AddUser("movies", "bob", other)

	r.RemoveByConn(doomed)

	// Every membership bound to the connection is gone; groups emptied by
	// the removal no longer exist; other members are untouched.
	assert.False(t, r.Exists("music", "alice"))
	assert.False(t, r.Exists("movies", "alice"))
	assert.True(t, r.Exists("movies", "bob"))
	assert.NotContains(t, r.Groups(), "music")
	assert.Equal(t, 1, r.TotalUsers())
}

func TestSendToUserTruthTable(t *testing.T) {
	tests := []struct {
		name           string
		registerSender bool
		registerTarget bool
		want           bool
	}{
		{"both registered", true, true, true},
		{"sender absent", false, true, false},
		{"target absent", true, false, false},
		{"both absent", false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newDirect(t)
			target := newFakeConn()

			if tt.registerSender {
				r.AddUser("alice", newFakeConn())
			}
			if tt.registerTarget {
				r.AddUser("bob", target)
			}

			got := r.SendToUser("alice", "bob", "hi")
			assert.Equal(t, tt.want, got)

			if tt.want {
				frames := target.received()
				require.Len(t, frames, 1)
				frame, ok := frames[0].(chatFrame)
				require.True(t, ok)
				assert.Equal(t, "NEW_CHAT", frame.Type)
				assert.Equal(t, "alice", frame.From)
				assert.Equal(t, "hi", frame.Message)
			} else {
				assert.Empty(t, target.received())
			}
		})
	}
}

func TestDirectLastWriterWins(t *testing.T) {
	r := newDirect(t)
	old := newFakeConn()
	current := newFakeConn()

	r.AddUser("alice", old)
	r.AddUser("alice", current)
	r.AddUser("bob", newFakeConn())

	assert.True(t, r.IsActive("alice"))
	require.True(t, r.SendToUser("bob", "alice", "yo"))

	assert.Empty(t, old.received())
	assert.Len(t, current.received(), 1)
}

func TestDirectRemoveByConn(t *testing.T) {
	r := newDirect(t)
	conn := newFakeConn()

	r.AddUser("alice", conn)
	require.True(t, r.IsActive("alice"))

	userID, ok := r.RemoveByConn(conn)
	assert.True(t, ok)
	assert.Equal(t, "alice", userID)
	assert.False(t, r.IsActive("alice"))

	// Removing again is a clean miss.
	_, ok = r.RemoveByConn(conn)
	assert.False(t, ok)
}

func TestDirectRemoveUser(t *testing.T) {
	r := newDirect(t)
	r.AddUser("alice", newFakeConn())

	r.RemoveUser("alice")
	assert.False(t, r.IsActive("alice"))
	assert.Equal(t, 0, r.ActiveUsers())

	// No-op on absent user.
	r.RemoveUser("ghost")
}
