package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threadhub/realtime/internal/domain/presence"
	"github.com/threadhub/realtime/internal/infrastructure/logging"
	"github.com/threadhub/realtime/internal/shared/id"
)

// recordConn collects frames for assertions.
type recordConn struct {
	id id.ConnID

	mu     sync.Mutex
	frames []interface{}
}

func newRecordConn() *recordConn {
	return &recordConn{id: id.NewConnID()}
}

func (r *recordConn) ID() id.ConnID { return r.id }
func (r *recordConn) IsOpen() bool  { return true }

func (r *recordConn) SendJSON(v interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, v)
	return nil
}

func (r *recordConn) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

type fixture struct {
	router *gin.Engine
	groups *presence.GroupRegistry
	direct *presence.DirectRegistry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := logging.NewNop()
	groups := presence.NewGroupRegistry(logger)
	direct := presence.NewDirectRegistry(logger)
	h := NewHandlers(groups, direct, logger)

	router := gin.New()
	router.GET("/", h.Root)
	router.GET("/health", h.Health)
	router.GET("/presence", h.Presence)
	router.POST("/broadcast", h.Broadcast)
	router.POST("/chats/send", h.SendChat)

	return &fixture{router: router, groups: groups, direct: direct}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestRootAndHealth(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "threadhub-realtime", decode(t, w)["service"])

	w = f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", decode(t, w)["status"])
}

func TestPresenceReport(t *testing.T) {
	f := newFixture(t)
	f.groups.AddUser("go-lang", "alice", newRecordConn())
	f.groups.AddUser("go-lang", "bob", newRecordConn())
	f.direct.AddUser("alice", newRecordConn())

	w := f.do(t, http.MethodGet, "/presence", "")
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.Equal(t, float64(2), body["total_users"])
	assert.Equal(t, float64(1), body["active_chats"])

	groups, ok := body["groups"].([]interface{})
	require.True(t, ok)
	require.Len(t, groups, 1)
	group := groups[0].(map[string]interface{})
	assert.Equal(t, "go-lang", group["group_id"])
	assert.Equal(t, float64(2), group["members"])
}

func TestBroadcastToGroup(t *testing.T) {
	f := newFixture(t)
	member := newRecordConn()
	outsider := newRecordConn()
	f.groups.AddUser("music", "alice", member)
	f.groups.AddUser("movies", "bob", outsider)

	w := f.do(t, http.MethodPost, "/broadcast",
		`{"group_id":"music","type":"NEW_POST","payload":{"postId":"p1"}}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "music", decode(t, w)["group_id"])

	assert.Equal(t, 1, member.count())
	assert.Equal(t, 0, outsider.count())
}

func TestBroadcastWithoutGroupReachesEveryone(t *testing.T) {
	f := newFixture(t)
	alice := newRecordConn()
	bob := newRecordConn()
	f.groups.AddUser("music", "alice", alice)
	f.groups.AddUser("movies", "bob", bob)

	w := f.do(t, http.MethodPost, "/broadcast", `{"type":"NEW_COMMUNITY"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, presence.GroupAll, decode(t, w)["group_id"])

	assert.Equal(t, 1, alice.count())
	assert.Equal(t, 1, bob.count())
}

func TestBroadcastRequiresType(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodPost, "/broadcast", `{"group_id":"music"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSendChat(t *testing.T) {
	f := newFixture(t)
	f.direct.AddUser("alice", newRecordConn())
	target := newRecordConn()
	f.direct.AddUser("bob", target)

	w := f.do(t, http.MethodPost, "/chats/send",
		`{"from":"alice","to":"bob","message":"hi"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["delivered"])
	assert.Equal(t, 1, target.count())
}

func TestSendChatOfflineRecipient(t *testing.T) {
	f := newFixture(t)
	f.direct.AddUser("alice", newRecordConn())

	w := f.do(t, http.MethodPost, "/chats/send",
		`{"from":"alice","to":"bob","message":"hi"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decode(t, w)["delivered"])
}

func TestSendChatValidation(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodPost, "/chats/send", `{"from":"alice"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
