package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threadhub/realtime/internal/infrastructure/config"
	"github.com/threadhub/realtime/internal/infrastructure/logging"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	srv := NewServer(config.Default(), logging.NewNop())
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func TestComposedRoutes(t *testing.T) {
	ts := newTestServer(t)

	for _, path := range []string{"/", "/health", "/presence", "/metrics"} {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err, path)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}

func TestStreamServesWebSocket(t *testing.T) {
	ts := newTestServer(t)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/stream"

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var greeting map[string]interface{}
	require.NoError(t, conn.ReadJSON(&greeting))
	assert.Equal(t, "CONNECTED", greeting["type"])
}

func TestBroadcastEndToEnd(t *testing.T) {
	ts := newTestServer(t)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/stream"

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var greeting map[string]interface{}
	require.NoError(t, conn.ReadJSON(&greeting))

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type":    "NEW_USER",
		"payload": map[string]string{"groupId": "go-lang", "userId": "alice"},
	}))

	// Registration is asynchronous; poll via the presence report.
	require.Eventually(t, func() bool {
		resp, err := http.Get(ts.URL + "/presence")
		if err != nil {
			return false
		}
		defer resp.Body.Close()

		buf := make([]byte, 4096)
		n, _ := resp.Body.Read(buf)
		return strings.Contains(string(buf[:n]), "go-lang")
	}, 2*time.Second, 20*time.Millisecond)

	resp, err := http.Post(ts.URL+"/broadcast", "application/json",
		strings.NewReader(`{"group_id":"go-lang","type":"NEW_POST","payload":{"postId":"p1"}}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var frame map[string]interface{}
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "NEW_POST", frame["type"])
}
