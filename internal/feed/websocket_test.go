package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wsServer upgrades every request and hands the server side to serve.
func wsServer(t *testing.T, serve func(ws *websocket.Conn)) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		serve(ws)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWebsocketDialer_ReadsTextFrames(t *testing.T) {
	url := wsServer(t, func(ws *websocket.Conn) {
		_ = ws.WriteMessage(websocket.TextMessage, []byte("{\"a\":1}\n{\"b\":2}"))
		// Keep reading so pings are answered until the client leaves.
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	})

	d := WebsocketDialer{HandshakeTimeout: time.Second, HeartbeatInterval: 20 * time.Millisecond, IdleTimeout: 200 * time.Millisecond}
	conn, err := d.Dial(context.Background(), url)
	require.NoError(t, err)
	defer conn.Close()

	frame, err := conn.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, "{\"a\":1}\n{\"b\":2}", string(frame))
}

func TestWebsocketDialer_IdleTimeoutFailsRead(t *testing.T) {
	release := make(chan struct{})
	// The server never reads, so pings go unanswered.
	url := wsServer(t, func(ws *websocket.Conn) { <-release })
	// Registered after the server so it runs before srv.Close waits on the handler.
	t.Cleanup(func() { close(release) })

	d := WebsocketDialer{HandshakeTimeout: time.Second, HeartbeatInterval: 10 * time.Millisecond, IdleTimeout: 50 * time.Millisecond}
	conn, err := d.Dial(context.Background(), url)
	require.NoError(t, err)
	defer conn.Close()

	start := time.Now()
	_, err = conn.ReadFrame()
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestWebsocketDialer_HandshakeFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	d := WebsocketDialer{HandshakeTimeout: time.Second}
	_, err := d.Dial(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 403")
}
