package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// wsTestServer upgrades connections and hands them to fn on a goroutine.
func wsTestServer(t *testing.T, fn func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		fn(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testChannel(t *testing.T, srv *httptest.Server) *wsChannel {
	t.Helper()
	f, err := NewFactory(srv.URL, zap.NewNop())
	require.NoError(t, err)
	return f.Channel("notifications", "tok").(*wsChannel)
}

func TestWSChannel_ConnectSendReceive(t *testing.T) {
	got := make(chan string, 1)
	srv := wsTestServer(t, func(conn *websocket.Conn, r *http.Request) {
		// credential travels as a bearer header
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.True(t, strings.HasSuffix(r.URL.Path, "/ws/notifications"))

		require.NoError(t, conn.WriteJSON(map[string]any{
			"event": "notification:new",
			"data":  map[string]any{"id": "n1"},
		}))

		_, data, err := conn.ReadMessage()
		if err == nil {
			got <- string(data)
		}
	})

	ch := testChannel(t, srv)
	require.NoError(t, ch.Connect(context.Background()))
	defer func() { _ = ch.Close() }()

	select {
	case env := <-ch.Events():
		assert.Equal(t, "notification:new", env.Event)
		var payload struct {
			ID string `json:"id"`
		}
		require.NoError(t, json.Unmarshal(env.Data, &payload))
		assert.Equal(t, "n1", payload.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}

	require.NoError(t, ch.Send(context.Background(), &Envelope{Event: "message:send", Data: json.RawMessage(`{"body":"hi"}`)}))
	select {
	case frame := <-got:
		assert.Contains(t, frame, "message:send")
	case <-time.After(2 * time.Second):
		t.Fatal("server did not receive frame")
	}
}

func TestWSChannel_ServerInitiatedClose(t *testing.T) {
	srv := wsTestServer(t, func(conn *websocket.Conn, _ *http.Request) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "restarting"),
			time.Now().Add(time.Second))
		_ = conn.Close()
	})

	ch := testChannel(t, srv)
	require.NoError(t, ch.Connect(context.Background()))

	select {
	case info := <-ch.Closed():
		assert.Equal(t, CloseCauseServer, info.Cause)
	case <-time.After(2 * time.Second):
		t.Fatal("no close notification")
	}
}

func TestWSChannel_ClientInitiatedClose(t *testing.T) {
	srv := wsTestServer(t, func(conn *websocket.Conn, _ *http.Request) {
		// block in read until the client goes away
		_, _, _ = conn.ReadMessage()
		_ = conn.Close()
	})

	ch := testChannel(t, srv)
	require.NoError(t, ch.Connect(context.Background()))
	require.NoError(t, ch.Close())

	select {
	case info := <-ch.Closed():
		assert.Equal(t, CloseCauseClient, info.Cause)
	case <-time.After(2 * time.Second):
		t.Fatal("no close notification")
	}

	// events channel is closed as part of teardown
	_, open := <-ch.Events()
	assert.False(t, open)

	// sending after teardown fails cleanly
	assert.Error(t, ch.Send(context.Background(), &Envelope{Event: "x"}))

	// Close is idempotent
	assert.NoError(t, ch.Close())
}

func TestWSChannel_ConnectFailure(t *testing.T) {
	f, err := NewFactory("http://127.0.0.1:1", zap.NewNop())
	require.NoError(t, err)
	ch := f.Channel("notifications", "tok")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.Error(t, ch.Connect(ctx))
}

func TestWSChannel_DropsUnparseableFrames(t *testing.T) {
	srv := wsTestServer(t, func(conn *websocket.Conn, _ *http.Request) {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
		require.NoError(t, conn.WriteJSON(map[string]any{"event": "ok"}))
		_, _, _ = conn.ReadMessage()
	})

	ch := testChannel(t, srv)
	require.NoError(t, ch.Connect(context.Background()))
	defer func() { _ = ch.Close() }()

	select {
	case env := <-ch.Events():
		// the garbage frame was skipped, the valid one delivered
		assert.Equal(t, "ok", env.Event)
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}
}
