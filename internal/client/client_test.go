package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hookrelay/internal/tunnel"
)

// fakeServer upgrades /connect and hands the socket to the script func.
func fakeServer(t *testing.T, script func(ws *websocket.Conn)) *httptest.Server {
	t.Helper()

	up := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/connect" {
			http.NotFound(w, r)
			return
		}
		ws, err := up.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer ws.Close()
		script(ws)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func localService(t *testing.T, handler http.HandlerFunc) (string, int) {
	t.Helper()

	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	parts := strings.Split(strings.TrimPrefix(ts.URL, "http://"), ":")
	port, err := strconv.Atoi(parts[1])
	require.NoError(t, err)
	return parts[0], port
}

func ready(sub string) tunnel.Frame {
	return tunnel.ReadyFrame(tunnel.Ready{
		Subdomain: sub,
		PublicURL: "http://" + sub + ".example.com",
		ExpiresAt: time.Now().Add(2 * time.Hour),
	})
}

func TestRunOnceForwardsRequests(t *testing.T) {
	host, port := localService(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/save-persona-section1", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"success"}`))
	})

	got := make(chan tunnel.Response, 1)
	ts := fakeServer(t, func(ws *websocket.Conn) {
		require.NoError(t, ws.WriteJSON(ready("myapp")))
		require.NoError(t, ws.WriteJSON(tunnel.RequestFrame(tunnel.Request{
			ID:      "r1",
			Method:  http.MethodPost,
			Path:    "/save-persona-section1",
			Headers: map[string]string{"Content-Type": "application/json"},
			Body:    []byte(`{"session_id":"s1"}`),
		})))

		var f tunnel.Frame
		require.NoError(t, ws.ReadJSON(&f))
		require.Equal(t, tunnel.KindResponse, f.Kind)
		got <- *f.Response

		require.NoError(t, ws.WriteJSON(tunnel.GoodbyeFrame(tunnel.ReasonShutdown, "bye")))
	})

	c := New(Options{ServerURL: ts.URL, LocalHost: host, LocalPort: port})
	require.NoError(t, c.RunOnce(context.Background()))

	resp := <-got
	assert.Equal(t, "r1", resp.ID)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.JSONEq(t, `{"status":"success"}`, string(resp.Body))
	assert.Equal(t, "application/json", resp.Headers["Content-Type"])
}

func TestRunOnceLocalServiceDown(t *testing.T) {
	got := make(chan tunnel.Response, 1)
	ts := fakeServer(t, func(ws *websocket.Conn) {
		require.NoError(t, ws.WriteJSON(ready("myapp")))
		require.NoError(t, ws.WriteJSON(tunnel.RequestFrame(tunnel.Request{ID: "r1", Method: http.MethodGet, Path: "/"})))

		var f tunnel.Frame
		require.NoError(t, ws.ReadJSON(&f))
		got <- *f.Response

		require.NoError(t, ws.WriteJSON(tunnel.GoodbyeFrame(tunnel.ReasonShutdown, "bye")))
	})

	// port 1 should refuse connections
	c := New(Options{ServerURL: ts.URL, LocalHost: "127.0.0.1", LocalPort: 1})
	require.NoError(t, c.RunOnce(context.Background()))

	resp := <-got
	assert.Equal(t, http.StatusBadGateway, resp.Status)
}

func TestRunOnceSessionExpired(t *testing.T) {
	ts := fakeServer(t, func(ws *websocket.Conn) {
		require.NoError(t, ws.WriteJSON(ready("myapp")))
		require.NoError(t, ws.WriteJSON(tunnel.GoodbyeFrame(tunnel.ReasonExpired, "session expired")))
	})

	c := New(Options{ServerURL: ts.URL, LocalHost: "127.0.0.1", LocalPort: 1})
	err := c.RunOnce(context.Background())
	assert.ErrorIs(t, err, ErrSessionExpired)
}

func TestRunOnceRejected(t *testing.T) {
	ts := fakeServer(t, func(ws *websocket.Conn) {
		require.NoError(t, ws.WriteJSON(tunnel.GoodbyeFrame(tunnel.ReasonRejected, "subdomain taken")))
	})

	c := New(Options{ServerURL: ts.URL, Subdomain: "taken", LocalHost: "127.0.0.1", LocalPort: 1})
	err := c.RunOnce(context.Background())
	assert.ErrorIs(t, err, ErrSessionRejected)
}

func TestConnectURL(t *testing.T) {
	c := New(Options{ServerURL: "https://hooks.example.com", Subdomain: "myapp", Token: "t"})
	u, err := c.connectURL()
	require.NoError(t, err)
	assert.Equal(t, "wss://hooks.example.com/connect?subdomain=myapp&token=t", u)

	c = New(Options{ServerURL: "http://localhost:8080"})
	u, err = c.connectURL()
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:8080/connect", u)
}

func TestConnectURLInvalid(t *testing.T) {
	c := New(Options{ServerURL: "://bad"})
	_, err := c.connectURL()
	assert.Error(t, err)
}
