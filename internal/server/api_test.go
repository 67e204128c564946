package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hookrelay/internal/auth"
	"hookrelay/internal/capture"
	"hookrelay/internal/config"
)

func getJSON(t *testing.T, url string, out any) *http.Response {
	t.Helper()

	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func TestAPITunnelsAndRequests(t *testing.T) {
	_, ts := newTestServer(t, nil, nil)

	ws, ready := connect(t, ts, "?subdomain=myapp")
	go echoClient(ws, `{"status":"success"}`)

	resp := proxyRequest(t, ts, http.MethodPost, "myapp", "/save-persona-section1", `{"session_id":"s1"}`)
	resp.Body.Close()

	var tunnels []TunnelInfo
	getJSON(t, ts.URL+"/api/tunnels", &tunnels)
	require.Len(t, tunnels, 1)
	assert.Equal(t, "myapp", tunnels[0].Subdomain)
	assert.Equal(t, ready.PublicURL, tunnels[0].PublicURL)
	assert.Equal(t, int64(1), tunnels[0].RequestsServed)

	var entries []capture.Entry
	getJSON(t, ts.URL+"/api/requests", &entries)
	require.Len(t, entries, 1)
	assert.Equal(t, "myapp", entries[0].Subdomain)
	assert.Equal(t, "/save-persona-section1", entries[0].Path)
	assert.Equal(t, http.StatusOK, entries[0].Status)
	assert.Contains(t, entries[0].RequestBody, "session_id")

	var entry capture.Entry
	r := getJSON(t, ts.URL+"/api/requests/"+entries[0].ID, &entry)
	assert.Equal(t, http.StatusOK, r.StatusCode)
	assert.Equal(t, entries[0].ID, entry.ID)

	r = getJSON(t, ts.URL+"/api/requests/missing", nil)
	assert.Equal(t, http.StatusNotFound, r.StatusCode)
}

func TestAPIReplay(t *testing.T) {
	_, ts := newTestServer(t, nil, nil)

	ws, _ := connect(t, ts, "?subdomain=myapp")
	go echoClient(ws, `{"status":"success"}`)

	resp := proxyRequest(t, ts, http.MethodPost, "myapp", "/save-persona-section1", `{"session_id":"s1"}`)
	resp.Body.Close()

	var entries []capture.Entry
	getJSON(t, ts.URL+"/api/requests", &entries)
	require.Len(t, entries, 1)

	replayResp, err := http.Post(ts.URL+"/api/requests/"+entries[0].ID+"/replay", "application/json", nil)
	require.NoError(t, err)
	defer replayResp.Body.Close()
	require.Equal(t, http.StatusOK, replayResp.StatusCode)

	var result struct {
		ID     string `json:"id"`
		Status int    `json:"status"`
	}
	require.NoError(t, json.NewDecoder(replayResp.Body).Decode(&result))
	assert.Equal(t, http.StatusOK, result.Status)
	assert.NotEqual(t, entries[0].ID, result.ID)

	getJSON(t, ts.URL+"/api/requests", &entries)
	assert.Len(t, entries, 2, "replay is captured too")
}

func TestAPIAuthScoping(t *testing.T) {
	mgr := auth.NewManager([]auth.TokenEntry{
		{Token: "user123", Subdomains: []string{"myapp"}, Role: auth.RoleUser},
		{Token: "admin456", Subdomains: []string{"*"}, Role: auth.RoleAdmin},
	})
	_, ts := newTestServer(t, mgr, nil)

	wsA, readyA := connect(t, ts, "?subdomain=myapp&token=user123")
	go echoClient(wsA, "a")
	wsB, _ := connect(t, ts, "?token=admin456")
	go echoClient(wsB, "b")

	proxyRequest(t, ts, http.MethodGet, "myapp", "/", "").Body.Close()

	// no token at all
	r := getJSON(t, ts.URL+"/api/requests", nil)
	assert.Equal(t, http.StatusUnauthorized, r.StatusCode)

	// session token sees only its own subdomain
	var entries []capture.Entry
	getJSON(t, fmt.Sprintf("%s/api/requests?token=%s&subdomain=ignored", ts.URL, readyA.SessionToken), &entries)
	require.Len(t, entries, 1)
	assert.Equal(t, "myapp", entries[0].Subdomain)

	var tunnels []TunnelInfo
	getJSON(t, fmt.Sprintf("%s/api/tunnels?token=%s", ts.URL, readyA.SessionToken), &tunnels)
	require.Len(t, tunnels, 1)
	assert.Equal(t, "myapp", tunnels[0].Subdomain)

	// admin sees both sessions
	getJSON(t, ts.URL+"/api/tunnels?token=admin456", &tunnels)
	assert.Len(t, tunnels, 2)
}

func TestAPIStream(t *testing.T) {
	_, ts := newTestServer(t, nil, nil)

	ws, _ := connect(t, ts, "?subdomain=myapp")
	go echoClient(ws, "ok")

	streamURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/requests/stream"
	stream, _, err := websocket.DefaultDialer.Dial(streamURL, nil)
	require.NoError(t, err)
	defer stream.Close()

	proxyRequest(t, ts, http.MethodGet, "myapp", "/get-persona-section1?session_id=s1", "").Body.Close()

	_ = stream.SetReadDeadline(time.Now().Add(5 * time.Second))
	var entry capture.Entry
	require.NoError(t, stream.ReadJSON(&entry))
	assert.Equal(t, "myapp", entry.Subdomain)
	assert.Equal(t, "/get-persona-section1?session_id=s1", entry.Path)
}

func TestAPIRequestsFromHistory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "captures.db")
	_, ts := newTestServer(t, nil, func(c *config.Server) { c.CaptureDB = dbPath })

	ws, _ := connect(t, ts, "?subdomain=myapp")
	go echoClient(ws, "ok")

	proxyRequest(t, ts, http.MethodGet, "myapp", "/", "").Body.Close()

	var entries []capture.Entry
	getJSON(t, ts.URL+"/api/requests", &entries)
	require.Len(t, entries, 1)
	assert.Equal(t, "myapp", entries[0].Subdomain)
}

func TestHealthz(t *testing.T) {
	_, ts := newTestServer(t, nil, nil)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok\n", string(body))
}

func TestCaddyAsk(t *testing.T) {
	_, ts := newTestServer(t, nil, nil)

	r := getJSON(t, ts.URL+"/caddy/ask?domain=myapp.example.com", nil)
	assert.Equal(t, http.StatusOK, r.StatusCode)

	r = getJSON(t, ts.URL+"/caddy/ask?domain=evil.com", nil)
	assert.Equal(t, http.StatusForbidden, r.StatusCode)
}
