package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"agenthub/internal/auth"
	"agenthub/internal/hub"
	"agenthub/internal/store"
)

// newTestServer boots a hub backed by a fresh temp-file store and starts the
// HTTP server on an OS-assigned ephemeral port, mirroring the desktop
// pane-streaming hub's own test convention of binding "127.0.0.1:0" so
// parallel tests never collide on a fixed port.
func newTestServer(t *testing.T) (*Server, *hub.Hub) {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	h := hub.New(hub.Config{
		Store:        st,
		ProjectsRoot: t.TempDir(),
		DefaultShell: "/bin/sh",
	}, auth.New(nil, ""), hub.UIHooks{})

	s := New(h, Options{BindHost: "127.0.0.1", BindPort: 0, Debug: true})
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { s.Stop() })

	return s, h
}

func TestListSessionsEmptyWhenNoDevicesPaired(t *testing.T) {
	// No paired devices yet means the auth check opens every request, per
	// the "first-time setup" rule — no Authorization header is needed here.
	s, _ := newTestServer(t)

	resp, err := http.Get("http://" + s.Addr() + "/api/sessions")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var sessions []sessionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sessions))
	require.Empty(t, sessions)
}

func TestCreateAndListSession(t *testing.T) {
	s, _ := newTestServer(t)

	body, err := json.Marshal(createSessionBody{
		Name:       "scratch",
		AgentType:  hub.KindPTYShell,
		WorkingDir: t.TempDir(),
	})
	require.NoError(t, err)

	resp, err := http.Post("http://"+s.Addr()+"/api/sessions", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var created sessionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	require.NotEmpty(t, created.ID)
	require.Equal(t, "scratch", created.Name)
	require.False(t, created.Running)

	listResp, err := http.Get("http://" + s.Addr() + "/api/sessions")
	require.NoError(t, err)
	defer listResp.Body.Close()

	var sessions []sessionResponse
	require.NoError(t, json.NewDecoder(listResp.Body).Decode(&sessions))
	require.Len(t, sessions, 1)
	require.Equal(t, created.ID, sessions[0].ID)
}

func TestSessionRoutesRejectUnauthorizedOnceDeviceIsPaired(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	// Seed one paired device directly so Check() stops auto-authorizing and
	// actually enforces the bearer token.
	h := hub.New(hub.Config{Store: st, ProjectsRoot: t.TempDir(), DefaultShell: "/bin/sh"},
		auth.New([]auth.Device{{Token: "tok", ID: "dev-1", Name: "seed", PairedAt: time.Now(), LastSeen: time.Now()}}, ""),
		hub.UIHooks{})

	s := New(h, Options{BindHost: "127.0.0.1", BindPort: 0})
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { s.Stop() })

	resp, err := http.Get("http://" + s.Addr() + "/api/sessions")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, "http://"+s.Addr()+"/api/sessions", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer tok")
	authedResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer authedResp.Body.Close()
	require.Equal(t, http.StatusOK, authedResp.StatusCode)
}

func TestRequestPairingEndpointNeverReturnsTheCode(t *testing.T) {
	// handleRequestPairing only ever returns pairing_id + expires_in; the
	// 6-digit code is delivered out-of-band via the UI/log hook so a network
	// observer of this response body can't complete the pairing themselves.
	s, _ := newTestServer(t)

	resp, err := http.Post("http://"+s.Addr()+"/api/auth/request-pairing", "application/json",
		bytes.NewReader([]byte(`{"device_name":"terminal"}`)))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.NotEmpty(t, out["pairing_id"])
	require.NotContains(t, out, "code")
}

func TestSessionWSInputIsEchoedBackOnTheSameSocket(t *testing.T) {
	// The per-session WS mirrors typed input on the same broadcast channel
	// it streams output on, so anyone else watching (including, via the hub
	// input-echo hook, the embedded desktop UI) sees what was sent.
	s, h := newTestServer(t)
	ctx := context.Background()

	sess, err := h.CreateSession(ctx, hub.CreateSessionParams{AgentType: hub.KindPTYShell, WorkingDir: t.TempDir()})
	require.NoError(t, err)
	_, err = h.StartSession(ctx, sess.ID)
	require.NoError(t, err)

	wsURL := "ws://" + s.Addr() + "/api/ws/" + sess.ID
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte("echo marker-ws-input\n")))

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		msgType, payload, err := conn.ReadMessage()
		require.NoError(t, err)
		if msgType == websocket.TextMessage && string(payload) == "echo marker-ws-input\n" {
			return
		}
	}
}

func TestCreateSessionRejectsUnknownAgentType(t *testing.T) {
	s, _ := newTestServer(t)

	body, err := json.Marshal(createSessionBody{AgentType: "", WorkingDir: t.TempDir()})
	require.NoError(t, err)

	resp, err := http.Post("http://"+s.Addr()+"/api/sessions", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
