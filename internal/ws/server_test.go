package ws

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"duet/internal/heartbeat"
	"duet/internal/models"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tokenAuth map[string]models.Identity

func (a tokenAuth) Authenticate(r *http.Request) (models.Identity, error) {
	token := r.URL.Query().Get("token")
	if token == "storefail" {
		return models.Identity{}, errors.New("failed to load user: connection refused")
	}
	id, ok := a[token]
	if !ok {
		return models.Identity{}, fmt.Errorf("%w: token is expired", models.ErrUnauthorized)
	}
	return id, nil
}

func newTestServer(t *testing.T, origins []string) (*httptest.Server, *hubFixture) {
	t.Helper()
	f := newHubFixture(t, heartbeat.Config{})
	srv := NewServer(tokenAuth{"good": identity("alice")}, f.hub, Config{
		AllowedOrigins: origins,
		MaxMessageSize: 4096,
		PongWait:       time.Second,
	})
	ts := httptest.NewServer(http.HandlerFunc(srv.HandleConnections))
	t.Cleanup(ts.Close)
	return ts, f
}

func wsURL(ts *httptest.Server, token string) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?token=" + token
}

func TestServer_RejectsInvalidSessionWith1008(t *testing.T) {
	ts, f := newTestServer(t, nil)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "bad"), nil)
	require.NoError(t, err, "the handshake succeeds so the client can read the close code")
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()

	var closeErr *websocket.CloseError
	require.True(t, errors.As(err, &closeErr), "expected close error, got %v", err)
	assert.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)
	assert.Contains(t, closeErr.Text, "Unauthorized")
	assert.Equal(t, 0, f.registry.Count())
}

func TestServer_StoreFailureIsNotPolicyViolation(t *testing.T) {
	ts, f := newTestServer(t, nil)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "storefail"), nil)
	require.NoError(t, err)
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()

	var closeErr *websocket.CloseError
	require.True(t, errors.As(err, &closeErr), "expected close error, got %v", err)
	assert.Equal(t, websocket.CloseInternalServerErr, closeErr.Code)
	assert.NotContains(t, closeErr.Text, "Unauthorized")
	assert.Equal(t, 0, f.registry.Count())
}

func TestServer_SessionRoundTrip(t *testing.T) {
	ts, f := newTestServer(t, nil)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "good"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(models.ClientMessage{Type: models.ClientMessageTypeJoin, User: "alice"}))
	require.NoError(t, conn.WriteJSON(models.ClientMessage{Type: models.ClientMessageTypeHeartbeat}))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ack models.ServerMessage
	require.NoError(t, conn.ReadJSON(&ack))
	assert.Equal(t, models.ServerMessageTypeHeartbeatAck, ack.Type)
	assert.True(t, f.registry.Online("alice"))

	require.NoError(t, conn.WriteJSON(models.ClientMessage{Type: models.ClientMessageTypeMessage, ToUserID: "nobody", Text: "hi"}))
	var errFrame models.ServerMessage
	require.NoError(t, conn.ReadJSON(&errFrame))
	assert.Equal(t, models.ServerMessageTypeError, errFrame.Type)
	assert.Equal(t, "invalid_recipient", errFrame.Code)

	require.NoError(t, conn.WriteJSON(models.ClientMessage{Type: models.ClientMessageTypeLeave, User: "alice"}))
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)

	require.Eventually(t, func() bool { return !f.registry.Online("alice") }, time.Second, 10*time.Millisecond)
}

func TestServer_ShutdownClosesWithGoingAway(t *testing.T) {
	ts, f := newTestServer(t, nil)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "good"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return f.registry.Online("alice") }, time.Second, 10*time.Millisecond)
	f.hub.Shutdown()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}

func TestServer_OriginAllowlist(t *testing.T) {
	ts, _ := newTestServer(t, []string{"https://duet.example"})

	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts, "good"), header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	header.Set("Origin", "https://duet.example")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "good"), header)
	require.NoError(t, err)
	conn.Close()
}
