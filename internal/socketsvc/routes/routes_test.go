package routes

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avvvet/gameview-services/internal/socketsvc/handlers"
	"github.com/avvvet/gameview-services/internal/socketsvc/ws"
)

func newGateway(t *testing.T) (*httptest.Server, *ws.Ws, string) {
	t.Helper()
	hub := ws.NewWs()
	auth := NewAuth("secret")
	_, token, err := auth.Encode(map[string]interface{}{"service_id": "test"})
	require.NoError(t, err)

	r := chi.NewRouter()
	SetRoutes(r, handlers.NewHandler(hub, func(*http.Request) bool { return true }), auth)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, hub, token
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/ws"
}

func TestHealthIsPublic(t *testing.T) {
	srv, _, _ := newGateway(t)

	resp, err := http.Get(srv.URL + "/v1/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSocketRequiresToken(t *testing.T) {
	srv, _, _ := newGateway(t)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSocketReceivesSubscribedFrames(t *testing.T) {
	srv, hub, token := newGateway(t)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv)+"?jwt="+token, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(ws.ClientMessage{Type: ws.MsgSubscribe, Destination: "/topic/admin/notifications"}))
	require.Eventually(t, func() bool {
		return len(hub.GetTopicSockets("/topic/admin/notifications")) == 1
	}, time.Second, 10*time.Millisecond)

	assert.Equal(t, 1, hub.Deliver("/topic/admin/notifications", []byte(`{"type":"GAME_ERROR"}`)))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, frame, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"GAME_ERROR"}`, string(frame))
}

func TestSocketRejectsBadDestination(t *testing.T) {
	srv, _, token := newGateway(t)

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv), header)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(ws.ClientMessage{Type: ws.MsgSubscribe, Destination: "/queue/x"}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	var reply map[string]string
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, "error", reply["type"])
}
