package server

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

	"gridspace/protocol"
)

const testSecret = "test-secret"

type testServer struct {
	*Server
	http  *httptest.Server
	wsURL string
}

func newTestServer(t *testing.T, mutate func(*Config)) *testServer {
	t.Helper()
	cfg := DefaultConfig()
	cfg.JWTSecret = testSecret
	cfg.DefaultDims = protocol.Dimensions{Width: 3, Height: 3}
	if mutate != nil {
		mutate(&cfg)
	}
	auth, err := NewJWTAuthenticator(cfg.JWTSecret)
	require.NoError(t, err)
	registry := NewRegistry(&StaticRoomConfig{Default: cfg.DefaultDims}, cfg.RoomOptions())

	s := NewServer(context.Background(), cfg, registry, auth)
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.HandleWS)
	mux.HandleFunc("/admin/rooms", s.HandleAdminRooms)
	mux.HandleFunc("/metrics", s.HandleMetrics)
	hs := httptest.NewServer(mux)
	t.Cleanup(func() {
		s.Shutdown()
		hs.Close()
	})
	return &testServer{Server: s, http: hs, wsURL: "ws" + strings.TrimPrefix(hs.URL, "http") + "/ws"}
}

func (ts *testServer) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(ts.wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func token(t *testing.T, user string) string {
	t.Helper()
	tok, err := IssueToken(testSecret, user, time.Hour)
	require.NoError(t, err)
	return tok
}

func writeRequest(t *testing.T, conn *websocket.Conn, req protocol.Request) {
	t.Helper()
	data, err := protocol.EncodeRequest(req)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func readEvent(t *testing.T, conn *websocket.Conn) protocol.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	ev, err := protocol.DecodeEvent(data)
	require.NoError(t, err)
	return ev
}

func TestWebSocketSession(t *testing.T) {
	ts := newTestServer(t, nil)
	connA := ts.dial(t)
	connB := ts.dial(t)

	writeRequest(t, connA, protocol.JoinRequest{RoomID: "R", IdentityToken: token(t, "A"), DisplayName: "alice"})
	joinedA, ok := readEvent(t, connA).(protocol.SpaceJoined)
	require.True(t, ok)
	assert.Equal(t, protocol.Position{X: 0, Y: 0}, joinedA.Spawn)
	assert.Equal(t, "A", joinedA.UserID)
	assert.Empty(t, joinedA.Users)
	assert.Empty(t, joinedA.Messages)

	// 重名：连接保持，可以换名重试
	writeRequest(t, connB, protocol.JoinRequest{RoomID: "R", IdentityToken: token(t, "B"), DisplayName: "Alice"})
	assert.Equal(t, protocol.Error{Code: protocol.CodeNameConflict, Message: `display name already in use: "Alice"`}, readEvent(t, connB))

	writeRequest(t, connB, protocol.JoinRequest{RoomID: "R", IdentityToken: token(t, "B"), DisplayName: "bob"})
	joinedB, ok := readEvent(t, connB).(protocol.SpaceJoined)
	require.True(t, ok)
	assert.Equal(t, protocol.Position{X: 1, Y: 0}, joinedB.Spawn)
	assert.Equal(t, []protocol.UserInfo{{UserID: "A", X: 0, Y: 0, DisplayName: "alice"}}, joinedB.Users)
	assert.Equal(t, protocol.UserJoined{UserID: "B", X: 1, Y: 0, DisplayName: "bob"}, readEvent(t, connA))

	writeRequest(t, connA, protocol.MoveRequest{X: 2, Y: 0})
	assert.Equal(t, protocol.MovementRejected{X: 0, Y: 0}, readEvent(t, connA))

	writeRequest(t, connA, protocol.MoveRequest{X: 1, Y: 0})
	// B 的下一条就是 movement：被拒绝的移动没有发给 B
	assert.Equal(t, protocol.Movement{UserID: "A", X: 1, Y: 0}, readEvent(t, connB))

	writeRequest(t, connA, protocol.ChatRequest{Text: "hi"})
	for _, conn := range []*websocket.Conn{connA, connB} {
		chat, ok := readEvent(t, conn).(protocol.ChatEntry)
		require.True(t, ok)
		assert.Equal(t, "A", chat.UserID)
		assert.Equal(t, "hi", chat.Message)
		assert.Equal(t, uint64(1), chat.Sequence)
	}

	writeRequest(t, connA, protocol.JoinRequest{RoomID: "other", IdentityToken: token(t, "A"), DisplayName: "alice"})
	assert.Equal(t, protocol.CodeAlreadyJoined, readEvent(t, connA).(protocol.Error).Code)

	require.NoError(t, connB.Close())
	assert.Equal(t, protocol.UserLeft{UserID: "B"}, readEvent(t, connA))
}

func TestWebSocketUnauthorizedIsClosed(t *testing.T) {
	ts := newTestServer(t, nil)
	conn := ts.dial(t)

	writeRequest(t, conn, protocol.JoinRequest{RoomID: "R", IdentityToken: "forged", DisplayName: "mallory"})
	assert.Equal(t, protocol.CodeUnauthorized, readEvent(t, conn).(protocol.Error).Code)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)

	_, ok := ts.Registry().Lookup("R")
	assert.False(t, ok, "unauthorized join must not create the room")
}

func TestWebSocketRequestsBeforeJoin(t *testing.T) {
	ts := newTestServer(t, nil)
	conn := ts.dial(t)

	writeRequest(t, conn, protocol.MoveRequest{X: 1, Y: 0})
	assert.Equal(t, protocol.CodeNotJoined, readEvent(t, conn).(protocol.Error).Code)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"teleport","payload":{}}`)))
	assert.Equal(t, protocol.CodeBadRequest, readEvent(t, conn).(protocol.Error).Code)

	// 连接仍可用
	writeRequest(t, conn, protocol.JoinRequest{RoomID: "R", IdentityToken: token(t, "A"), DisplayName: "alice"})
	_, ok := readEvent(t, conn).(protocol.SpaceJoined)
	assert.True(t, ok)
}

func TestWebSocketIdleConnectionLeaves(t *testing.T) {
	ts := newTestServer(t, func(c *Config) { c.IdleTimeout = 150 * time.Millisecond })
	conn := ts.dial(t)

	writeRequest(t, conn, protocol.JoinRequest{RoomID: "R", IdentityToken: token(t, "A"), DisplayName: "alice"})
	_, ok := readEvent(t, conn).(protocol.SpaceJoined)
	require.True(t, ok)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err, "server should drop the idle connection")

	require.Eventually(t, func() bool {
		_, ok := ts.Registry().Lookup("R")
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestAdminRooms(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, err := http.Post(ts.http.URL+"/admin/rooms", "application/json", strings.NewReader(`{"id":"hall","width":6,"height":4}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, err = http.Post(ts.http.URL+"/admin/rooms", "application/json", strings.NewReader(`{"id":"hall","width":1,"height":1}`))
	require.NoError(t, err)
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["created"])
	assert.EqualValues(t, 6, body["width"])

	conn := ts.dial(t)
	writeRequest(t, conn, protocol.JoinRequest{RoomID: "hall", IdentityToken: token(t, "A"), DisplayName: "alice"})
	joined, ok := readEvent(t, conn).(protocol.SpaceJoined)
	require.True(t, ok)
	assert.Equal(t, 6, joined.Width)
	assert.Equal(t, 4, joined.Height)

	resp, err = http.Get(ts.http.URL + "/admin/rooms")
	require.NoError(t, err)
	var list struct {
		Rooms []RoomStats `json:"rooms"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	resp.Body.Close()
	require.Len(t, list.Rooms, 1)
	assert.Equal(t, "hall", list.Rooms[0].ID)
	assert.Equal(t, 1, list.Rooms[0].Members)

	resp, err = http.Get(ts.http.URL + "/metrics")
	require.NoError(t, err)
	var metrics map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&metrics))
	resp.Body.Close()
	assert.Contains(t, metrics, "registry")
	assert.Contains(t, metrics, "rooms")
}
