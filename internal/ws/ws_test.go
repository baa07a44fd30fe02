package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"messaging-service/internal/auth"
	"messaging-service/internal/clock"
	"messaging-service/internal/hub"
	"messaging-service/internal/messaging"
	"messaging-service/internal/models"
	"messaging-service/internal/ratelimit"
	"messaging-service/internal/repositories"
)

type testEnv struct {
	server *httptest.Server
	store  *repositories.MemoryStore
	hub    *hub.Hub
	jwt    *auth.JWT
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	clk := clock.Fake(time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC))
	store := repositories.NewMemoryStore(clk)
	h := hub.NewHub()
	limiter := ratelimit.New(clk, time.Minute, map[ratelimit.Kind]int{
		ratelimit.KindConnection: 5,
		ratelimit.KindMessage:    30,
		ratelimit.KindTyping:     60,
	})
	engine := messaging.NewEngine(store, h, limiter, clk, nil, nil, messaging.DefaultConfig())
	validator := auth.NewJWT("test-secret")

	handler := NewHandler(Deps{
		Engine:    engine,
		Validator: validator,
		Limiter:   limiter,
		IPLimiter: ratelimit.NewIPLimiter(1000, 1000),
		Origins:   NewOriginPolicy([]string{"https://app.example"}, nil, true),
		Clock:     clk,
	}, Config{MaxFrameBytes: 10 * 1024})

	router := gin.New()
	router.GET("/ws", handler.Handle)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return &testEnv{server: server, store: store, hub: h, jwt: validator}
}

func (e *testEnv) token(t *testing.T, userID int64) string {
	t.Helper()
	tok, err := e.jwt.Sign(models.Identity{UserID: userID, IsActive: true}, time.Hour)
	require.NoError(t, err)
	return tok
}

func (e *testEnv) dialRaw(t *testing.T, token string, header http.Header) (*websocket.Conn, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.server.URL, "http") + "/ws"
	if token != "" {
		url += "?token=" + token
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err == nil {
		t.Cleanup(func() { conn.Close() })
	}
	return conn, err
}

// connect dials as userID and consumes the connection acknowledgement.
func (e *testEnv) connect(t *testing.T, userID int64) *websocket.Conn {
	t.Helper()
	conn, err := e.dialRaw(t, e.token(t, userID), nil)
	require.NoError(t, err)
	ack := readEvent(t, conn)
	require.Equal(t, models.EventConnectionEstablished, ack["type"])
	require.Equal(t, float64(userID), ack["user_id"])
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var event map[string]any
	require.NoError(t, json.Unmarshal(data, &event))
	return event
}

func write(t *testing.T, conn *websocket.Conn, frame any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(frame))
}

func closeCode(t *testing.T, conn *websocket.Conn) int {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	var ce *websocket.CloseError
	require.True(t, errors.As(err, &ce), "expected close error, got %v", err)
	return ce.Code
}

// expectPong proves that nothing else was queued before the ping reply.
func expectPong(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	write(t, conn, map[string]string{"type": "ping"})
	assert.Equal(t, models.EventPong, readEvent(t, conn)["type"])
}

func (e *testEnv) waitMembers(t *testing.T, group string, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return e.hub.Members(group) == n }, 2*time.Second, 10*time.Millisecond)
}

func TestHandshakeRejections(t *testing.T) {
	env := newTestEnv(t)

	conn, err := env.dialRaw(t, env.token(t, 1), http.Header{"Origin": {"https://evil.example"}})
	require.NoError(t, err)
	assert.Equal(t, CloseForbiddenOrigin, closeCode(t, conn))

	conn, err = env.dialRaw(t, "", nil)
	require.NoError(t, err)
	assert.Equal(t, CloseUnauthorized, closeCode(t, conn))

	conn, err = env.dialRaw(t, "garbage", nil)
	require.NoError(t, err)
	assert.Equal(t, CloseUnauthorized, closeCode(t, conn))

	assert.Empty(t, env.hub.Groups())
}

func TestHandshakeAcceptsAllowedOrigin(t *testing.T) {
	env := newTestEnv(t)
	conn, err := env.dialRaw(t, env.token(t, 1), http.Header{"Origin": {"https://app.example"}})
	require.NoError(t, err)
	assert.Equal(t, models.EventConnectionEstablished, readEvent(t, conn)["type"])
	env.waitMembers(t, hub.UserGroup(1), 1)
}

func TestConnectionRateLimit(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 5; i++ {
		env.connect(t, 7)
	}
	conn, err := env.dialRaw(t, env.token(t, 7), nil)
	require.NoError(t, err)
	assert.Equal(t, CloseRateLimited, closeCode(t, conn))

	env.connect(t, 8)
}

func TestProtocolErrorsKeepConnectionOpen(t *testing.T) {
	env := newTestEnv(t)
	conn := env.connect(t, 1)

	big := `{"type":"ping","pad":"` + strings.Repeat("x", 11*1024) + `"}`
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(big)))
	event := readEvent(t, conn)
	assert.Equal(t, models.EventError, event["type"])
	assert.Equal(t, "Message too large", event["message"])

	for _, frame := range []string{`not json`, `[1,2]`, `{"no_type":true}`, `{"type":5}`, `{"type":"send_message","content":7}`} {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))
		event := readEvent(t, conn)
		assert.Equal(t, "Invalid message format", event["message"], frame)
	}

	write(t, conn, map[string]string{"type": "unknown_thing"})
	expectPong(t, conn)
}

func TestFrameAboveTransportCapClosesConnection(t *testing.T) {
	env := newTestEnv(t)
	conn := env.connect(t, 1)

	huge := strings.Repeat("x", int(hardReadLimit(10*1024))+1)
	_ = conn.WriteMessage(websocket.TextMessage, []byte(huge))
	assert.Equal(t, CloseFrameTooLarge, closeCode(t, conn))
	env.waitMembers(t, hub.UserGroup(1), 0)
}

func TestConversationFlow(t *testing.T) {
	env := newTestEnv(t)
	conv, _, err := env.store.GetOrCreateConversation(context.Background(), 1, 2, nil)
	require.NoError(t, err)

	alice := env.connect(t, 1)
	bob := env.connect(t, 2)

	write(t, alice, map[string]string{"type": "join_conversation", "conversation_id": conv.ID})
	joined := readEvent(t, alice)
	assert.Equal(t, models.EventJoinedConversation, joined["type"])
	assert.Equal(t, conv.ID, joined["conversation_id"])

	write(t, bob, map[string]string{"type": "send_message", "conversation_id": conv.ID, "content": "hi alice", "temp_id": "tmp-9"})

	got := map[string]map[string]any{}
	for i := 0; i < 2; i++ {
		event := readEvent(t, alice)
		got[event["type"].(string)] = event
	}
	require.Contains(t, got, models.EventNewMessage)
	require.Contains(t, got, models.EventNewMessageNotification)
	assert.Equal(t, "tmp-9", got[models.EventNewMessage]["temp_id"])
	assert.Equal(t, "hi alice", got[models.EventNewMessage]["message"].(map[string]any)["content"])

	// Bob never joined the group, so the ping reply is the next frame he sees.
	expectPong(t, bob)

	write(t, alice, map[string]string{"type": "leave_conversation", "conversation_id": conv.ID})
	assert.Equal(t, models.EventLeftConversation, readEvent(t, alice)["type"])
	write(t, alice, map[string]string{"type": "leave_conversation", "conversation_id": conv.ID})
	expectPong(t, alice)
}

func TestJoinDeniedSilently(t *testing.T) {
	env := newTestEnv(t)
	conv, _, err := env.store.GetOrCreateConversation(context.Background(), 1, 2, nil)
	require.NoError(t, err)

	mallory := env.connect(t, 3)
	write(t, mallory, map[string]string{"type": "join_conversation", "conversation_id": conv.ID})
	expectPong(t, mallory)
	assert.Zero(t, env.hub.Members(hub.ConversationGroup(conv.ID)))

	alice := env.connect(t, 1)
	write(t, alice, map[string]string{"type": "send_message", "conversation_id": conv.ID, "content": "private"})
	expectPong(t, alice)
	expectPong(t, mallory)
}

func TestCommandErrorsCarryTempID(t *testing.T) {
	env := newTestEnv(t)
	conv, _, err := env.store.GetOrCreateConversation(context.Background(), 1, 2, nil)
	require.NoError(t, err)

	outsider := env.connect(t, 3)
	write(t, outsider, map[string]string{"type": "send_message", "conversation_id": conv.ID, "content": "hi", "temp_id": "t-1"})
	event := readEvent(t, outsider)
	assert.Equal(t, models.EventError, event["type"])
	assert.Equal(t, "Access denied", event["message"])
	assert.Equal(t, "t-1", event["temp_id"])

	write(t, outsider, map[string]string{"type": "edit_message", "message_id": "missing", "content": "x"})
	assert.Equal(t, "Access denied", readEvent(t, outsider)["message"])
}

func TestTypingRequiresJoin(t *testing.T) {
	env := newTestEnv(t)
	conv, _, err := env.store.GetOrCreateConversation(context.Background(), 1, 2, nil)
	require.NoError(t, err)

	alice := env.connect(t, 1)
	bob := env.connect(t, 2)
	write(t, alice, map[string]string{"type": "join_conversation", "conversation_id": conv.ID})
	readEvent(t, alice)

	write(t, bob, map[string]any{"type": "typing", "conversation_id": conv.ID, "is_typing": true})
	expectPong(t, alice)

	write(t, bob, map[string]string{"type": "join_conversation", "conversation_id": conv.ID})
	readEvent(t, bob)
	write(t, bob, map[string]any{"type": "typing", "conversation_id": conv.ID, "is_typing": true})
	event := readEvent(t, alice)
	assert.Equal(t, models.EventTypingIndicator, event["type"])
	assert.Equal(t, true, event["is_typing"])
	expectPong(t, bob)
}

func TestRemoveMissingReactionRepliesToSender(t *testing.T) {
	env := newTestEnv(t)
	conv, _, err := env.store.GetOrCreateConversation(context.Background(), 1, 2, nil)
	require.NoError(t, err)
	msg, err := env.store.CreateMessage(context.Background(), models.Message{ID: "m1", ConversationID: conv.ID, SenderID: 1, Content: "hey"})
	require.NoError(t, err)

	bob := env.connect(t, 2)
	write(t, bob, map[string]string{"type": "remove_reaction", "message_id": msg.ID, "emoji": "👍"})
	event := readEvent(t, bob)
	assert.Equal(t, models.EventReactionRemoved, event["type"])
	assert.Equal(t, false, event["changed"])
}

func TestDisconnectReleasesGroups(t *testing.T) {
	env := newTestEnv(t)
	conv, _, err := env.store.GetOrCreateConversation(context.Background(), 1, 2, nil)
	require.NoError(t, err)

	alice := env.connect(t, 1)
	write(t, alice, map[string]string{"type": "join_conversation", "conversation_id": conv.ID})
	readEvent(t, alice)
	env.waitMembers(t, hub.ConversationGroup(conv.ID), 1)

	require.NoError(t, alice.Close())
	env.waitMembers(t, hub.ConversationGroup(conv.ID), 0)
	env.waitMembers(t, hub.UserGroup(1), 0)
}
