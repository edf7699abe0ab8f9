package session

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/aura-classroom/backend/internal/chat"
	"github.com/aura-classroom/backend/internal/models"
	"github.com/aura-classroom/backend/internal/polls"
	"github.com/aura-classroom/backend/internal/presence"
	"github.com/aura-classroom/backend/internal/realtime"
)

type liveSession struct {
	hub      *realtime.Hub
	registry *presence.Registry
	url      string
}

// newLiveSession serves /ws with the real hub and supervisor.
func newLiveSession(t *testing.T) *liveSession {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zaptest.NewLogger(t)
	hub := realtime.NewHub(logger, nil)
	registry := presence.NewRegistry()
	users := &fakeUsers{users: map[string]models.User{
		"t1":    {ID: "t1", DisplayName: "Ms. T", Role: models.RoleTeacher},
		"alice": {ID: "alice", DisplayName: "Alice", Role: models.RoleStudent},
	}}
	pollOpts := polls.DefaultOptions()
	engine := polls.NewEngine(nil, hub, nil, pollOpts, logger)
	relay := chat.NewRelay(nil, hub, chat.DefaultOptions(), logger)
	sup := NewSupervisor(registry, engine, relay, hub,
		NewResolver(users, pollOpts.StoreTimeout, logger), nil,
		Options{StoreTimeout: pollOpts.StoreTimeout}, logger)

	validate := func(token string) (string, string, string, error) {
		if token != "teacher-token" {
			return "", "", "", errors.New("bad token")
		}
		return "t1", "Ms. T", "teacher", nil
	}
	router := gin.New()
	router.GET("/ws", realtime.ServeWs(hub, sup, validate, logger))
	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		srv.Close()
		hub.Close()
		engine.Shutdown()
	})
	return &liveSession{hub: hub, registry: registry, url: "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"}
}

func (l *liveSession) dial(t *testing.T, query string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(l.url+query, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, event string, data interface{}) {
	t.Helper()
	msg := realtime.WSMessage{Event: event}
	if data != nil {
		raw, err := json.Marshal(data)
		require.NoError(t, err)
		msg.Data = raw
	}
	require.NoError(t, conn.WriteJSON(msg))
}

// readUntil skips other traffic until event arrives.
func readUntil(t *testing.T, conn *websocket.Conn, event string) json.RawMessage {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var msg realtime.WSMessage
		require.NoError(t, conn.ReadJSON(&msg), "waiting for %s", event)
		if msg.Event == event {
			return msg.Data
		}
	}
}

// requireClosed reads until the server closes the socket.
func requireClosed(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var msg realtime.WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			var closeErr *websocket.CloseError
			assert.ErrorAs(t, err, &closeErr, "expected a close, got %v", err)
			return
		}
	}
}

func joinAs(t *testing.T, conn *websocket.Conn, id, name string) realtime.SessionStatePayload {
	t.Helper()
	send(t, conn, realtime.InJoin, map[string]string{"id": id, "displayName": name, "role": "student"})
	var state realtime.SessionStatePayload
	require.NoError(t, json.Unmarshal(readUntil(t, conn, realtime.EventSessionState), &state))
	return state
}

func TestWebSocketJoinEvictAndKick(t *testing.T) {
	l := newLiveSession(t)

	teacher := l.dial(t, "?token=teacher-token")
	send(t, teacher, realtime.InJoin, nil)
	var state realtime.SessionStatePayload
	require.NoError(t, json.Unmarshal(readUntil(t, teacher, realtime.EventSessionState), &state))
	assert.Equal(t, models.RoleTeacher, state.Participant.Role)

	first := l.dial(t, "")
	joinAs(t, first, "alice", "Alice")
	var roster []map[string]interface{}
	require.NoError(t, json.Unmarshal(readUntil(t, teacher, realtime.EventActiveUsers), &roster))
	require.Len(t, roster, 2)
	for _, row := range roster {
		assert.NotContains(t, row, "connectionId")
	}

	second := l.dial(t, "")
	joinAs(t, second, "alice", "Alice")
	requireClosed(t, first)

	send(t, teacher, realtime.InKick, map[string]string{"participantId": "alice"})
	var kicked realtime.KickedOutPayload
	require.NoError(t, json.Unmarshal(readUntil(t, second, realtime.EventKickedOut), &kicked))
	assert.Equal(t, kickedMessage, kicked.Message)
	requireClosed(t, second)

	var notice realtime.NewMessagePayload
	require.NoError(t, json.Unmarshal(readUntil(t, teacher, realtime.EventNewMessage), &notice))
	assert.Equal(t, "Alice has been removed from the session by Ms. T", notice.Text)

	require.Eventually(t, func() bool { return l.hub.Count() == 1 }, 2*time.Second, 10*time.Millisecond)
	_, ok := l.registry.FindByParticipantID("alice")
	assert.False(t, ok)
	assert.Equal(t, 1, l.registry.Count())
}

func TestWebSocketTeacherClaimWithoutToken(t *testing.T) {
	l := newLiveSession(t)
	conn := l.dial(t, "")

	send(t, conn, realtime.InJoin, map[string]string{"id": "t1", "displayName": "Ms. T", "role": "teacher"})
	var errPayload realtime.ErrorPayload
	require.NoError(t, json.Unmarshal(readUntil(t, conn, realtime.EventError), &errPayload))
	assert.Equal(t, "unauthenticated", errPayload.Code)
	assert.Equal(t, 0, l.registry.Count())
}
