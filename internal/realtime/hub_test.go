package realtime

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type recordingMirror struct {
	mu     sync.Mutex
	events []string
}

func (m *recordingMirror) Mirror(event string, _ []byte) {
	m.mu.Lock()
	m.events = append(m.events, event)
	m.mu.Unlock()
}

func testClient(id string, buffer int) *Client {
	return &Client{ID: id, send: make(chan WSMessage, buffer)}
}

func drain(c *Client) []WSMessage {
	var out []WSMessage
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return out
			}
			out = append(out, msg)
		default:
			return out
		}
	}
}

func TestBroadcastReachesEveryClient(t *testing.T) {
	mirror := &recordingMirror{}
	h := NewHub(zaptest.NewLogger(t), mirror)
	a, b := testClient("a", 4), testClient("b", 4)
	h.Register(a)
	h.Register(b)

	h.Broadcast(EventActiveUsers, map[string]int{"count": 2})

	for _, c := range []*Client{a, b} {
		msgs := drain(c)
		require.Len(t, msgs, 1)
		assert.Equal(t, EventActiveUsers, msgs[0].Event)
		assert.JSONEq(t, `{"count":2}`, string(msgs[0].Data))
	}
	assert.Equal(t, []string{EventActiveUsers}, mirror.events)
}

func TestBroadcastExceptSkipsSender(t *testing.T) {
	h := NewHub(zaptest.NewLogger(t), nil)
	a, b := testClient("a", 4), testClient("b", 4)
	h.Register(a)
	h.Register(b)

	h.BroadcastExcept("a", EventUserJoined, PresencePayload{ParticipantID: "u"})

	assert.Empty(t, drain(a))
	assert.Len(t, drain(b), 1)
}

func TestSendToUnknownConnectionIsNoop(t *testing.T) {
	h := NewHub(zaptest.NewLogger(t), nil)
	a := testClient("a", 4)
	h.Register(a)

	h.SendTo("missing", EventError, ErrorPayload{Message: "x"})
	h.SendTo("a", EventError, ErrorPayload{Message: "x", Code: "not_found"})

	msgs := drain(a)
	require.Len(t, msgs, 1)
	var p ErrorPayload
	require.NoError(t, json.Unmarshal(msgs[0].Data, &p))
	assert.Equal(t, "not_found", p.Code)
}

func TestRoomBroadcastOnlyReachesMembers(t *testing.T) {
	h := NewHub(zaptest.NewLogger(t), nil)
	a, b := testClient("a", 4), testClient("b", 4)
	h.Register(a)
	h.Register(b)
	require.True(t, h.JoinRoom("a", "group-1"))
	assert.False(t, h.JoinRoom("missing", "group-1"))

	h.BroadcastToRoom("group-1", EventNewMessage, NewMessagePayload{Text: "hi"})

	assert.Len(t, drain(a), 1)
	assert.Empty(t, drain(b))
	assert.True(t, h.InRoom("a", "group-1"))
}

func TestSlowClientDoesNotBlockOthers(t *testing.T) {
	h := NewHub(zaptest.NewLogger(t), nil)
	slow, fast := testClient("slow", 1), testClient("fast", 8)
	h.Register(slow)
	h.Register(fast)

	for i := 0; i < 5; i++ {
		h.Broadcast(EventVoteUpdate, map[string]int{"n": i})
	}

	assert.Len(t, drain(slow), 1)
	assert.Len(t, drain(fast), 5)
}

func TestPerClientOrderIsPreserved(t *testing.T) {
	h := NewHub(zaptest.NewLogger(t), nil)
	a := testClient("a", 16)
	h.Register(a)

	events := []string{EventPollStarted, EventVoteUpdate, EventVoteUpdate, EventPollEnded}
	for _, e := range events {
		h.Broadcast(e, nil)
	}

	msgs := drain(a)
	require.Len(t, msgs, len(events))
	for i, e := range events {
		assert.Equal(t, e, msgs[i].Event)
	}
}

func TestDisconnectFlushesThenCloses(t *testing.T) {
	h := NewHub(zaptest.NewLogger(t), nil)
	a := testClient("a", 4)
	h.Register(a)
	require.True(t, h.JoinRoom("a", GeneralRoom))

	h.SendTo("a", EventKickedOut, KickedOutPayload{Message: "bye"})
	h.Disconnect("a")
	h.Disconnect("a")

	msg, ok := <-a.send
	require.True(t, ok)
	assert.Equal(t, EventKickedOut, msg.Event)
	_, ok = <-a.send
	assert.False(t, ok)

	assert.Equal(t, 0, h.Count())
	assert.False(t, h.InRoom("a", GeneralRoom))
	h.Broadcast(EventActiveUsers, nil)
}

func TestCloseDisconnectsAll(t *testing.T) {
	h := NewHub(zaptest.NewLogger(t), nil)
	h.Register(testClient("a", 1))
	h.Register(testClient("b", 1))
	h.Close()
	assert.Equal(t, 0, h.Count())
}
