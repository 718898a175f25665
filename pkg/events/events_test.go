package events

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unifyinbox/unifyinbox/pkg/models"
)

func TestUserChannel(t *testing.T) {
	assert.Equal(t, "user:abc-123", UserChannel("abc-123"))
}

func TestNewMessageFrom(t *testing.T) {
	msg := &models.Message{
		ID:            "m1",
		UserID:        "u1",
		Platform:      models.PlatformSlack,
		ThreadID:      "C42:170.1",
		SenderName:    "Alice",
		Content:       strings.Repeat("x", 500),
		PriorityScore: 0.725,
		PriorityLabel: models.LabelAction,
	}
	payload := NewMessageFrom(msg)
	assert.Equal(t, EventTypeNewMessage, payload.Type)
	assert.Equal(t, "m1", payload.MessageID)
	assert.Len(t, payload.Preview, previewLength)
	assert.Equal(t, "action", payload.PriorityLabel)
	assert.False(t, payload.Unsnooze)
}

func TestUnsnoozeFrom(t *testing.T) {
	msg := &models.Message{
		ID:            "m1",
		UserID:        "u1",
		Platform:      models.PlatformGmail,
		PriorityScore: 0.4,
		PriorityLabel: models.LabelFYI,
	}
	payload := UnsnoozeFrom(msg)
	assert.True(t, payload.Unsnooze)
	assert.Empty(t, payload.Preview)

	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"unsnooze":true`)
}

func TestInjectDBEventID(t *testing.T) {
	out, err := injectDBEventIDAndTruncate([]byte(`{"type":"new_message","id":"m1","user_id":"u1"}`), 42)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &m))
	assert.Equal(t, float64(42), m["db_event_id"])
	assert.Equal(t, "new_message", m["type"])
}

func TestTruncateIfNeeded(t *testing.T) {
	small := `{"type":"new_message","id":"m1","user_id":"u1"}`
	out, err := truncateIfNeeded(small)
	require.NoError(t, err)
	assert.Equal(t, small, out)

	big, err := json.Marshal(map[string]any{
		"type":    "new_message",
		"id":      "m1",
		"user_id": "u1",
		"preview": strings.Repeat("x", 9000),
	})
	require.NoError(t, err)

	out, err = truncateIfNeeded(string(big))
	require.NoError(t, err)
	assert.Less(t, len(out), 7900)

	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &m))
	assert.Equal(t, true, m["truncated"])
	assert.Equal(t, "m1", m["id"])
	assert.Equal(t, "u1", m["user_id"])
}

// recordingActor records WebSocket-initiated actions.
type recordingActor struct {
	mu       sync.Mutex
	markRead []string
	snoozed  []string
}

func (a *recordingActor) MarkRead(_ context.Context, userID, messageID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.markRead = append(a.markRead, userID+"/"+messageID)
	return nil
}

func (a *recordingActor) Snooze(_ context.Context, userID, messageID string, _ time.Time) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.snoozed = append(a.snoozed, userID+"/"+messageID)
	return nil
}

// dialManager upgrades a test connection handled by the manager as userID.
func dialManager(t *testing.T, m *ConnectionManager, userID string) *websocket.Conn {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		m.HandleConnection(r.Context(), conn, userID)
	}))
	t.Cleanup(server.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(server.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	return m
}

func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, data))
}

func TestConnectionAutoSubscribesToUserChannel(t *testing.T) {
	m := NewConnectionManager(nil, nil, time.Second)
	conn := dialManager(t, m, "u1")

	established := readJSON(t, conn)
	assert.Equal(t, "connection.established", established["type"])
	assert.Equal(t, 1, m.subscriberCount(UserChannel("u1")))

	// Broadcasts on the user channel reach the connection unprompted.
	m.Broadcast(UserChannel("u1"), []byte(`{"type":"new_message","id":"m1"}`))
	event := readJSON(t, conn)
	assert.Equal(t, "new_message", event["type"])
	assert.Equal(t, "m1", event["id"])
}

func TestBroadcastDoesNotCrossUsers(t *testing.T) {
	m := NewConnectionManager(nil, nil, time.Second)
	conn1 := dialManager(t, m, "u1")
	conn2 := dialManager(t, m, "u2")
	readJSON(t, conn1)
	readJSON(t, conn2)

	m.Broadcast(UserChannel("u2"), []byte(`{"type":"new_message","id":"m-u2"}`))

	event := readJSON(t, conn2)
	assert.Equal(t, "m-u2", event["id"])

	// u1 sees only its ping response, not u2's event.
	writeJSON(t, conn1, ClientMessage{Action: "ping"})
	next := readJSON(t, conn1)
	assert.Equal(t, "pong", next["type"])
}

func TestMarkReadAction(t *testing.T) {
	actor := &recordingActor{}
	m := NewConnectionManager(nil, actor, time.Second)
	conn := dialManager(t, m, "u1")
	readJSON(t, conn)

	writeJSON(t, conn, ClientMessage{Action: "mark_read", MessageID: "m1"})
	ack := readJSON(t, conn)
	assert.Equal(t, "action.confirmed", ack["type"])
	assert.Equal(t, "mark_read", ack["action"])

	actor.mu.Lock()
	defer actor.mu.Unlock()
	assert.Equal(t, []string{"u1/m1"}, actor.markRead)
}

func TestSnoozeActionDefaultsDuration(t *testing.T) {
	actor := &recordingActor{}
	m := NewConnectionManager(nil, actor, time.Second)
	conn := dialManager(t, m, "u1")
	readJSON(t, conn)

	writeJSON(t, conn, ClientMessage{Action: "snooze", MessageID: "m2"})
	ack := readJSON(t, conn)
	assert.Equal(t, "action.confirmed", ack["type"])

	actor.mu.Lock()
	defer actor.mu.Unlock()
	assert.Equal(t, []string{"u1/m2"}, actor.snoozed)
}

func TestActionWithoutMessageIDErrors(t *testing.T) {
	m := NewConnectionManager(nil, &recordingActor{}, time.Second)
	conn := dialManager(t, m, "u1")
	readJSON(t, conn)

	writeJSON(t, conn, ClientMessage{Action: "mark_read"})
	ack := readJSON(t, conn)
	assert.Equal(t, "action.error", ack["type"])
}

func TestUnknownActionErrors(t *testing.T) {
	m := NewConnectionManager(nil, nil, time.Second)
	conn := dialManager(t, m, "u1")
	readJSON(t, conn)

	writeJSON(t, conn, ClientMessage{Action: "teleport"})
	ack := readJSON(t, conn)
	assert.Equal(t, "error", ack["type"])
}

// staticCatchup returns canned catchup events.
type staticCatchup struct {
	events []CatchupEvent
}

func (s *staticCatchup) GetCatchupEvents(_ context.Context, _ string, sinceID, limit int) ([]CatchupEvent, error) {
	out := make([]CatchupEvent, 0, limit)
	for _, e := range s.events {
		if e.ID > sinceID && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

func TestCatchupReplaysMissedEvents(t *testing.T) {
	querier := &staticCatchup{events: []CatchupEvent{
		{ID: 1, Payload: map[string]any{"type": "new_message", "id": "m1"}},
		{ID: 2, Payload: map[string]any{"type": "new_message", "id": "m2"}},
		{ID: 3, Payload: map[string]any{"type": "new_message", "id": "m3"}},
	}}
	m := NewConnectionManager(querier, nil, time.Second)
	conn := dialManager(t, m, "u1")
	readJSON(t, conn)

	since := 1
	writeJSON(t, conn, ClientMessage{Action: "catchup", LastEventID: &since})

	first := readJSON(t, conn)
	assert.Equal(t, "m2", first["id"])
	assert.Equal(t, float64(2), first["db_event_id"])
	second := readJSON(t, conn)
	assert.Equal(t, "m3", second["id"])
}

func TestDisconnectRemovesSubscription(t *testing.T) {
	m := NewConnectionManager(nil, nil, time.Second)
	conn := dialManager(t, m, "u1")
	readJSON(t, conn)
	require.Equal(t, 1, m.ActiveConnections())

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, ""))

	require.Eventually(t, func() bool {
		return m.ActiveConnections() == 0 && m.subscriberCount(UserChannel("u1")) == 0
	}, 2*time.Second, 10*time.Millisecond)
}
