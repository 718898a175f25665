// Package events provides real-time event delivery via WebSocket and
// PostgreSQL NOTIFY/LISTEN for cross-pod distribution.
//
// Every event is scoped to one user and published on that user's channel.
// A WebSocket client authenticates, is auto-subscribed to its own channel,
// and receives everything that happens to its inbox: new messages landing
// from sync or webhooks, priority corrections, state changes, sync
// progress, and snoozes coming due.
//
// Persistent events (new_message, priority_updated) are stored in the
// events table and broadcast in the same transaction, so reconnecting
// clients can replay what they missed by id. Transient events
// (message_updated, sync_status) are NOTIFY-only: they describe state the
// client can refetch, so losing them on disconnect is harmless.
package events

// Persistent event types (stored in DB + NOTIFY).
const (
	EventTypeNewMessage      = "new_message"
	EventTypePriorityUpdated = "priority_updated"
)

// Transient event types (NOTIFY only, no DB persistence).
const (
	EventTypeMessageUpdated = "message_updated"
	EventTypeSyncStatus     = "sync_status"
)

// UserChannel returns the channel name carrying one user's events.
// Format: "user:{user_id}"
func UserChannel(userID string) string {
	return "user:" + userID
}

// ClientMessage is the JSON structure for client → server WebSocket messages.
type ClientMessage struct {
	Action      string `json:"action"` // "mark_read", "snooze", "catchup", "ping"
	MessageID   string `json:"message_id,omitempty"`
	Minutes     int    `json:"minutes,omitempty"`       // snooze duration
	LastEventID *int   `json:"last_event_id,omitempty"` // for catchup
}
