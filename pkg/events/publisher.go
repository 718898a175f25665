package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// EventPublisher publishes inbox events for WebSocket delivery.
// Persistent events are stored in the events table then broadcast via NOTIFY
// in the same transaction. Transient events are broadcast via NOTIFY only.
type EventPublisher struct {
	db *sql.DB
}

// NewEventPublisher creates a new EventPublisher.
// The db parameter should be the *sql.DB from database.Client.DB().
func NewEventPublisher(db *sql.DB) *EventPublisher {
	return &EventPublisher{db: db}
}

// PublishNewMessage persists and broadcasts a new_message event on the
// user's channel.
func (p *EventPublisher) PublishNewMessage(ctx context.Context, payload NewMessagePayload) error {
	payload.Type = EventTypeNewMessage
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal NewMessagePayload: %w", err)
	}
	return p.persistAndNotify(ctx, UserChannel(payload.UserID), payloadJSON)
}

// PublishPriorityUpdated persists and broadcasts a priority_updated event.
func (p *EventPublisher) PublishPriorityUpdated(ctx context.Context, payload PriorityUpdatedPayload) error {
	payload.Type = EventTypePriorityUpdated
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal PriorityUpdatedPayload: %w", err)
	}
	return p.persistAndNotify(ctx, UserChannel(payload.UserID), payloadJSON)
}

// PublishMessageUpdated broadcasts a message_updated transient event (no DB
// persistence). State changes are refetchable, so losing one on disconnect
// is harmless.
func (p *EventPublisher) PublishMessageUpdated(ctx context.Context, payload MessageUpdatedPayload) error {
	payload.Type = EventTypeMessageUpdated
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal MessageUpdatedPayload: %w", err)
	}
	return p.notifyOnly(ctx, UserChannel(payload.UserID), payloadJSON)
}

// PublishSyncStatus broadcasts a sync_status transient event (no DB
// persistence).
func (p *EventPublisher) PublishSyncStatus(ctx context.Context, payload SyncStatusPayload) error {
	payload.Type = EventTypeSyncStatus
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal SyncStatusPayload: %w", err)
	}
	return p.notifyOnly(ctx, UserChannel(payload.UserID), payloadJSON)
}

// --- Internal core methods ---

// persistAndNotify persists a pre-marshaled event to the database and
// broadcasts via NOTIFY in a single transaction (pg_notify is transactional,
// held until COMMIT).
func (p *EventPublisher) persistAndNotify(ctx context.Context, channel string, payloadJSON []byte) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var eventID int64
	err = tx.QueryRowContext(ctx,
		`INSERT INTO events (channel, payload, created_at) VALUES ($1, $2, $3) RETURNING id`,
		channel, payloadJSON, time.Now(),
	).Scan(&eventID)
	if err != nil {
		return fmt.Errorf("failed to persist event: %w", err)
	}

	// The NOTIFY payload carries db_event_id so reconnecting clients can
	// catch up from their last seen position.
	notifyPayload, err := injectDBEventIDAndTruncate(payloadJSON, eventID)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, "SELECT pg_notify($1, $2)", channel, notifyPayload)
	if err != nil {
		return fmt.Errorf("pg_notify failed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit event transaction: %w", err)
	}
	return nil
}

// notifyOnly broadcasts a pre-marshaled event via NOTIFY without persisting.
func (p *EventPublisher) notifyOnly(ctx context.Context, channel string, payloadJSON []byte) error {
	notifyPayload, err := truncateIfNeeded(string(payloadJSON))
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, "SELECT pg_notify($1, $2)", channel, notifyPayload)
	if err != nil {
		return fmt.Errorf("pg_notify failed: %w", err)
	}
	return nil
}

// --- Internal helpers ---

// injectDBEventIDAndTruncate adds db_event_id to the JSON payload for NOTIFY
// delivery and applies truncation if the result exceeds PostgreSQL's limit.
func injectDBEventIDAndTruncate(payloadJSON []byte, dbEventID int64) (string, error) {
	var m map[string]any
	if err := json.Unmarshal(payloadJSON, &m); err != nil {
		return "", fmt.Errorf("failed to unmarshal payload for db_event_id injection: %w", err)
	}
	m["db_event_id"] = dbEventID

	enrichedBytes, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to marshal enriched NOTIFY payload: %w", err)
	}
	return truncateIfNeeded(string(enrichedBytes))
}

// truncateIfNeeded returns the payload string as-is if it fits within
// PostgreSQL's 8000-byte NOTIFY limit, otherwise returns a minimal
// truncation envelope with only routing fields.
func truncateIfNeeded(payloadStr string) (string, error) {
	if len(payloadStr) <= 7900 {
		return payloadStr, nil
	}
	return buildTruncatedPayload([]byte(payloadStr))
}

// buildTruncatedPayload creates a minimal truncation envelope carrying only
// the routing fields the client needs to fetch the full record over REST.
func buildTruncatedPayload(payloadBytes []byte) (string, error) {
	var routing struct {
		Type      string `json:"type"`
		MessageID string `json:"id"`
		UserID    string `json:"user_id"`
		DBEventID *int64 `json:"db_event_id,omitempty"`
	}
	if err := json.Unmarshal(payloadBytes, &routing); err != nil {
		return "", fmt.Errorf("failed to extract routing fields for truncation: %w", err)
	}

	truncated := map[string]any{
		"type":      routing.Type,
		"id":        routing.MessageID,
		"user_id":   routing.UserID,
		"truncated": true,
	}
	if routing.DBEventID != nil {
		truncated["db_event_id"] = *routing.DBEventID
	}

	truncBytes, err := json.Marshal(truncated)
	if err != nil {
		return "", fmt.Errorf("failed to marshal truncated payload: %w", err)
	}
	return string(truncBytes), nil
}
