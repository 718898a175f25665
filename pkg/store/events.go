package store

import (
	"context"
	"encoding/json"
	"fmt"
)

// EventRow is one persisted WebSocket event.
type EventRow struct {
	ID      int             `db:"id"`
	Channel string          `db:"channel"`
	Payload json.RawMessage `db:"payload"`
}

// EventsSince returns up to limit events on a channel with id > sinceID,
// oldest first. Backs the WebSocket catchup replay.
func (s *Store) EventsSince(ctx context.Context, channel string, sinceID, limit int) ([]EventRow, error) {
	var rows []EventRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, channel, payload FROM events
		 WHERE channel = $1 AND id > $2
		 ORDER BY id ASC
		 LIMIT $3`,
		channel, sinceID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	return rows, nil
}

// PruneEvents deletes events older than the retention window, returning the
// number of rows removed.
func (s *Store) PruneEvents(ctx context.Context, retentionHours int) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM events WHERE created_at < now() - make_interval(hours => $1)`,
		retentionHours)
	if err != nil {
		return 0, fmt.Errorf("failed to prune events: %w", err)
	}
	return res.RowsAffected()
}
