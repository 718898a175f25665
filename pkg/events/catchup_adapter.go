package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/unifyinbox/unifyinbox/pkg/store"
)

// StoreCatchupAdapter wraps the event store to implement CatchupQuerier.
type StoreCatchupAdapter struct {
	store *store.Store
}

// NewStoreCatchupAdapter creates a CatchupQuerier backed by the store.
func NewStoreCatchupAdapter(s *store.Store) *StoreCatchupAdapter {
	return &StoreCatchupAdapter{store: s}
}

// GetCatchupEvents queries events since sinceID up to limit for the catchup
// mechanism.
func (a *StoreCatchupAdapter) GetCatchupEvents(ctx context.Context, channel string, sinceID, limit int) ([]CatchupEvent, error) {
	rows, err := a.store.EventsSince(ctx, channel, sinceID, limit)
	if err != nil {
		return nil, err
	}

	result := make([]CatchupEvent, len(rows))
	for i, row := range rows {
		var payload map[string]any
		if err := json.Unmarshal(row.Payload, &payload); err != nil {
			return nil, fmt.Errorf("failed to decode event %d payload: %w", row.ID, err)
		}
		result[i] = CatchupEvent{ID: row.ID, Payload: payload}
	}
	return result, nil
}
