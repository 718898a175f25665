package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/unifyinbox/unifyinbox/pkg/models"
)

// staleLeaseAfter is how long a syncing lease may be held before another
// worker may reclaim it. Covers worker crashes mid-sync.
const staleLeaseAfter = 10 * time.Minute

// EnsureSyncState creates the (user, platform) sync row if missing.
func (s *Store) EnsureSyncState(ctx context.Context, userID string, platform models.Platform) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_states (id, user_id, platform, status, updated_at)
		VALUES ($1, $2, $3, 'idle', now())
		ON CONFLICT (user_id, platform) DO NOTHING`,
		uuid.New().String(), userID, platform)
	if err != nil {
		return fmt.Errorf("failed to ensure sync state: %w", err)
	}
	return nil
}

// GetSyncState fetches one (user, platform) sync row.
func (s *Store) GetSyncState(ctx context.Context, userID string, platform models.Platform) (*models.SyncState, error) {
	var state models.SyncState
	err := s.db.GetContext(ctx, &state,
		`SELECT * FROM sync_states WHERE user_id = $1 AND platform = $2`,
		userID, platform)
	if err != nil {
		return nil, notFound(err)
	}
	return &state, nil
}

// ClaimSyncState takes the per-(user, platform) sync lease. The row is
// locked with FOR UPDATE SKIP LOCKED and moved to status=syncing in one
// transaction, so concurrent workers serialize on the same pair while
// different pairs proceed in parallel. Returns ErrNotFound when the lease
// is already held or the row is missing.
func (s *Store) ClaimSyncState(ctx context.Context, userID string, platform models.Platform) (*models.SyncState, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var state models.SyncState
	err = tx.GetContext(ctx, &state, `
		SELECT * FROM sync_states
		WHERE user_id = $1 AND platform = $2
		  AND (status <> 'syncing' OR updated_at < now() - $3::interval)
		FOR UPDATE SKIP LOCKED`,
		userID, platform, fmt.Sprintf("%d seconds", int(staleLeaseAfter.Seconds())))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to lock sync state: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE sync_states SET status = 'syncing', updated_at = now() WHERE id = $1`,
		state.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to mark sync state syncing: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}
	state.Status = models.SyncStatusSyncing
	return &state, nil
}

// FinishSyncState releases the lease after a successful sync.
func (s *Store) FinishSyncState(ctx context.Context, id string, syncedAt time.Time, historyID *string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sync_states
		SET status = 'idle', last_sync_at = $2,
		    last_history_id = COALESCE($3, last_history_id),
		    error_message = NULL, updated_at = now()
		WHERE id = $1`,
		id, syncedAt, historyID)
	if err != nil {
		return fmt.Errorf("failed to finish sync state: %w", err)
	}
	return nil
}

// FailSyncState releases the lease after a failed sync, recording the error
// truncated to 500 characters.
func (s *Store) FailSyncState(ctx context.Context, id string, syncErr error) error {
	msg := syncErr.Error()
	if len(msg) > 500 {
		msg = msg[:500]
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE sync_states
		SET status = 'error', error_message = $2, updated_at = now()
		WHERE id = $1`,
		id, msg)
	if err != nil {
		return fmt.Errorf("failed to fail sync state: %w", err)
	}
	return nil
}
