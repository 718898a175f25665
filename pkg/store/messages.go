package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/unifyinbox/unifyinbox/pkg/models"
)

// senderHistoryWindow bounds the per-sender history used for reply stats.
const senderHistoryWindow = 20

// FeedFilter narrows the feed query. Nil fields mean no filter.
type FeedFilter struct {
	Platform *models.Platform
	Label    *models.PriorityLabel
}

// Unfiltered reports whether the filter narrows nothing, which is the only
// shape eligible for feed caching.
func (f FeedFilter) Unfiltered() bool {
	return f.Platform == nil && f.Label == nil
}

// StatePatch is a partial update of user-controlled message state.
// SnoozeSet distinguishes "set snoozed_until to X or null" from "untouched".
type StatePatch struct {
	IsRead       *bool
	IsDone       *bool
	SnoozedUntil *time.Time
	SnoozeSet    bool
}

// UpsertMessage inserts a message or, when the (user, platform,
// platform_message_id) row already exists, overwrites only the enrichment
// fields and processed_at. Returns true when a new row was created.
// Adapter-normalized messages arrive without an internal id; one is minted
// here. On conflict the RETURNING clause hands back the existing row's id.
func (s *Store) UpsertMessage(ctx context.Context, m *models.Message) (bool, error) {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	var inserted bool
	err := s.db.QueryRowxContext(ctx, `
		INSERT INTO messages
			(id, user_id, platform, platform_message_id, thread_id,
			 sender_id, sender_name, sender_email, content, timestamp,
			 is_read, is_done, snoozed_until,
			 priority_score, priority_label, sentiment, context_note, summary,
			 classification_reasoning, is_complaint, needs_careful_response,
			 suggested_approach, draft_reply, created_at, processed_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			 $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25)
		ON CONFLICT (user_id, platform, platform_message_id) DO UPDATE SET
			priority_score = EXCLUDED.priority_score,
			priority_label = EXCLUDED.priority_label,
			sentiment = EXCLUDED.sentiment,
			context_note = EXCLUDED.context_note,
			summary = EXCLUDED.summary,
			classification_reasoning = EXCLUDED.classification_reasoning,
			is_complaint = EXCLUDED.is_complaint,
			needs_careful_response = EXCLUDED.needs_careful_response,
			suggested_approach = EXCLUDED.suggested_approach,
			processed_at = EXCLUDED.processed_at
		RETURNING id, (xmax = 0) AS inserted`,
		m.ID, m.UserID, m.Platform, m.PlatformMessageID, m.ThreadID,
		m.SenderID, m.SenderName, m.SenderEmail, m.Content, m.Timestamp,
		m.IsRead, m.IsDone, m.SnoozedUntil,
		m.PriorityScore, m.PriorityLabel, m.Sentiment, m.ContextNote, m.Summary,
		m.ClassificationReasoning, m.IsComplaint, m.NeedsCarefulResponse,
		m.SuggestedApproach, m.DraftReply, m.CreatedAt, m.ProcessedAt,
	).Scan(&m.ID, &inserted)
	if err != nil {
		return false, fmt.Errorf("failed to upsert message: %w", err)
	}
	return inserted, nil
}

// GetMessage fetches one of the user's messages by id.
func (s *Store) GetMessage(ctx context.Context, id, userID string) (*models.Message, error) {
	var m models.Message
	err := s.db.GetContext(ctx, &m,
		`SELECT * FROM messages WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return nil, notFound(err)
	}
	return &m, nil
}

// FetchFeed returns the visible messages for a user ordered priority-first,
// newest-first, plus the total count for pagination. Visible means not done
// and not currently snoozed.
func (s *Store) FetchFeed(ctx context.Context, userID string, filter FeedFilter, offset, limit int) ([]models.Message, int, error) {
	where := `user_id = $1
		AND is_done = FALSE
		AND (snoozed_until IS NULL OR snoozed_until <= now())`
	args := []any{userID}
	if filter.Platform != nil {
		args = append(args, *filter.Platform)
		where += fmt.Sprintf(" AND platform = $%d", len(args))
	}
	if filter.Label != nil {
		args = append(args, *filter.Label)
		where += fmt.Sprintf(" AND priority_label = $%d", len(args))
	}

	var total int
	if err := s.db.GetContext(ctx, &total,
		`SELECT COUNT(*) FROM messages WHERE `+where, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count feed: %w", err)
	}

	args = append(args, limit, offset)
	query := fmt.Sprintf(
		`SELECT * FROM messages WHERE %s
		 ORDER BY priority_score DESC, timestamp DESC
		 LIMIT $%d OFFSET $%d`, where, len(args)-1, len(args))

	var messages []models.Message
	if err := s.db.SelectContext(ctx, &messages, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to fetch feed: %w", err)
	}
	return messages, total, nil
}

// FetchThread returns a thread's messages oldest-first.
func (s *Store) FetchThread(ctx context.Context, userID string, platform models.Platform, threadID string) ([]models.Message, error) {
	var messages []models.Message
	err := s.db.SelectContext(ctx, &messages, `
		SELECT * FROM messages
		WHERE user_id = $1 AND platform = $2 AND thread_id = $3
		ORDER BY timestamp ASC`,
		userID, platform, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch thread: %w", err)
	}
	return messages, nil
}

// UpdateMessageState applies a partial update of is_read/is_done/snoozed_until.
func (s *Store) UpdateMessageState(ctx context.Context, id, userID string, patch StatePatch) error {
	set := ""
	args := []any{id, userID}
	add := func(clause string, val any) {
		args = append(args, val)
		if set != "" {
			set += ", "
		}
		set += fmt.Sprintf(clause, len(args))
	}
	if patch.IsRead != nil {
		add("is_read = $%d", *patch.IsRead)
	}
	if patch.IsDone != nil {
		add("is_done = $%d", *patch.IsDone)
	}
	if patch.SnoozeSet {
		add("snoozed_until = $%d", patch.SnoozedUntil)
	}
	if set == "" {
		return nil
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET `+set+` WHERE id = $1 AND user_id = $2`, args...)
	if err != nil {
		return fmt.Errorf("failed to update message state: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetDraft stores a draft reply on the message.
func (s *Store) SetDraft(ctx context.Context, id, userID, draft string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET draft_reply = $3 WHERE id = $1 AND user_id = $2`,
		id, userID, draft)
	if err != nil {
		return fmt.Errorf("failed to set draft: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Reclassify overrides the label, score, and reasoning after user feedback.
func (s *Store) Reclassify(ctx context.Context, id, userID string, label models.PriorityLabel, score float64, reasoning string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages
		SET priority_label = $3, priority_score = $4, classification_reasoning = $5
		WHERE id = $1 AND user_id = $2`,
		id, userID, label, score, reasoning)
	if err != nil {
		return fmt.Errorf("failed to reclassify message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DueSnoozes returns messages whose snooze has expired and are not done.
func (s *Store) DueSnoozes(ctx context.Context, now time.Time) ([]models.Message, error) {
	var messages []models.Message
	err := s.db.SelectContext(ctx, &messages, `
		SELECT * FROM messages
		WHERE snoozed_until IS NOT NULL AND snoozed_until <= $1 AND is_done = FALSE`,
		now)
	if err != nil {
		return nil, fmt.Errorf("failed to query due snoozes: %w", err)
	}
	return messages, nil
}

// ClearSnooze nulls snoozed_until on the given messages.
func (s *Store) ClearSnooze(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	query, args, err := sqlxIn(`UPDATE messages SET snoozed_until = NULL WHERE id IN (?)`, ids)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("failed to clear snoozes: %w", err)
	}
	return nil
}

// DecayScores ages down stale priorities in one statement and returns the
// affected users so their feed caches can be invalidated. Eligible rows are
// older than 24h, not done, and above the 0.1 idempotence band; the decay
// factor bottoms out at 0.3 per pass and the score floors at 0.05.
func (s *Store) DecayScores(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := s.db.QueryxContext(ctx, `
		WITH decayed AS (
			UPDATE messages
			SET priority_score = GREATEST(0.05, ROUND(
				(priority_score * GREATEST(0.3,
					1 - ((EXTRACT(EPOCH FROM ($1::timestamptz - timestamp)) / 3600 - 24) / 12) * 0.05
				))::numeric, 3)::float8)
			WHERE is_done = FALSE
			  AND priority_score > 0.1
			  AND timestamp < $1::timestamptz - interval '24 hours'
			RETURNING user_id
		)
		SELECT DISTINCT user_id FROM decayed`, now)
	if err != nil {
		return nil, fmt.Errorf("failed to decay scores: %w", err)
	}
	defer rows.Close()

	var userIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan decayed user: %w", err)
		}
		userIDs = append(userIDs, id)
	}
	return userIDs, rows.Err()
}

// SenderStats summarizes the user's recent history with a sender. Read
// messages stand in for replied messages when computing the reply rate.
func (s *Store) SenderStats(ctx context.Context, userID string, platform models.Platform, senderID string) (*models.SenderStats, error) {
	var recent []models.Message
	err := s.db.SelectContext(ctx, &recent, `
		SELECT * FROM messages
		WHERE user_id = $1 AND platform = $2 AND sender_id = $3
		ORDER BY timestamp DESC
		LIMIT $4`,
		userID, platform, senderID, senderHistoryWindow)
	if err != nil {
		return nil, fmt.Errorf("failed to query sender history: %w", err)
	}

	stats := &models.SenderStats{
		TotalMessages: len(recent),
		Recent:        recent,
	}
	for _, m := range recent {
		if m.IsRead {
			stats.ReplyCount++
		}
	}
	if stats.TotalMessages > 0 {
		stats.ReplyRate = float64(stats.ReplyCount) / float64(stats.TotalMessages)
	}
	if len(recent) > 1 {
		span := recent[0].Timestamp.Sub(recent[len(recent)-1].Timestamp)
		stats.AvgReplyHours = span.Hours() / float64(len(recent)-1)
	}
	return stats, nil
}

// ThreadActivity counts a thread's total messages and those from the last
// 24 hours for the ranker's activity signal.
func (s *Store) ThreadActivity(ctx context.Context, userID string, platform models.Platform, threadID string) (*models.ThreadActivity, error) {
	if threadID == "" {
		return &models.ThreadActivity{}, nil
	}
	var activity models.ThreadActivity
	err := s.db.QueryRowxContext(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE timestamp >= now() - interval '24 hours')
		FROM messages
		WHERE user_id = $1 AND platform = $2 AND thread_id = $3`,
		userID, platform, threadID).Scan(&activity.Total, &activity.Recent24)
	if err != nil {
		return nil, fmt.Errorf("failed to count thread activity: %w", err)
	}
	return &activity, nil
}
