package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/unifyinbox/unifyinbox/pkg/models"
)

// UpsertContact records an interaction with a sender: on conflict the
// message counter increments, last_interaction moves to now, and the
// relationship fields take the freshly computed values.
func (s *Store) UpsertContact(ctx context.Context, c *models.Contact) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO contacts
			(id, user_id, platform, contact_identifier, display_name,
			 relationship, is_vip, reply_rate, message_count, last_interaction, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1, $9, $10)
		ON CONFLICT (user_id, platform, contact_identifier) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			relationship = EXCLUDED.relationship,
			is_vip = EXCLUDED.is_vip,
			reply_rate = EXCLUDED.reply_rate,
			message_count = contacts.message_count + 1,
			last_interaction = EXCLUDED.last_interaction`,
		c.ID, c.UserID, c.Platform, c.ContactIdentifier, c.DisplayName,
		c.Relationship, c.IsVIP, c.ReplyRate, now, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert contact: %w", err)
	}
	return nil
}

// GetContact fetches a contact by its natural key.
func (s *Store) GetContact(ctx context.Context, userID string, platform models.Platform, contactIdentifier string) (*models.Contact, error) {
	var c models.Contact
	err := s.db.GetContext(ctx, &c, `
		SELECT * FROM contacts
		WHERE user_id = $1 AND platform = $2 AND contact_identifier = $3`,
		userID, platform, contactIdentifier)
	if err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

// SetContactVIP flips the VIP flag on a contact.
func (s *Store) SetContactVIP(ctx context.Context, userID string, platform models.Platform, contactIdentifier string, isVIP bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE contacts SET is_vip = $4
		WHERE user_id = $1 AND platform = $2 AND contact_identifier = $3`,
		userID, platform, contactIdentifier, isVIP)
	if err != nil {
		return fmt.Errorf("failed to set contact vip: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
