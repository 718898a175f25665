package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/unifyinbox/unifyinbox/pkg/models"
)

// UpsertCredential stores or replaces a user's credential for a platform.
// Token fields must already be ciphertext; the store never sees plaintext.
func (s *Store) UpsertCredential(ctx context.Context, c *models.PlatformCredential) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO platform_credentials
			(id, user_id, platform, access_token, refresh_token, token_expiry,
			 scopes, platform_user_id, webhook_id, created_at)
		VALUES
			(:id, :user_id, :platform, :access_token, :refresh_token, :token_expiry,
			 :scopes, :platform_user_id, :webhook_id, :created_at)
		ON CONFLICT (user_id, platform) DO UPDATE SET
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			token_expiry = EXCLUDED.token_expiry,
			scopes = EXCLUDED.scopes,
			platform_user_id = EXCLUDED.platform_user_id`, c)
	if err != nil {
		return fmt.Errorf("failed to upsert credential: %w", err)
	}
	return nil
}

// GetCredential fetches one (user, platform) credential.
func (s *Store) GetCredential(ctx context.Context, userID string, platform models.Platform) (*models.PlatformCredential, error) {
	var c models.PlatformCredential
	err := s.db.GetContext(ctx, &c,
		`SELECT * FROM platform_credentials WHERE user_id = $1 AND platform = $2`,
		userID, platform)
	if err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

// ListCredentials returns all of one user's credentials.
func (s *Store) ListCredentials(ctx context.Context, userID string) ([]models.PlatformCredential, error) {
	var creds []models.PlatformCredential
	err := s.db.SelectContext(ctx, &creds,
		`SELECT * FROM platform_credentials WHERE user_id = $1 ORDER BY platform`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", err)
	}
	return creds, nil
}

// ListAllCredentials enumerates every credential row for the fleet sync.
func (s *Store) ListAllCredentials(ctx context.Context) ([]models.PlatformCredential, error) {
	var creds []models.PlatformCredential
	err := s.db.SelectContext(ctx, &creds,
		`SELECT * FROM platform_credentials ORDER BY user_id, platform`)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate credentials: %w", err)
	}
	return creds, nil
}

// DeleteCredential removes a credential and its sync state.
func (s *Store) DeleteCredential(ctx context.Context, userID string, platform models.Platform) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM platform_credentials WHERE user_id = $1 AND platform = $2`,
		userID, platform)
	if err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	_, err = s.db.ExecContext(ctx,
		`DELETE FROM sync_states WHERE user_id = $1 AND platform = $2`,
		userID, platform)
	if err != nil {
		return fmt.Errorf("failed to delete sync state: %w", err)
	}
	return nil
}

// UpdateCredentialTokens rotates the stored ciphertexts after a refresh.
func (s *Store) UpdateCredentialTokens(ctx context.Context, id, accessToken string, refreshToken *string, expiry *time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE platform_credentials
		SET access_token = $2,
		    refresh_token = COALESCE($3, refresh_token),
		    token_expiry = $4
		WHERE id = $1`,
		id, accessToken, refreshToken, expiry)
	if err != nil {
		return fmt.Errorf("failed to update credential tokens: %w", err)
	}
	return nil
}

// SetWebhookID records the platform-issued (or synthetic) webhook identifier.
func (s *Store) SetWebhookID(ctx context.Context, id, webhookID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE platform_credentials SET webhook_id = $2 WHERE id = $1`, id, webhookID)
	if err != nil {
		return fmt.Errorf("failed to set webhook id: %w", err)
	}
	return nil
}

// FindUserByPlatformUserID resolves an app-level webhook (workspace or team
// id) to the owning user. The (platform, platform_user_id) pair is unique.
func (s *Store) FindUserByPlatformUserID(ctx context.Context, platform models.Platform, platformUserID string) (string, error) {
	var userID string
	err := s.db.GetContext(ctx, &userID,
		`SELECT user_id FROM platform_credentials WHERE platform = $1 AND platform_user_id = $2`,
		platform, platformUserID)
	if err != nil {
		return "", notFound(err)
	}
	return userID, nil
}
