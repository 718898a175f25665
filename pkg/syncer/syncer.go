// Package syncer pulls new messages from connected platforms under
// per-(user, platform) leases and feeds them through the enrichment
// pipeline. It also ingests webhook-delivered messages.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/unifyinbox/unifyinbox/pkg/adapters"
	"github.com/unifyinbox/unifyinbox/pkg/auth"
	"github.com/unifyinbox/unifyinbox/pkg/cache"
	"github.com/unifyinbox/unifyinbox/pkg/events"
	"github.com/unifyinbox/unifyinbox/pkg/models"
	"github.com/unifyinbox/unifyinbox/pkg/pipeline"
	"github.com/unifyinbox/unifyinbox/pkg/store"
)

// Default sync behavior.
const (
	// initialSyncWindow bounds the first sync of a fresh credential.
	initialSyncWindow = 24 * time.Hour

	// fetchAttempts bounds the retry on transient fetch failures. Auth
	// failures break out immediately for a token refresh.
	fetchAttempts = 5

	// fleetConcurrency bounds how many credentials sync at once.
	fleetConcurrency = 3
)

// fetchBaseDelay seeds the exponential backoff between fetch attempts.
var fetchBaseDelay = 30 * time.Second

// StatusPublisher is the slice of the event publisher the syncer needs.
type StatusPublisher interface {
	PublishSyncStatus(ctx context.Context, payload events.SyncStatusPayload) error
}

// Storage is the slice of the store the syncer needs. Satisfied by
// *store.Store.
type Storage interface {
	EnsureSyncState(ctx context.Context, userID string, platform models.Platform) error
	ClaimSyncState(ctx context.Context, userID string, platform models.Platform) (*models.SyncState, error)
	FinishSyncState(ctx context.Context, id string, syncedAt time.Time, historyID *string) error
	FailSyncState(ctx context.Context, id string, syncErr error) error
	ListAllCredentials(ctx context.Context) ([]models.PlatformCredential, error)
	UpdateCredentialTokens(ctx context.Context, id, accessToken string, refreshToken *string, expiry *time.Time) error
	FindUserByPlatformUserID(ctx context.Context, platform models.Platform, platformUserID string) (string, error)
}

// Processor is the slice of the pipeline the syncer needs.
type Processor interface {
	Process(ctx context.Context, msg *models.Message) (*models.Message, error)
	ProcessBatch(ctx context.Context, msgs []*models.Message, concurrency int) (int, error)
}

// Engine drives platform syncs.
type Engine struct {
	store    Storage
	cache    *cache.Cache
	vault    *auth.TokenVault
	registry *adapters.Registry
	pipeline Processor
	pub      StatusPublisher
	logger   *slog.Logger
}

// New creates an Engine.
func New(st Storage, ca *cache.Cache, vault *auth.TokenVault, registry *adapters.Registry, pl Processor, pub StatusPublisher) *Engine {
	return &Engine{
		store:    st,
		cache:    ca,
		vault:    vault,
		registry: registry,
		pipeline: pl,
		pub:      pub,
		logger:   slog.Default().With("component", "syncer"),
	}
}

// SyncAll syncs every stored credential with bounded concurrency. Called by
// the fleet sync job. Individual credential failures are recorded on their
// sync state rows and do not abort the fleet.
func (e *Engine) SyncAll(ctx context.Context) {
	creds, err := e.store.ListAllCredentials(ctx)
	if err != nil {
		e.logger.Error("Failed to list credentials for fleet sync", "error", err)
		return
	}
	if len(creds) == 0 {
		return
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, fleetConcurrency)
	for i := range creds {
		cred := creds[i]
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case sem <- struct{}{}:
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			if _, err := e.SyncCredential(ctx, &cred); err != nil && !errors.Is(err, ErrLeaseHeld) {
				e.logger.Warn("Credential sync failed",
					"user_id", cred.UserID, "platform", cred.Platform, "error", err)
			}
		}()
	}
	wg.Wait()
}

// ErrLeaseHeld is returned when another worker holds the sync lease for the
// credential. Not an error condition, the other worker is doing the job.
var ErrLeaseHeld = errors.New("sync lease held elsewhere")

// SyncCredential syncs one (user, platform) pair under its lease and
// returns the number of messages processed.
func (e *Engine) SyncCredential(ctx context.Context, cred *models.PlatformCredential) (int, error) {
	if err := e.store.EnsureSyncState(ctx, cred.UserID, cred.Platform); err != nil {
		return 0, err
	}
	state, err := e.store.ClaimSyncState(ctx, cred.UserID, cred.Platform)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, ErrLeaseHeld
		}
		return 0, err
	}

	count, syncErr := e.runSync(ctx, cred, state)
	if syncErr != nil {
		if err := e.store.FailSyncState(ctx, state.ID, syncErr); err != nil {
			e.logger.Error("Failed to record sync failure", "error", err)
		}
		e.publishStatus(ctx, cred, string(models.SyncStatusError), 0, syncErr)
		return 0, syncErr
	}

	syncedAt := time.Now().UTC()
	if err := e.store.FinishSyncState(ctx, state.ID, syncedAt, nil); err != nil {
		return count, err
	}
	e.cache.MarkSynced(ctx, cred.UserID, cred.Platform, syncedAt)
	e.publishStatus(ctx, cred, string(models.SyncStatusIdle), count, nil)
	return count, nil
}

func (e *Engine) runSync(ctx context.Context, cred *models.PlatformCredential, state *models.SyncState) (int, error) {
	adapter, err := e.registry.Get(string(cred.Platform))
	if err != nil {
		return 0, err
	}

	creds, err := e.decrypt(cred)
	if err != nil {
		return 0, fmt.Errorf("failed to decrypt credentials: %w", err)
	}

	since := time.Now().UTC().Add(-initialSyncWindow)
	if state.LastSyncAt != nil {
		since = *state.LastSyncAt
	}

	e.publishStatus(ctx, cred, string(models.SyncStatusSyncing), 0, nil)

	msgs, err := e.fetch(ctx, adapter, creds, since)
	if errors.Is(err, adapters.ErrAuthFailed) {
		creds, err = e.refresh(ctx, adapter, cred, creds)
		if err != nil {
			return 0, err
		}
		msgs, err = e.fetch(ctx, adapter, creds, since)
	}
	if err != nil {
		return 0, fmt.Errorf("fetch failed: %w", err)
	}

	batch := make([]*models.Message, 0, len(msgs))
	for i := range msgs {
		msgs[i].UserID = cred.UserID
		batch = append(batch, &msgs[i])
	}

	done, err := e.pipeline.ProcessBatch(ctx, batch, pipeline.SyncBatchConcurrency)
	if err != nil {
		return done, fmt.Errorf("processed %d of %d messages: %w", done, len(batch), err)
	}
	return done, nil
}

// fetch pulls new messages with retries on transient failures. Auth
// failures surface immediately so the caller can refresh tokens.
func (e *Engine) fetch(ctx context.Context, adapter adapters.Adapter, creds adapters.Credentials, since time.Time) ([]models.Message, error) {
	var msgs []models.Message
	err := retry.Do(
		func() error {
			var err error
			msgs, err = adapter.FetchNewMessages(ctx, creds, since)
			return err
		},
		retry.Attempts(fetchAttempts),
		retry.Delay(fetchBaseDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return !errors.Is(err, adapters.ErrAuthFailed)
		}),
	)
	return msgs, err
}

// refresh mints new tokens after an auth failure and persists them
// encrypted.
func (e *Engine) refresh(ctx context.Context, adapter adapters.Adapter, cred *models.PlatformCredential, creds adapters.Credentials) (adapters.Credentials, error) {
	refreshed, err := adapter.RefreshCredentials(ctx, creds)
	if err != nil {
		return creds, fmt.Errorf("credential refresh failed: %w", err)
	}

	encrypted, err := e.vault.Encrypt(refreshed.AccessToken)
	if err != nil {
		return creds, fmt.Errorf("failed to encrypt refreshed token: %w", err)
	}
	var encryptedRefresh *string
	if refreshed.RefreshToken != "" && refreshed.RefreshToken != creds.RefreshToken {
		enc, err := e.vault.Encrypt(refreshed.RefreshToken)
		if err != nil {
			return creds, fmt.Errorf("failed to encrypt refresh token: %w", err)
		}
		encryptedRefresh = &enc
	}
	if err := e.store.UpdateCredentialTokens(ctx, cred.ID, encrypted, encryptedRefresh, refreshed.Expiry); err != nil {
		return creds, fmt.Errorf("failed to persist refreshed tokens: %w", err)
	}

	e.logger.Info("Refreshed platform credentials",
		"user_id", cred.UserID, "platform", cred.Platform)
	creds.AccessToken = refreshed.AccessToken
	if refreshed.RefreshToken != "" {
		creds.RefreshToken = refreshed.RefreshToken
	}
	return creds, nil
}

// decrypt builds the adapter credential set from the stored ciphertext.
func (e *Engine) decrypt(cred *models.PlatformCredential) (adapters.Credentials, error) {
	access, err := e.vault.Decrypt(cred.AccessToken)
	if err != nil {
		return adapters.Credentials{}, err
	}
	out := adapters.Credentials{
		UserID:      cred.UserID,
		AccessToken: access,
	}
	if cred.RefreshToken != nil {
		refresh, err := e.vault.Decrypt(*cred.RefreshToken)
		if err != nil {
			return adapters.Credentials{}, err
		}
		out.RefreshToken = refresh
	}
	if cred.PlatformUserID != nil {
		out.PlatformUserID = *cred.PlatformUserID
	}
	return out, nil
}

// ProcessWebhookMessage ingests one webhook-delivered message for a known
// user through the full pipeline.
func (e *Engine) ProcessWebhookMessage(ctx context.Context, userID string, msg *models.Message) error {
	msg.UserID = userID
	_, err := e.pipeline.Process(ctx, msg)
	return err
}

// ResolveWebhookUser maps a platform-level user id to the owning account.
// Returns store.ErrNotFound for senders no credential claims; the caller
// drops those payloads.
func (e *Engine) ResolveWebhookUser(ctx context.Context, platform models.Platform, platformUserID string) (string, error) {
	return e.store.FindUserByPlatformUserID(ctx, platform, platformUserID)
}

func (e *Engine) publishStatus(ctx context.Context, cred *models.PlatformCredential, status string, count int, syncErr error) {
	if e.pub == nil {
		return
	}
	payload := events.SyncStatusPayload{
		UserID:      cred.UserID,
		Platform:    string(cred.Platform),
		Status:      status,
		NewMessages: count,
	}
	if syncErr != nil {
		payload.Error = syncErr.Error()
	}
	if err := e.pub.PublishSyncStatus(ctx, payload); err != nil {
		e.logger.Warn("Failed to publish sync status",
			"user_id", cred.UserID, "platform", cred.Platform, "error", err)
	}
}
