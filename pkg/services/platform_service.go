package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/unifyinbox/unifyinbox/pkg/adapters"
	"github.com/unifyinbox/unifyinbox/pkg/auth"
	"github.com/unifyinbox/unifyinbox/pkg/models"
	"github.com/unifyinbox/unifyinbox/pkg/store"
)

// initialSyncTimeout bounds the background sync kicked off on connect.
const initialSyncTimeout = 2 * time.Minute

// PlatformStorage is the slice of the store PlatformService needs.
// Satisfied by *store.Store.
type PlatformStorage interface {
	UpsertCredential(ctx context.Context, c *models.PlatformCredential) error
	GetCredential(ctx context.Context, userID string, platform models.Platform) (*models.PlatformCredential, error)
	ListCredentials(ctx context.Context, userID string) ([]models.PlatformCredential, error)
	ListAllCredentials(ctx context.Context) ([]models.PlatformCredential, error)
	DeleteCredential(ctx context.Context, userID string, platform models.Platform) error
	SetWebhookID(ctx context.Context, id, webhookID string) error
	FindUserByPlatformUserID(ctx context.Context, platform models.Platform, platformUserID string) (string, error)
}

// Syncer kicks an immediate sync for a just-connected credential.
type Syncer interface {
	SyncCredential(ctx context.Context, cred *models.PlatformCredential) (int, error)
}

// GatewayRunner manages long-lived push sockets for gateway platforms.
// Satisfied by *adapters.GatewayManager.
type GatewayRunner interface {
	StartFor(ctx context.Context, userID, token, selfID string)
	StopFor(userID string)
}

// ConnectRequest carries the plaintext tokens for a new platform connection.
// They are encrypted before touching storage.
type ConnectRequest struct {
	Platform       string `json:"platform"`
	AccessToken    string `json:"access_token"`
	RefreshToken   string `json:"refresh_token,omitempty"`
	PlatformUserID string `json:"platform_user_id,omitempty"`
}

// PlatformService connects and disconnects message platforms.
type PlatformService struct {
	store          PlatformStorage
	vault          *auth.TokenVault
	registry       *adapters.Registry
	syncer         Syncer
	gateways       GatewayRunner
	webhookBaseURL string
	logger         *slog.Logger
}

// NewPlatformService creates a PlatformService. gateways may be nil when
// Discord is not configured.
func NewPlatformService(st PlatformStorage, vault *auth.TokenVault, registry *adapters.Registry, syncer Syncer, gateways GatewayRunner, webhookBaseURL string) *PlatformService {
	return &PlatformService{
		store:          st,
		vault:          vault,
		registry:       registry,
		syncer:         syncer,
		gateways:       gateways,
		webhookBaseURL: webhookBaseURL,
		logger:         slog.Default().With("component", "platforms"),
	}
}

// List returns the user's connected platforms. Token fields never serialize.
func (s *PlatformService) List(ctx context.Context, userID string) ([]models.PlatformCredential, error) {
	return s.store.ListCredentials(ctx, userID)
}

// Connect validates and stores a platform credential, registers the
// platform's push delivery, and kicks an immediate first sync in the
// background.
func (s *PlatformService) Connect(ctx context.Context, userID string, req ConnectRequest) (*models.PlatformCredential, error) {
	if req.AccessToken == "" {
		return nil, NewValidationError("access_token", "required")
	}
	adapter, err := s.registry.Get(req.Platform)
	if err != nil {
		return nil, NewValidationError("platform", "unsupported platform")
	}
	platform := adapter.Platform()

	platformUserID := req.PlatformUserID
	if platform == models.PlatformTelegram {
		// Telegram tokens are validated up front; getMe also gives us the
		// bot identity webhook payloads are matched against.
		tg, ok := adapter.(*adapters.TelegramAdapter)
		if !ok {
			return nil, errors.New("telegram adapter has unexpected type")
		}
		username, err := tg.GetMe(ctx, req.AccessToken)
		if err != nil {
			return nil, NewValidationError("access_token", "telegram rejected the token")
		}
		platformUserID = username
	}

	// A platform identity can only be claimed once; a second account
	// connecting the same workspace or bot would make webhook routing
	// ambiguous.
	if platformUserID != "" {
		owner, err := s.store.FindUserByPlatformUserID(ctx, platform, platformUserID)
		switch {
		case err == nil && owner != userID:
			return nil, ErrAlreadyExists
		case err != nil && !errors.Is(err, store.ErrNotFound):
			return nil, err
		}
	}

	encryptedAccess, err := s.vault.Encrypt(req.AccessToken)
	if err != nil {
		return nil, err
	}
	cred := &models.PlatformCredential{
		UserID:      userID,
		Platform:    platform,
		AccessToken: encryptedAccess,
	}
	if req.RefreshToken != "" {
		encryptedRefresh, err := s.vault.Encrypt(req.RefreshToken)
		if err != nil {
			return nil, err
		}
		cred.RefreshToken = &encryptedRefresh
	}
	if platformUserID != "" {
		cred.PlatformUserID = &platformUserID
	}
	if err := s.store.UpsertCredential(ctx, cred); err != nil {
		return nil, err
	}

	creds := adapters.Credentials{
		UserID:         userID,
		AccessToken:    req.AccessToken,
		PlatformUserID: platformUserID,
	}
	webhookID, err := adapter.SetupWebhook(ctx, creds, s.webhookBaseURL)
	if err != nil {
		s.logger.Warn("Webhook setup failed, relying on periodic sync",
			"platform", platform, "error", err)
	} else if webhookID != "" {
		if err := s.store.SetWebhookID(ctx, cred.ID, webhookID); err != nil {
			s.logger.Warn("Failed to record webhook id", "error", err)
		} else {
			cred.WebhookID = &webhookID
		}
	}

	if platform == models.PlatformDiscord && s.gateways != nil {
		s.gateways.StartFor(context.WithoutCancel(ctx), userID, req.AccessToken, platformUserID)
	}

	if s.syncer != nil {
		go func() {
			syncCtx, cancel := context.WithTimeout(context.Background(), initialSyncTimeout)
			defer cancel()
			if _, err := s.syncer.SyncCredential(syncCtx, cred); err != nil {
				s.logger.Warn("Initial sync failed",
					"user_id", userID, "platform", platform, "error", err)
			}
		}()
	}

	s.logger.Info("Platform connected", "user_id", userID, "platform", platform)
	return cred, nil
}

// ResumeGateways restarts gateway delivery for every stored credential of a
// gateway platform. Called once at startup; Connect covers new connections.
func (s *PlatformService) ResumeGateways(ctx context.Context) error {
	if s.gateways == nil {
		return nil
	}
	creds, err := s.store.ListAllCredentials(ctx)
	if err != nil {
		return fmt.Errorf("failed to list credentials for gateway resume: %w", err)
	}
	resumed := 0
	for i := range creds {
		cred := &creds[i]
		if cred.Platform != models.PlatformDiscord {
			continue
		}
		token, err := s.vault.Decrypt(cred.AccessToken)
		if err != nil {
			s.logger.Error("Failed to decrypt credential for gateway resume",
				"user_id", cred.UserID, "error", err)
			continue
		}
		selfID := ""
		if cred.PlatformUserID != nil {
			selfID = *cred.PlatformUserID
		}
		s.gateways.StartFor(context.WithoutCancel(ctx), cred.UserID, token, selfID)
		resumed++
	}
	if resumed > 0 {
		s.logger.Info("Discord gateways resumed", "count", resumed)
	}
	return nil
}

// Disconnect removes the credential and stops the platform's push delivery.
func (s *PlatformService) Disconnect(ctx context.Context, userID string, platformName string) error {
	adapter, err := s.registry.Get(platformName)
	if err != nil {
		return NewValidationError("platform", "unsupported platform")
	}
	platform := adapter.Platform()

	if err := s.store.DeleteCredential(ctx, userID, platform); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	if platform == models.PlatformDiscord && s.gateways != nil {
		s.gateways.StopFor(userID)
	}
	s.logger.Info("Platform disconnected", "user_id", userID, "platform", platform)
	return nil
}
