// Package adapters implements the per-platform connectors: fetching new
// messages, normalizing them to the internal shape, sending replies, and
// registering webhooks.
package adapters

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/unifyinbox/unifyinbox/pkg/models"
)

// Credentials carries one user's decrypted tokens for one platform. Values
// live only in memory for the duration of a call.
type Credentials struct {
	UserID         string
	AccessToken    string
	RefreshToken   string
	PlatformUserID string
}

// SendOptions carries the per-platform addressing for an outbound reply.
// Each adapter reads only the fields it understands.
type SendOptions struct {
	// Gmail
	ToEmail  string
	Subject  string
	ThreadID string

	// Slack and Discord
	ChannelID string

	// Telegram
	ChatID  string
	ReplyTo string
}

// Refreshed carries new tokens minted by RefreshCredentials.
type Refreshed struct {
	AccessToken  string
	RefreshToken string
	Expiry       *time.Time
}

// ErrRefreshUnsupported is returned by platforms whose tokens do not expire.
var ErrRefreshUnsupported = fmt.Errorf("credential refresh not supported")

// ErrAuthFailed signals that the platform rejected the credentials. The
// syncer refreshes and retries once before failing the sync.
var ErrAuthFailed = fmt.Errorf("platform rejected credentials")

// Adapter is one platform connector. FetchNewMessages returns messages
// normalized to the internal shape, newest data included, with UserID left
// for the caller to stamp.
type Adapter interface {
	Platform() models.Platform
	FetchNewMessages(ctx context.Context, creds Credentials, since time.Time) ([]models.Message, error)
	SendMessage(ctx context.Context, creds Credentials, content string, opts SendOptions) (string, error)
	SetupWebhook(ctx context.Context, creds Credentials, baseURL string) (string, error)
	RefreshCredentials(ctx context.Context, creds Credentials) (*Refreshed, error)
}

// Registry resolves adapters by platform name.
type Registry struct {
	adapters map[models.Platform]Adapter
}

// NewRegistry creates a Registry holding the given adapters.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[models.Platform]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Platform()] = a
	}
	return r
}

// Get returns the adapter for a platform name, case-insensitive.
func (r *Registry) Get(platform string) (Adapter, error) {
	p := models.Platform(strings.ToLower(platform))
	a, ok := r.adapters[p]
	if !ok {
		return nil, fmt.Errorf("unsupported platform %q", platform)
	}
	return a, nil
}

// Platforms lists the registered platforms.
func (r *Registry) Platforms() []models.Platform {
	out := make([]models.Platform, 0, len(r.adapters))
	for p := range r.adapters {
		out = append(out, p)
	}
	return out
}
