package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/unifyinbox/unifyinbox/pkg/models"
)

const (
	discordAPIBase      = "https://discord.com/api/v10"
	discordHistoryLimit = 50
)

// discordMessage is the REST shape of a channel message.
type discordMessage struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
	Author    struct {
		ID         string `json:"id"`
		Username   string `json:"username"`
		GlobalName string `json:"global_name"`
		Bot        bool   `json:"bot"`
	} `json:"author"`
}

// DiscordAdapter reads DM channels through the Discord REST API. Real-time
// delivery runs over the gateway socket, see discord_gateway.go.
type DiscordAdapter struct {
	apiBase    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewDiscordAdapter creates the Discord connector.
func NewDiscordAdapter() *DiscordAdapter {
	return &DiscordAdapter{
		apiBase:    discordAPIBase,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     slog.Default().With("component", "adapter-discord"),
	}
}

// Platform implements Adapter.
func (a *DiscordAdapter) Platform() models.Platform {
	return models.PlatformDiscord
}

// FetchNewMessages lists the account's DM channels and collects messages
// newer than since, skipping the account's own messages and bot traffic.
func (a *DiscordAdapter) FetchNewMessages(ctx context.Context, creds Credentials, since time.Time) ([]models.Message, error) {
	var channels []struct {
		ID string `json:"id"`
	}
	if err := a.request(ctx, creds.AccessToken, http.MethodGet, "/users/@me/channels", nil, &channels); err != nil {
		return nil, fmt.Errorf("failed to list discord channels: %w", err)
	}

	var messages []models.Message
	for _, ch := range channels {
		var history []discordMessage
		path := fmt.Sprintf("/channels/%s/messages?limit=%d", ch.ID, discordHistoryLimit)
		if err := a.request(ctx, creds.AccessToken, http.MethodGet, path, nil, &history); err != nil {
			a.logger.Warn("Failed to fetch discord channel history",
				"channel_id", ch.ID, "error", err)
			continue
		}

		for _, raw := range history {
			msg := normalizeDiscordMessage(raw, creds.PlatformUserID)
			if msg == nil || !msg.Timestamp.After(since) {
				continue
			}
			messages = append(messages, *msg)
		}
	}
	return messages, nil
}

// normalizeDiscordMessage maps a REST or gateway message to the internal
// shape. Bot authors and the account's own messages normalize to nil.
func normalizeDiscordMessage(raw discordMessage, selfID string) *models.Message {
	if raw.Author.Bot || raw.Content == "" {
		return nil
	}
	if selfID != "" && raw.Author.ID == selfID {
		return nil
	}
	name := raw.Author.GlobalName
	if name == "" {
		name = raw.Author.Username
	}
	ts := time.Now().UTC()
	if parsed, err := time.Parse(time.RFC3339, raw.Timestamp); err == nil {
		ts = parsed.UTC()
	}
	return &models.Message{
		Platform:          models.PlatformDiscord,
		PlatformMessageID: raw.ID,
		ThreadID:          raw.ChannelID,
		SenderID:          raw.Author.ID,
		SenderName:        name,
		Content:           raw.Content,
		Timestamp:         ts,
	}
}

// SendMessage posts a reply into the DM channel.
func (a *DiscordAdapter) SendMessage(ctx context.Context, creds Credentials, content string, opts SendOptions) (string, error) {
	if opts.ChannelID == "" {
		return "", fmt.Errorf("channel_id is required for discord send")
	}
	var sent struct {
		ID string `json:"id"`
	}
	path := "/channels/" + opts.ChannelID + "/messages"
	if err := a.request(ctx, creds.AccessToken, http.MethodPost, path, map[string]string{"content": content}, &sent); err != nil {
		return "", fmt.Errorf("failed to send discord message: %w", err)
	}
	return sent.ID, nil
}

// SetupWebhook returns a synthetic id. Discord pushes messages over the
// gateway socket, not HTTP webhooks.
func (a *DiscordAdapter) SetupWebhook(_ context.Context, creds Credentials, _ string) (string, error) {
	return "discord-gateway-" + creds.UserID, nil
}

// RefreshCredentials is unsupported: bot tokens do not expire.
func (a *DiscordAdapter) RefreshCredentials(context.Context, Credentials) (*Refreshed, error) {
	return nil, ErrRefreshUnsupported
}

func (a *DiscordAdapter) request(ctx context.Context, token, method, path string, body, dest any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.apiBase+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bot "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return ErrAuthFailed
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("discord returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if dest != nil && len(raw) > 0 {
		return json.Unmarshal(raw, dest)
	}
	return nil
}
