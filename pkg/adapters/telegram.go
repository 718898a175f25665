package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/unifyinbox/unifyinbox/pkg/models"
)

const telegramAPIBase = "https://api.telegram.org"

// telegramUpdate is one entry of a getUpdates response.
type telegramUpdate struct {
	UpdateID int64 `json:"update_id"`
	Message  *struct {
		MessageID int64  `json:"message_id"`
		Date      int64  `json:"date"`
		Text      string `json:"text"`
		Chat      struct {
			ID int64 `json:"id"`
		} `json:"chat"`
		From *struct {
			ID        int64  `json:"id"`
			IsBot     bool   `json:"is_bot"`
			FirstName string `json:"first_name"`
			LastName  string `json:"last_name"`
			Username  string `json:"username"`
		} `json:"from"`
	} `json:"message"`
}

// TelegramAdapter talks to the Telegram Bot API. The stored access token is
// the per-user bot token.
type TelegramAdapter struct {
	apiBase    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewTelegramAdapter creates the Telegram connector.
func NewTelegramAdapter() *TelegramAdapter {
	return &TelegramAdapter{
		apiBase:    telegramAPIBase,
		httpClient: &http.Client{Timeout: 45 * time.Second},
		logger:     slog.Default().With("component", "adapter-telegram"),
	}
}

// Platform implements Adapter.
func (a *TelegramAdapter) Platform() models.Platform {
	return models.PlatformTelegram
}

// GetMe validates a bot token and returns the bot's username.
func (a *TelegramAdapter) GetMe(ctx context.Context, token string) (string, error) {
	var result struct {
		Username string `json:"username"`
	}
	if err := a.call(ctx, token, "getMe", nil, &result); err != nil {
		return "", err
	}
	return result.Username, nil
}

// FetchNewMessages drains pending updates and keeps text messages newer
// than since. Updates are confirmed by offset on the next poll, so the
// filter only guards against replays after reconnects.
func (a *TelegramAdapter) FetchNewMessages(ctx context.Context, creds Credentials, since time.Time) ([]models.Message, error) {
	var updates []telegramUpdate
	params := map[string]any{
		"timeout":         0,
		"allowed_updates": []string{"message"},
	}
	if err := a.call(ctx, creds.AccessToken, "getUpdates", params, &updates); err != nil {
		return nil, fmt.Errorf("failed to fetch telegram updates: %w", err)
	}

	var messages []models.Message
	var lastUpdateID int64
	for _, u := range updates {
		lastUpdateID = u.UpdateID
		msg := normalizeTelegramUpdate(u)
		if msg == nil || msg.Timestamp.Before(since) {
			continue
		}
		messages = append(messages, *msg)
	}

	// Confirm processed updates so the next poll starts past them.
	if lastUpdateID > 0 {
		confirm := map[string]any{"offset": lastUpdateID + 1, "timeout": 0}
		var drained []telegramUpdate
		if err := a.call(ctx, creds.AccessToken, "getUpdates", confirm, &drained); err != nil {
			a.logger.Warn("Failed to confirm telegram updates", "error", err)
		}
	}
	return messages, nil
}

// normalizeTelegramUpdate maps one update to the internal message shape.
// Non-text updates and bot senders normalize to nil.
func normalizeTelegramUpdate(u telegramUpdate) *models.Message {
	m := u.Message
	if m == nil || m.Text == "" || m.From == nil || m.From.IsBot {
		return nil
	}
	name := strings.TrimSpace(m.From.FirstName + " " + m.From.LastName)
	if name == "" {
		name = m.From.Username
	}
	chatID := strconv.FormatInt(m.Chat.ID, 10)
	return &models.Message{
		Platform:          models.PlatformTelegram,
		PlatformMessageID: chatID + ":" + strconv.FormatInt(m.MessageID, 10),
		ThreadID:          chatID,
		SenderID:          strconv.FormatInt(m.From.ID, 10),
		SenderName:        name,
		Content:           m.Text,
		Timestamp:         time.Unix(m.Date, 0).UTC(),
	}
}

// ParseTelegramWebhook decodes a webhook-delivered update. Returns nil for
// updates that do not normalize to a message.
func ParseTelegramWebhook(payload []byte) *models.Message {
	var update telegramUpdate
	if err := json.Unmarshal(payload, &update); err != nil {
		return nil
	}
	return normalizeTelegramUpdate(update)
}

// SendMessage sends an HTML-formatted reply, optionally threaded onto the
// message being answered.
func (a *TelegramAdapter) SendMessage(ctx context.Context, creds Credentials, content string, opts SendOptions) (string, error) {
	if opts.ChatID == "" {
		return "", fmt.Errorf("chat_id is required for telegram send")
	}
	params := map[string]any{
		"chat_id":    opts.ChatID,
		"text":       content,
		"parse_mode": "HTML",
	}
	if opts.ReplyTo != "" {
		if replyID, err := strconv.ParseInt(opts.ReplyTo, 10, 64); err == nil {
			params["reply_to_message_id"] = replyID
		}
	}

	var sent struct {
		MessageID int64 `json:"message_id"`
	}
	if err := a.call(ctx, creds.AccessToken, "sendMessage", params, &sent); err != nil {
		return "", fmt.Errorf("failed to send telegram message: %w", err)
	}
	return strconv.FormatInt(sent.MessageID, 10), nil
}

// SetupWebhook points the bot's webhook at this deployment's per-user
// telegram endpoint.
func (a *TelegramAdapter) SetupWebhook(ctx context.Context, creds Credentials, baseURL string) (string, error) {
	params := map[string]any{
		"url": strings.TrimRight(baseURL, "/") + "/webhooks/telegram/" + creds.UserID,
	}
	if err := a.call(ctx, creds.AccessToken, "setWebhook", params, nil); err != nil {
		return "", fmt.Errorf("failed to set telegram webhook: %w", err)
	}
	return "telegram-webhook-" + creds.UserID, nil
}

// RefreshCredentials is unsupported: bot tokens do not expire.
func (a *TelegramAdapter) RefreshCredentials(context.Context, Credentials) (*Refreshed, error) {
	return nil, ErrRefreshUnsupported
}

// call invokes one Bot API method and decodes the result envelope.
func (a *TelegramAdapter) call(ctx context.Context, token, method string, params map[string]any, dest any) error {
	endpoint := fmt.Sprintf("%s/bot%s/%s", a.apiBase, token, method)

	var body io.Reader
	if params != nil {
		payload, err := json.Marshal(params)
		if err != nil {
			return err
		}
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return err
	}
	if params != nil {
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

	var envelope struct {
		OK          bool            `json:"ok"`
		Description string          `json:"description"`
		Result      json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("telegram returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if !envelope.OK {
		return fmt.Errorf("telegram %s failed: %s", method, envelope.Description)
	}
	if dest != nil && len(envelope.Result) > 0 {
		return json.Unmarshal(envelope.Result, dest)
	}
	return nil
}
