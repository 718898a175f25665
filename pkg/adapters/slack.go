package adapters

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/slack-go/slack"

	"github.com/unifyinbox/unifyinbox/pkg/models"
)

const (
	slackConversationLimit = 100
	slackHistoryLimit      = 50
)

// SlackAdapter reads DMs and group DMs through the Slack Web API.
type SlackAdapter struct {
	apiURL string // test seam; empty means the real API
	logger *slog.Logger
}

// NewSlackAdapter creates the Slack connector.
func NewSlackAdapter() *SlackAdapter {
	return &SlackAdapter{
		logger: slog.Default().With("component", "adapter-slack"),
	}
}

// Platform implements Adapter.
func (a *SlackAdapter) Platform() models.Platform {
	return models.PlatformSlack
}

func (a *SlackAdapter) client(token string) *slack.Client {
	if a.apiURL != "" {
		return slack.New(token, slack.OptionAPIURL(a.apiURL))
	}
	return slack.New(token)
}

// FetchNewMessages walks the user's DM and group DM conversations and
// collects messages newer than since. A single conversation failing does
// not abort the rest.
func (a *SlackAdapter) FetchNewMessages(ctx context.Context, creds Credentials, since time.Time) ([]models.Message, error) {
	api := a.client(creds.AccessToken)

	channels, _, err := api.GetConversationsContext(ctx, &slack.GetConversationsParameters{
		Types: []string{"im", "mpim"},
		Limit: slackConversationLimit,
	})
	if err != nil {
		return nil, mapSlackError(err, "failed to list conversations")
	}

	oldest := fmt.Sprintf("%d.000000", since.Unix())
	names := map[string]string{}
	var messages []models.Message

	for _, ch := range channels {
		history, err := api.GetConversationHistoryContext(ctx, &slack.GetConversationHistoryParameters{
			ChannelID: ch.ID,
			Oldest:    oldest,
			Limit:     slackHistoryLimit,
		})
		if err != nil {
			a.logger.Warn("Failed to fetch conversation history",
				"channel_id", ch.ID, "error", err)
			continue
		}

		for _, raw := range history.Messages {
			// Bot traffic and channel housekeeping events are not inbox
			// material; thread broadcasts are real messages.
			if raw.BotID != "" {
				continue
			}
			if raw.SubType != "" && raw.SubType != "thread_broadcast" {
				continue
			}
			if raw.User == "" || raw.Text == "" {
				continue
			}

			msg := models.Message{
				Platform:          models.PlatformSlack,
				PlatformMessageID: ch.ID + ":" + raw.Timestamp,
				ThreadID:          slackThreadID(ch.ID, raw.Msg),
				SenderID:          raw.User,
				SenderName:        a.resolveName(ctx, api, names, raw.User),
				Content:           raw.Text,
				Timestamp:         slackTimestamp(raw.Timestamp),
			}
			messages = append(messages, msg)
		}
	}
	return messages, nil
}

// SendMessage posts a reply into the conversation.
func (a *SlackAdapter) SendMessage(ctx context.Context, creds Credentials, content string, opts SendOptions) (string, error) {
	if opts.ChannelID == "" {
		return "", fmt.Errorf("channel_id is required for slack send")
	}
	api := a.client(creds.AccessToken)
	_, ts, err := api.PostMessageContext(ctx, opts.ChannelID, slack.MsgOptionText(content, false))
	if err != nil {
		return "", mapSlackError(err, "failed to post message")
	}
	return ts, nil
}

// SetupWebhook returns a synthetic webhook id. Slack event delivery is
// configured app-wide in the Slack console, not per user; the id records
// that this user's events route through the shared endpoint.
func (a *SlackAdapter) SetupWebhook(_ context.Context, creds Credentials, _ string) (string, error) {
	return "slack-events-" + creds.UserID, nil
}

// RefreshCredentials is unsupported: Slack user tokens do not expire.
func (a *SlackAdapter) RefreshCredentials(context.Context, Credentials) (*Refreshed, error) {
	return nil, ErrRefreshUnsupported
}

// resolveName looks up the sender's display name, memoizing per fetch.
func (a *SlackAdapter) resolveName(ctx context.Context, api *slack.Client, cache map[string]string, userID string) string {
	if name, ok := cache[userID]; ok {
		return name
	}
	name := userID
	if info, err := api.GetUserInfoContext(ctx, userID); err == nil {
		if info.RealName != "" {
			name = info.RealName
		} else if info.Name != "" {
			name = info.Name
		}
	}
	cache[userID] = name
	return name
}

// slackThreadID keys a thread by channel plus the root timestamp, so
// replies and their root share one thread.
func slackThreadID(channelID string, msg slack.Msg) string {
	root := msg.ThreadTimestamp
	if root == "" {
		root = msg.Timestamp
	}
	return channelID + ":" + root
}

// slackTimestamp parses Slack's "seconds.micros" message timestamp.
func slackTimestamp(ts string) time.Time {
	parts := strings.SplitN(ts, ".", 2)
	secs, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return time.Now().UTC()
	}
	var micros int64
	if len(parts) == 2 {
		micros, _ = strconv.ParseInt(parts[1], 10, 64)
	}
	return time.Unix(secs, micros*1000).UTC()
}

func mapSlackError(err error, msg string) error {
	switch err.Error() {
	case "invalid_auth", "token_revoked", "token_expired", "account_inactive":
		return ErrAuthFailed
	}
	return fmt.Errorf("%s: %w", msg, err)
}
