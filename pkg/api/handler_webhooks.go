package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"

	"github.com/unifyinbox/unifyinbox/pkg/adapters"
	"github.com/unifyinbox/unifyinbox/pkg/models"
)

// webhookBodyLimit caps inbound webhook payloads.
const webhookBodyLimit = 1 << 20

// webhookDispatchTimeout bounds the async enrichment kicked off per event.
const webhookDispatchTimeout = 2 * time.Minute

// slackWebhookHandler receives Slack Events API callbacks. Slack retries on
// non-200, so processing failures are logged and acknowledged anyway.
func (s *Server) slackWebhookHandler(c *echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, webhookBodyLimit))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read body")
	}

	if s.settings.SlackSigningSecret != "" {
		verifier, err := slack.NewSecretsVerifier(c.Request().Header, s.settings.SlackSigningSecret)
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "missing slack signature")
		}
		if _, err := verifier.Write(body); err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, "failed to verify signature")
		}
		if err := verifier.Ensure(); err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid slack signature")
		}
	}

	event, err := slackevents.ParseEvent(json.RawMessage(body), slackevents.OptionNoVerifyToken())
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid event payload")
	}

	switch event.Type {
	case slackevents.URLVerification:
		var challenge slackevents.ChallengeResponse
		if err := json.Unmarshal(body, &challenge); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid challenge payload")
		}
		return c.JSON(http.StatusOK, map[string]string{"challenge": challenge.Challenge})

	case slackevents.CallbackEvent:
		msgEvent, ok := event.InnerEvent.Data.(*slackevents.MessageEvent)
		if !ok {
			return c.NoContent(http.StatusOK)
		}
		if msg := normalizeSlackEvent(msgEvent); msg != nil {
			s.dispatchSlackMessage(event.TeamID, msg)
		}
		return c.NoContent(http.StatusOK)

	default:
		return c.NoContent(http.StatusOK)
	}
}

// normalizeSlackEvent maps an Events API message to the internal shape.
// Bot messages and edits/deletes normalize to nil; thread broadcasts are
// kept since they are regular user messages.
func normalizeSlackEvent(ev *slackevents.MessageEvent) *models.Message {
	if ev.BotID != "" || ev.User == "" || ev.Text == "" {
		return nil
	}
	if ev.SubType != "" && ev.SubType != "thread_broadcast" {
		return nil
	}
	threadRoot := ev.ThreadTimeStamp
	if threadRoot == "" {
		threadRoot = ev.TimeStamp
	}
	return &models.Message{
		Platform:          models.PlatformSlack,
		PlatformMessageID: ev.Channel + ":" + ev.TimeStamp,
		ThreadID:          ev.Channel + ":" + threadRoot,
		SenderID:          ev.User,
		SenderName:        ev.User,
		Content:           ev.Text,
		Timestamp:         slackEventTime(ev.TimeStamp),
	}
}

// slackEventTime parses Slack's "seconds.micros" event timestamp.
func slackEventTime(ts string) time.Time {
	secs, err := strconv.ParseInt(strings.SplitN(ts, ".", 2)[0], 10, 64)
	if err != nil {
		return time.Now().UTC()
	}
	return time.Unix(secs, 0).UTC()
}

// dispatchSlackMessage resolves the workspace to a user and runs ingestion
// off the request path.
func (s *Server) dispatchSlackMessage(teamID string, msg *models.Message) {
	ctx := context.WithoutCancel(context.Background())
	go func() {
		ctx, cancel := context.WithTimeout(ctx, webhookDispatchTimeout)
		defer cancel()

		userID, err := s.ingestor.ResolveWebhookUser(ctx, models.PlatformSlack, teamID)
		if err != nil {
			s.logger.Warn("No user for slack workspace", "team_id", teamID, "error", err)
			return
		}
		if err := s.ingestor.ProcessWebhookMessage(ctx, userID, msg); err != nil {
			s.logger.Error("Failed to process slack webhook message", "error", err)
		}
	}()
}

// telegramWebhookHandler receives bot updates on the per-user endpoint
// registered at connect time. Telegram retries on non-200, so unusable
// updates are acknowledged and dropped.
func (s *Server) telegramWebhookHandler(c *echo.Context) error {
	userID := c.Param("user_id")
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, webhookBodyLimit))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read body")
	}

	msg := adapters.ParseTelegramWebhook(body)
	if msg == nil {
		return c.NoContent(http.StatusOK)
	}

	ctx := context.WithoutCancel(c.Request().Context())
	go func() {
		ctx, cancel := context.WithTimeout(ctx, webhookDispatchTimeout)
		defer cancel()
		if err := s.ingestor.ProcessWebhookMessage(ctx, userID, msg); err != nil {
			s.logger.Error("Failed to process telegram webhook message", "user_id", userID, "error", err)
		}
	}()
	return c.NoContent(http.StatusOK)
}

// discordWebhookHandler acknowledges Discord pings. Message delivery runs
// over the gateway connection, not webhooks.
func (s *Server) discordWebhookHandler(c *echo.Context) error {
	return c.NoContent(http.StatusOK)
}
