package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unifyinbox/unifyinbox/pkg/models"
)

func slackSign(secret, body string) map[string]string {
	ts := fmt.Sprint(time.Now().Unix())
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte("v0:" + ts + ":" + body))
	return map[string]string{
		"X-Slack-Request-Timestamp": ts,
		"X-Slack-Signature":         "v0=" + hex.EncodeToString(mac.Sum(nil)),
	}
}

func TestSlackWebhookRejectsBadSignature(t *testing.T) {
	s := newTestServer(nil, nil, newFakeIngestor())
	e := s.Routes()

	body := `{"type":"url_verification","challenge":"abc"}`
	rec := postJSON(t, e, "/webhooks/slack", body, map[string]string{
		"X-Slack-Request-Timestamp": fmt.Sprint(time.Now().Unix()),
		"X-Slack-Signature":         "v0=deadbeef",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = postJSON(t, e, "/webhooks/slack", body, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSlackWebhookURLVerification(t *testing.T) {
	s := newTestServer(nil, nil, newFakeIngestor())
	e := s.Routes()

	body := `{"type":"url_verification","challenge":"challenge-123"}`
	rec := postJSON(t, e, "/webhooks/slack", body, slackSign(s.settings.SlackSigningSecret, body))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "challenge-123")
}

func TestSlackWebhookDeliversMessage(t *testing.T) {
	ingestor := newFakeIngestor()
	ingestor.userByTeam["T123"] = "u7"
	s := newTestServer(nil, nil, ingestor)
	e := s.Routes()

	body := `{"type":"event_callback","team_id":"T123","event":{` +
		`"type":"message","user":"U42","text":"deploy is done",` +
		`"ts":"1700000000.000100","channel":"C9"}}`
	rec := postJSON(t, e, "/webhooks/slack", body, slackSign(s.settings.SlackSigningSecret, body))
	require.Equal(t, http.StatusOK, rec.Code)

	select {
	case got := <-ingestor.received:
		assert.Equal(t, "u7", got.userID)
		assert.Equal(t, models.PlatformSlack, got.msg.Platform)
		assert.Equal(t, "C9:1700000000.000100", got.msg.PlatformMessageID)
		assert.Equal(t, "C9:1700000000.000100", got.msg.ThreadID)
		assert.Equal(t, "deploy is done", got.msg.Content)
	case <-time.After(2 * time.Second):
		t.Fatal("webhook message was not dispatched")
	}
}

func TestSlackWebhookSkipsBotsAndEdits(t *testing.T) {
	ingestor := newFakeIngestor()
	ingestor.userByTeam["T123"] = "u7"
	s := newTestServer(nil, nil, ingestor)
	e := s.Routes()

	bodies := []string{
		// Bot message.
		`{"type":"event_callback","team_id":"T123","event":{` +
			`"type":"message","bot_id":"B1","text":"beep","ts":"1700000000.000200","channel":"C9"}}`,
		// Edit.
		`{"type":"event_callback","team_id":"T123","event":{` +
			`"type":"message","subtype":"message_changed","user":"U42","text":"edited",` +
			`"ts":"1700000000.000300","channel":"C9"}}`,
	}
	for _, body := range bodies {
		rec := postJSON(t, e, "/webhooks/slack", body, slackSign(s.settings.SlackSigningSecret, body))
		assert.Equal(t, http.StatusOK, rec.Code)
	}

	select {
	case got := <-ingestor.received:
		t.Fatalf("unexpected dispatch: %+v", got.msg)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestTelegramWebhookDeliversMessage(t *testing.T) {
	ingestor := newFakeIngestor()
	s := newTestServer(nil, nil, ingestor)
	e := s.Routes()

	body := `{"update_id":1,"message":{"message_id":5,"date":1700000000,` +
		`"text":"hi there","chat":{"id":42},` +
		`"from":{"id":7,"first_name":"Ann","last_name":"Lee"}}}`
	rec := postJSON(t, e, "/webhooks/telegram/u9", body, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	select {
	case got := <-ingestor.received:
		assert.Equal(t, "u9", got.userID)
		assert.Equal(t, models.PlatformTelegram, got.msg.Platform)
		assert.Equal(t, "42:5", got.msg.PlatformMessageID)
		assert.Equal(t, "Ann Lee", got.msg.SenderName)
	case <-time.After(2 * time.Second):
		t.Fatal("webhook message was not dispatched")
	}
}

func TestTelegramWebhookIgnoresNonMessageUpdates(t *testing.T) {
	ingestor := newFakeIngestor()
	s := newTestServer(nil, nil, ingestor)
	e := s.Routes()

	rec := postJSON(t, e, "/webhooks/telegram/u9", `{"update_id":2}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	select {
	case got := <-ingestor.received:
		t.Fatalf("unexpected dispatch: %+v", got.msg)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestDiscordWebhookAcknowledges(t *testing.T) {
	s := newTestServer(nil, nil, newFakeIngestor())
	e := s.Routes()

	req := httptest.NewRequest(http.MethodPost, "/webhooks/discord", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
