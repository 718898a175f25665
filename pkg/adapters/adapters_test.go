package adapters

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unifyinbox/unifyinbox/pkg/models"
)

func TestRegistryResolvesCaseInsensitive(t *testing.T) {
	r := NewRegistry(NewSlackAdapter(), NewTelegramAdapter())

	a, err := r.Get("Slack")
	require.NoError(t, err)
	assert.Equal(t, models.PlatformSlack, a.Platform())

	_, err = r.Get("carrier-pigeon")
	assert.ErrorContains(t, err, "unsupported platform")

	assert.Len(t, r.Platforms(), 2)
}

func TestParseFromHeader(t *testing.T) {
	tests := []struct {
		in    string
		name  string
		email string
	}{
		{`Alice Chen <alice@example.com>`, "Alice Chen", "alice@example.com"},
		{`"Chen, Alice" <alice@example.com>`, "Chen, Alice", "alice@example.com"},
		{`<alice@example.com>`, "alice@example.com", "alice@example.com"},
		{`alice@example.com`, "alice@example.com", "alice@example.com"},
	}
	for _, tt := range tests {
		name, email := parseFromHeader(tt.in)
		assert.Equal(t, tt.name, name, tt.in)
		assert.Equal(t, tt.email, email, tt.in)
	}
}

func b64url(s string) string {
	return base64.URLEncoding.EncodeToString([]byte(s))
}

func TestExtractTextPlainWalksMultipart(t *testing.T) {
	part := gmailPart{MimeType: "multipart/alternative"}
	html := gmailPart{MimeType: "text/html"}
	html.Body.Data = b64url("<b>nope</b>")
	plain := gmailPart{MimeType: "text/plain; charset=UTF-8"}
	plain.Body.Data = b64url("the actual text")
	part.Parts = []gmailPart{html, plain}

	assert.Equal(t, "the actual text", extractTextPlain(part))
}

func TestGmailFetchNewMessages(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/gmail/v1/users/me/messages", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		q := r.URL.Query().Get("q")
		assert.Contains(t, q, "after:")
		assert.Contains(t, q, "in:inbox")
		json.NewEncoder(w).Encode(map[string]any{
			"messages": []map[string]string{{"id": "g1"}},
		})
	})
	mux.HandleFunc("/gmail/v1/users/me/messages/g1", func(w http.ResponseWriter, r *http.Request) {
		body := map[string]any{
			"id":           "g1",
			"threadId":     "t1",
			"snippet":      "fallback snippet",
			"internalDate": "1703073300000",
			"payload": map[string]any{
				"mimeType": "multipart/alternative",
				"headers": []map[string]string{
					{"name": "From", "value": "Alice Chen <alice@example.com>"},
					{"name": "Subject", "value": "Contract review"},
				},
				"parts": []map[string]any{
					{"mimeType": "text/plain", "body": map[string]string{"data": b64url("Please review by Friday")}},
				},
			},
		}
		json.NewEncoder(w).Encode(body)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	a := NewGmailAdapter("cid", "secret")
	a.apiBase = server.URL

	msgs, err := a.FetchNewMessages(context.Background(),
		Credentials{AccessToken: "tok"}, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	msg := msgs[0]
	assert.Equal(t, models.PlatformGmail, msg.Platform)
	assert.Equal(t, "g1", msg.PlatformMessageID)
	assert.Equal(t, "t1", msg.ThreadID)
	assert.Equal(t, "Alice Chen", msg.SenderName)
	require.NotNil(t, msg.SenderEmail)
	assert.Equal(t, "alice@example.com", *msg.SenderEmail)
	assert.Equal(t, "Contract review\n\nPlease review by Friday", msg.Content)
	assert.Equal(t, time.UnixMilli(1703073300000).UTC(), msg.Timestamp)
}

func TestGmailAuthFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(server.Close)

	a := NewGmailAdapter("cid", "secret")
	a.apiBase = server.URL

	_, err := a.FetchNewMessages(context.Background(), Credentials{AccessToken: "bad"}, time.Now())
	assert.ErrorIs(t, err, ErrAuthFailed)
}

func TestGmailSendThreadsMessage(t *testing.T) {
	var sent struct {
		Raw      string `json:"raw"`
		ThreadID string `json:"threadId"`
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/gmail/v1/users/me/messages/send", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&sent))
		json.NewEncoder(w).Encode(map[string]string{"id": "sent-1"})
	}))
	t.Cleanup(server.Close)

	a := NewGmailAdapter("cid", "secret")
	a.apiBase = server.URL

	id, err := a.SendMessage(context.Background(), Credentials{AccessToken: "tok"},
		"Looks good, signing today.", SendOptions{
			ToEmail:  "alice@example.com",
			Subject:  "Re: Contract review",
			ThreadID: "t1",
		})
	require.NoError(t, err)
	assert.Equal(t, "sent-1", id)
	assert.Equal(t, "t1", sent.ThreadID)

	mime, err := base64.URLEncoding.DecodeString(sent.Raw)
	require.NoError(t, err)
	assert.Contains(t, string(mime), "To: alice@example.com")
	assert.Contains(t, string(mime), "Subject: Re: Contract review")
	assert.Contains(t, string(mime), "Looks good, signing today.")
}

func TestGmailRefreshCredentials(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.Form.Get("grant_type"))
		assert.Equal(t, "rt", r.Form.Get("refresh_token"))
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "fresh",
			"expires_in":   3600,
		})
	}))
	t.Cleanup(server.Close)

	a := NewGmailAdapter("cid", "secret")
	a.oauthURL = server.URL

	refreshed, err := a.RefreshCredentials(context.Background(),
		Credentials{AccessToken: "old", RefreshToken: "rt"})
	require.NoError(t, err)
	assert.Equal(t, "fresh", refreshed.AccessToken)
	assert.Equal(t, "rt", refreshed.RefreshToken)
	require.NotNil(t, refreshed.Expiry)
	assert.WithinDuration(t, time.Now().Add(time.Hour), *refreshed.Expiry, time.Minute)
}

func newSlackServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/conversations.list", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"ok": true,
			"channels": []map[string]any{
				{"id": "D1"},
				{"id": "D2"},
			},
		})
	})
	mux.HandleFunc("/conversations.history", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		if r.Form.Get("channel") == "D2" {
			json.NewEncoder(w).Encode(map[string]any{"ok": false, "error": "channel_not_found"})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"ok": true,
			"messages": []map[string]any{
				{"type": "message", "user": "U1", "text": "deploy is done", "ts": "1703073300.000400"},
				{"type": "message", "user": "U2", "text": "bot says hi", "ts": "1703073301.000100", "bot_id": "B9"},
				{"type": "message", "user": "U1", "text": "joined", "ts": "1703073302.000100", "subtype": "channel_join"},
				{"type": "message", "user": "U3", "text": "also here", "ts": "1703073303.000100", "subtype": "thread_broadcast", "thread_ts": "1703073300.000400"},
			},
		})
	})
	mux.HandleFunc("/users.info", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		json.NewEncoder(w).Encode(map[string]any{
			"ok":   true,
			"user": map[string]any{"id": r.Form.Get("user"), "name": "alice", "real_name": "Alice Chen"},
		})
	})
	mux.HandleFunc("/chat.postMessage", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		assert.Equal(t, "D1", r.Form.Get("channel"))
		json.NewEncoder(w).Encode(map[string]any{"ok": true, "ts": "1703073400.000100"})
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestSlackFetchFiltersBotsAndSubtypes(t *testing.T) {
	server := newSlackServer(t)
	a := NewSlackAdapter()
	a.apiURL = server.URL + "/"

	msgs, err := a.FetchNewMessages(context.Background(),
		Credentials{AccessToken: "xoxp-test"}, time.Unix(1703073000, 0))
	require.NoError(t, err)

	// Bot and channel_join messages are dropped; thread_broadcast stays.
	// The failing D2 conversation is skipped without aborting D1.
	require.Len(t, msgs, 2)
	assert.Equal(t, "deploy is done", msgs[0].Content)
	assert.Equal(t, "Alice Chen", msgs[0].SenderName)
	assert.Equal(t, "D1:1703073300.000400", msgs[0].PlatformMessageID)
	assert.Equal(t, "D1:1703073300.000400", msgs[0].ThreadID)
	assert.Equal(t, "also here", msgs[1].Content)
	assert.Equal(t, "D1:1703073300.000400", msgs[1].ThreadID)
}

func TestSlackSendMessage(t *testing.T) {
	server := newSlackServer(t)
	a := NewSlackAdapter()
	a.apiURL = server.URL + "/"

	ts, err := a.SendMessage(context.Background(), Credentials{AccessToken: "xoxp-test"},
		"on it", SendOptions{ChannelID: "D1"})
	require.NoError(t, err)
	assert.Equal(t, "1703073400.000100", ts)
}

func TestSlackSyntheticWebhookID(t *testing.T) {
	a := NewSlackAdapter()
	id, err := a.SetupWebhook(context.Background(), Credentials{UserID: "u1"}, "https://api.example.com")
	require.NoError(t, err)
	assert.Equal(t, "slack-events-u1", id)

	_, err = a.RefreshCredentials(context.Background(), Credentials{})
	assert.ErrorIs(t, err, ErrRefreshUnsupported)
}

func TestSlackTimestamp(t *testing.T) {
	ts := slackTimestamp("1703073300.000400")
	assert.Equal(t, time.Unix(1703073300, 400000).UTC(), ts)
}

func TestTelegramFetchAndConfirm(t *testing.T) {
	var calls []map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("/bottok/getUpdates", func(w http.ResponseWriter, r *http.Request) {
		var params map[string]any
		json.NewDecoder(r.Body).Decode(&params)
		calls = append(calls, params)

		if _, confirming := params["offset"]; confirming {
			json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": []any{}})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"ok": true,
			"result": []map[string]any{
				{
					"update_id": 7,
					"message": map[string]any{
						"message_id": 101,
						"date":       time.Now().Unix(),
						"text":       "dinner at 8?",
						"chat":       map[string]any{"id": 555},
						"from": map[string]any{
							"id": 42, "is_bot": false,
							"first_name": "Maya", "last_name": "K",
						},
					},
				},
				{
					"update_id": 8,
					"message": map[string]any{
						"message_id": 102,
						"date":       time.Now().Unix(),
						"text":       "beep",
						"chat":       map[string]any{"id": 555},
						"from":       map[string]any{"id": 43, "is_bot": true, "first_name": "Bot"},
					},
				},
			},
		})
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	a := NewTelegramAdapter()
	a.apiBase = server.URL

	msgs, err := a.FetchNewMessages(context.Background(),
		Credentials{AccessToken: "tok"}, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "555:101", msgs[0].PlatformMessageID)
	assert.Equal(t, "555", msgs[0].ThreadID)
	assert.Equal(t, "Maya K", msgs[0].SenderName)
	assert.Equal(t, "42", msgs[0].SenderID)

	// The second call confirms past update 8.
	require.Len(t, calls, 2)
	assert.Equal(t, float64(9), calls[1]["offset"])
}

func TestTelegramSendMessageHTMLReply(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/bottok/sendMessage", func(w http.ResponseWriter, r *http.Request) {
		var params map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&params))
		assert.Equal(t, "555", params["chat_id"])
		assert.Equal(t, "HTML", params["parse_mode"])
		assert.Equal(t, float64(101), params["reply_to_message_id"])
		json.NewEncoder(w).Encode(map[string]any{
			"ok":     true,
			"result": map[string]any{"message_id": 200},
		})
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	a := NewTelegramAdapter()
	a.apiBase = server.URL

	id, err := a.SendMessage(context.Background(), Credentials{AccessToken: "tok"},
		"see you at 8", SendOptions{ChatID: "555", ReplyTo: "101"})
	require.NoError(t, err)
	assert.Equal(t, "200", id)
}

func TestTelegramSetupWebhook(t *testing.T) {
	var webhookURL string
	mux := http.NewServeMux()
	mux.HandleFunc("/bottok/setWebhook", func(w http.ResponseWriter, r *http.Request) {
		var params map[string]any
		json.NewDecoder(r.Body).Decode(&params)
		webhookURL, _ = params["url"].(string)
		json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": true})
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	a := NewTelegramAdapter()
	a.apiBase = server.URL

	id, err := a.SetupWebhook(context.Background(),
		Credentials{UserID: "u1", AccessToken: "tok"}, "https://api.example.com/")
	require.NoError(t, err)
	assert.Equal(t, "telegram-webhook-u1", id)
	assert.Equal(t, "https://api.example.com/webhooks/telegram/u1", webhookURL)
}

func TestTelegramGetMe(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/bottok/getMe", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"ok":     true,
			"result": map[string]any{"username": "inbox_bot"},
		})
	})
	mux.HandleFunc("/botbad/getMe", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"ok": false, "description": "Unauthorized"})
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	a := NewTelegramAdapter()
	a.apiBase = server.URL

	username, err := a.GetMe(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, "inbox_bot", username)

	_, err = a.GetMe(context.Background(), "bad")
	assert.ErrorContains(t, err, "Unauthorized")
}

func TestDiscordFetchSkipsSelfAndBots(t *testing.T) {
	now := time.Now().UTC()
	mux := http.NewServeMux()
	mux.HandleFunc("/users/@me/channels", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bot tok", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode([]map[string]string{{"id": "C1"}})
	})
	mux.HandleFunc("/channels/C1/messages", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "50", r.URL.Query().Get("limit"))
		json.NewEncoder(w).Encode([]map[string]any{
			{
				"id": "d1", "channel_id": "C1", "content": "you around?",
				"timestamp": now.Format(time.RFC3339),
				"author":    map[string]any{"id": "friend", "username": "sam", "global_name": "Sam R"},
			},
			{
				"id": "d2", "channel_id": "C1", "content": "my own reply",
				"timestamp": now.Format(time.RFC3339),
				"author":    map[string]any{"id": "self-id", "username": "me"},
			},
			{
				"id": "d3", "channel_id": "C1", "content": "beep",
				"timestamp": now.Format(time.RFC3339),
				"author":    map[string]any{"id": "b1", "username": "helper", "bot": true},
			},
		})
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	a := NewDiscordAdapter()
	a.apiBase = server.URL

	msgs, err := a.FetchNewMessages(context.Background(),
		Credentials{AccessToken: "tok", PlatformUserID: "self-id"}, now.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "d1", msgs[0].PlatformMessageID)
	assert.Equal(t, "C1", msgs[0].ThreadID)
	assert.Equal(t, "Sam R", msgs[0].SenderName)
}

func TestDiscordSendMessage(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/channels/C1/messages", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "sure, give me 10", body["content"])
		json.NewEncoder(w).Encode(map[string]string{"id": "d-sent"})
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	a := NewDiscordAdapter()
	a.apiBase = server.URL

	id, err := a.SendMessage(context.Background(), Credentials{AccessToken: "tok"},
		"sure, give me 10", SendOptions{ChannelID: "C1"})
	require.NoError(t, err)
	assert.Equal(t, "d-sent", id)
}

func TestNormalizeDiscordMessageEmptyContent(t *testing.T) {
	raw := discordMessage{ID: "d1", ChannelID: "C1"}
	raw.Author.ID = "friend"
	assert.Nil(t, normalizeDiscordMessage(raw, ""))
}

func TestGatewayHelloValidation(t *testing.T) {
	// A server that never sends Hello should fail the handshake.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(server.Close)

	g := NewDiscordGateway("u1", "tok", "self", func(string, *models.Message) {})
	g.gatewayURL = "ws" + strings.TrimPrefix(server.URL, "http")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := g.serve(ctx)
	assert.Error(t, err)
}
