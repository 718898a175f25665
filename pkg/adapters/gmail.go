package adapters

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/unifyinbox/unifyinbox/pkg/models"
)

const (
	gmailAPIBase   = "https://gmail.googleapis.com"
	googleOAuthURL = "https://oauth2.googleapis.com/token"
	gmailFetchMax  = 50
)

// fromHeaderRe splits `Display Name <addr@host>` From headers.
var fromHeaderRe = regexp.MustCompile(`^\s*"?([^"<]*?)"?\s*<([^>]+)>\s*$`)

// GmailAdapter talks to the Gmail REST API.
type GmailAdapter struct {
	apiBase      string
	oauthURL     string
	clientID     string
	clientSecret string
	httpClient   *http.Client
	logger       *slog.Logger
}

// NewGmailAdapter creates the Gmail connector.
func NewGmailAdapter(clientID, clientSecret string) *GmailAdapter {
	return &GmailAdapter{
		apiBase:      gmailAPIBase,
		oauthURL:     googleOAuthURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		logger:       slog.Default().With("component", "adapter-gmail"),
	}
}

// Platform implements Adapter.
func (a *GmailAdapter) Platform() models.Platform {
	return models.PlatformGmail
}

// FetchNewMessages lists inbox messages received after since and hydrates
// each one. Individual message fetch failures are skipped, not fatal.
func (a *GmailAdapter) FetchNewMessages(ctx context.Context, creds Credentials, since time.Time) ([]models.Message, error) {
	query := fmt.Sprintf("after:%d in:inbox", since.Unix())
	listURL := fmt.Sprintf("%s/gmail/v1/users/me/messages?q=%s&maxResults=%d",
		a.apiBase, url.QueryEscape(query), gmailFetchMax)

	var list struct {
		Messages []struct {
			ID string `json:"id"`
		} `json:"messages"`
	}
	if err := a.get(ctx, creds.AccessToken, listURL, &list); err != nil {
		return nil, fmt.Errorf("failed to list gmail messages: %w", err)
	}

	messages := make([]models.Message, 0, len(list.Messages))
	for _, ref := range list.Messages {
		msg, err := a.fetchMessage(ctx, creds.AccessToken, ref.ID)
		if err != nil {
			a.logger.Warn("Failed to fetch gmail message", "gmail_id", ref.ID, "error", err)
			continue
		}
		messages = append(messages, *msg)
	}
	return messages, nil
}

// gmailPart is one node of the MIME tree returned with format=full.
type gmailPart struct {
	MimeType string `json:"mimeType"`
	Body     struct {
		Data string `json:"data"`
	} `json:"body"`
	Parts []gmailPart `json:"parts"`
}

func (a *GmailAdapter) fetchMessage(ctx context.Context, token, id string) (*models.Message, error) {
	var raw struct {
		ID           string `json:"id"`
		ThreadID     string `json:"threadId"`
		Snippet      string `json:"snippet"`
		InternalDate string `json:"internalDate"`
		Payload      struct {
			gmailPart
			Headers []struct {
				Name  string `json:"name"`
				Value string `json:"value"`
			} `json:"headers"`
		} `json:"payload"`
	}
	fetchURL := fmt.Sprintf("%s/gmail/v1/users/me/messages/%s?format=full", a.apiBase, id)
	if err := a.get(ctx, token, fetchURL, &raw); err != nil {
		return nil, err
	}

	var from, subject string
	for _, h := range raw.Payload.Headers {
		switch strings.ToLower(h.Name) {
		case "from":
			from = h.Value
		case "subject":
			subject = h.Value
		}
	}
	senderName, senderEmail := parseFromHeader(from)

	body := extractTextPlain(raw.Payload.gmailPart)
	if body == "" {
		body = raw.Snippet
	}
	content := body
	if subject != "" {
		content = subject + "\n\n" + body
	}

	ts := time.Now().UTC()
	if ms, err := strconv.ParseInt(raw.InternalDate, 10, 64); err == nil {
		ts = time.UnixMilli(ms).UTC()
	}

	msg := &models.Message{
		Platform:          models.PlatformGmail,
		PlatformMessageID: raw.ID,
		ThreadID:          raw.ThreadID,
		SenderID:          senderEmail,
		SenderName:        senderName,
		Content:           content,
		Timestamp:         ts,
	}
	if senderEmail != "" {
		msg.SenderEmail = &senderEmail
	}
	return msg, nil
}

// SendMessage sends a reply as a base64url MIME message, threaded when a
// thread id is given.
func (a *GmailAdapter) SendMessage(ctx context.Context, creds Credentials, content string, opts SendOptions) (string, error) {
	if opts.ToEmail == "" {
		return "", fmt.Errorf("to_email is required for gmail send")
	}
	subject := opts.Subject
	if subject == "" {
		subject = "Re:"
	}

	mime := fmt.Sprintf("To: %s\r\nSubject: %s\r\nContent-Type: text/plain; charset=\"UTF-8\"\r\n\r\n%s",
		opts.ToEmail, subject, content)
	payload := map[string]string{
		"raw": base64.URLEncoding.EncodeToString([]byte(mime)),
	}
	if opts.ThreadID != "" {
		payload["threadId"] = opts.ThreadID
	}

	var resp struct {
		ID string `json:"id"`
	}
	sendURL := a.apiBase + "/gmail/v1/users/me/messages/send"
	if err := a.postJSON(ctx, creds.AccessToken, sendURL, payload, &resp); err != nil {
		return "", fmt.Errorf("failed to send gmail message: %w", err)
	}
	return resp.ID, nil
}

// SetupWebhook is a no-op for Gmail. Push delivery needs a Cloud Pub/Sub
// topic this deployment does not provision; new mail arrives via the
// periodic sync instead.
func (a *GmailAdapter) SetupWebhook(_ context.Context, _ Credentials, _ string) (string, error) {
	return "", nil
}

// RefreshCredentials exchanges the refresh token for a new access token.
func (a *GmailAdapter) RefreshCredentials(ctx context.Context, creds Credentials) (*Refreshed, error) {
	if creds.RefreshToken == "" {
		return nil, fmt.Errorf("no refresh token on file")
	}

	form := url.Values{
		"client_id":     {a.clientID},
		"client_secret": {a.clientSecret},
		"refresh_token": {creds.RefreshToken},
		"grant_type":    {"refresh_token"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.oauthURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token refresh request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token refresh returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var token struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(raw, &token); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}
	if token.AccessToken == "" {
		return nil, fmt.Errorf("token response missing access_token")
	}

	refreshed := &Refreshed{
		AccessToken:  token.AccessToken,
		RefreshToken: creds.RefreshToken,
	}
	if token.ExpiresIn > 0 {
		expiry := time.Now().Add(time.Duration(token.ExpiresIn) * time.Second)
		refreshed.Expiry = &expiry
	}
	return refreshed, nil
}

func (a *GmailAdapter) get(ctx context.Context, token, rawURL string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return a.do(req, dest)
}

func (a *GmailAdapter) postJSON(ctx context.Context, token, rawURL string, body, dest any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	return a.do(req, dest)
}

func (a *GmailAdapter) do(req *http.Request, dest any) error {
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
		return fmt.Errorf("gmail returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if dest != nil && len(raw) > 0 {
		return json.Unmarshal(raw, dest)
	}
	return nil
}

// parseFromHeader splits a From header into display name and address.
func parseFromHeader(from string) (name, email string) {
	if m := fromHeaderRe.FindStringSubmatch(from); m != nil {
		name = strings.TrimSpace(m[1])
		email = strings.TrimSpace(m[2])
		if name == "" {
			name = email
		}
		return name, email
	}
	email = strings.TrimSpace(from)
	return email, email
}

// extractTextPlain walks the MIME tree for the first text/plain part.
func extractTextPlain(part gmailPart) string {
	if strings.HasPrefix(part.MimeType, "text/plain") && part.Body.Data != "" {
		if decoded, err := base64.URLEncoding.WithPadding(base64.NoPadding).DecodeString(strings.TrimRight(part.Body.Data, "=")); err == nil {
			return string(decoded)
		}
	}
	for _, child := range part.Parts {
		if text := extractTextPlain(child); text != "" {
			return text
		}
	}
	return ""
}
