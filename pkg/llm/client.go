// Package llm wraps the Anthropic Messages API behind the narrow interface
// the enrichment agents use: one system prompt, one user message, one text
// response.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Model identifiers. Haiku-class handles the high-volume enrichment calls;
// sonnet-class is reserved for draft replies.
const (
	ModelHaiku  = "claude-haiku-4-5-20251001"
	ModelSonnet = "claude-sonnet-4-6"
)

// callTimeout is the hard per-call budget. An agent whose call exceeds it
// falls back to its deterministic path.
const callTimeout = 30 * time.Second

// Completer is the contract the agents depend on. Satisfied by Client and
// by test fakes.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Request is a single completion call.
type Request struct {
	Model     string
	System    string
	User      string
	MaxTokens int64
}

// Client calls the Anthropic API.
type Client struct {
	api    anthropic.Client
	logger *slog.Logger
}

// NewClient creates a Client with an explicit API key.
func NewClient(apiKey string) *Client {
	return &Client{
		api:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		logger: slog.Default().With("component", "llm-client"),
	}
}

// NewClientWithBaseURL targets a custom API endpoint. Useful for testing
// with a mock server.
func NewClientWithBaseURL(apiKey, baseURL string) *Client {
	return &Client{
		api:    anthropic.NewClient(option.WithAPIKey(apiKey), option.WithBaseURL(baseURL)),
		logger: slog.Default().With("component", "llm-client"),
	}
}

// Complete sends one system + user prompt pair and returns the first text
// block of the response.
func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	msg, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: req.MaxTokens,
		System: []anthropic.TextBlockParam{
			{Text: req.System},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.User)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic messages: %w", err)
	}

	for _, block := range msg.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", fmt.Errorf("no text block in response")
}
