package agents

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/unifyinbox/unifyinbox/pkg/llm"
	"github.com/unifyinbox/unifyinbox/pkg/models"
)

// fallbackContextNote marks context output produced without the LLM.
const fallbackContextNote = "Context built using fallback rules (AI unavailable)"

const contextSystemPrompt = `You analyze the relationship between a user and a message sender.
Respond with ONLY a JSON object, no prose, in this exact shape:
{"relationship": "vip|close_contact|work_contact|acquaintance|stranger|bot|newsletter",
 "reply_rate": 0.0,
 "context_summary": "one sentence on who this sender is to the user",
 "is_vip": false}`

// ContextResult is the ContextBuilder's slice of the enrichment.
type ContextResult struct {
	Relationship   models.Relationship `json:"relationship"`
	ReplyRate      float64             `json:"reply_rate"`
	ContextSummary string              `json:"context_summary"`
	IsVIP          bool                `json:"is_vip"`
}

// ContextBuilder infers the sender relationship from interaction history.
type ContextBuilder struct {
	completer llm.Completer
	logger    *slog.Logger
}

// NewContextBuilder creates a ContextBuilder.
func NewContextBuilder(completer llm.Completer) *ContextBuilder {
	return &ContextBuilder{
		completer: completer,
		logger:    slog.Default().With("component", "agent-context"),
	}
}

// Build returns the relationship assessment for the message's sender,
// falling back to domain heuristics when the LLM path fails.
func (b *ContextBuilder) Build(ctx context.Context, msg *models.Message, stats *models.SenderStats) ContextResult {
	result, err := b.buildLLM(ctx, msg, stats)
	if err != nil {
		b.logger.Warn("Context agent falling back",
			"message_id", msg.ID, "error", err)
		return FallbackContext(msg, stats)
	}
	return result
}

func (b *ContextBuilder) buildLLM(ctx context.Context, msg *models.Message, stats *models.SenderStats) (ContextResult, error) {
	var result ContextResult
	err := completeJSON(ctx, b.completer, llm.Request{
		Model:     llm.ModelHaiku,
		System:    contextSystemPrompt,
		User:      contextUserPrompt(msg, stats),
		MaxTokens: contextMaxTokens,
	}, &result)
	if err != nil {
		return ContextResult{}, err
	}
	if !result.Relationship.Valid() {
		return ContextResult{}, fmt.Errorf("invalid relationship %q", result.Relationship)
	}
	result.ReplyRate = clamp01(result.ReplyRate)
	return result, nil
}

func contextUserPrompt(msg *models.Message, stats *models.SenderStats) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Sender: %s", msg.SenderName)
	if msg.SenderEmail != nil {
		fmt.Fprintf(&sb, " <%s>", *msg.SenderEmail)
	}
	fmt.Fprintf(&sb, "\nPlatform: %s\n", msg.Platform)
	fmt.Fprintf(&sb, "History: %d messages, %d replied, reply rate %.2f, avg reply gap %.1fh\n",
		stats.TotalMessages, stats.ReplyCount, stats.ReplyRate, stats.AvgReplyHours)
	if len(stats.Recent) > 0 {
		sb.WriteString("Recent messages from this sender (newest first):\n")
		for i, m := range stats.Recent {
			if i >= 5 {
				break
			}
			fmt.Fprintf(&sb, "- %s\n", truncate(m.Content, 200))
		}
	}
	return sb.String()
}

// FallbackContext classifies the sender from address shape alone:
// automated local-parts read as bots, consumer mail domains as
// acquaintances, everything else as strangers.
func FallbackContext(msg *models.Message, stats *models.SenderStats) ContextResult {
	result := ContextResult{
		Relationship:   models.RelationshipStranger,
		ContextSummary: fallbackContextNote,
	}
	if stats != nil {
		result.ReplyRate = clamp01(stats.ReplyRate)
	}

	var addr string
	if msg.SenderEmail != nil {
		addr = strings.ToLower(*msg.SenderEmail)
	} else {
		addr = strings.ToLower(msg.SenderID)
	}

	for _, marker := range []string{"noreply", "no-reply", "notifications", "mailer"} {
		if strings.Contains(addr, marker) {
			result.Relationship = models.RelationshipBot
			return result
		}
	}
	for _, domain := range []string{"@gmail.com", "@outlook.com", "@yahoo.com"} {
		if strings.HasSuffix(addr, domain) {
			result.Relationship = models.RelationshipAcquaintance
			return result
		}
	}
	return result
}
