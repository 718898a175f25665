package agents

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/unifyinbox/unifyinbox/pkg/llm"
	"github.com/unifyinbox/unifyinbox/pkg/models"
)

// Summaries are only generated for threads long enough to need them, and
// the prompt sees at most the last 20 messages.
const (
	summaryMinMessages   = 3
	summaryContextWindow = 20
)

const summarySystemPrompt = `You summarize a message thread so the user can catch up at a glance.
Respond with ONLY a JSON object, no prose, in this exact shape:
{"key_points": ["at most three short bullets"],
 "action_items": ["things the user needs to do"],
 "current_status": "one sentence",
 "next_step": "one sentence"}`

// ThreadSummary is the structured thread digest.
type ThreadSummary struct {
	KeyPoints     []string `json:"key_points"`
	ActionItems   []string `json:"action_items"`
	CurrentStatus string   `json:"current_status"`
	NextStep      string   `json:"next_step"`
}

// Summarizer digests long threads.
type Summarizer struct {
	completer llm.Completer
	logger    *slog.Logger
}

// NewSummarizer creates a Summarizer.
func NewSummarizer(completer llm.Completer) *Summarizer {
	return &Summarizer{
		completer: completer,
		logger:    slog.Default().With("component", "agent-summarizer"),
	}
}

// Summarize digests a thread. Threads shorter than three messages return
// nil; failures return nil rather than an error because the summary is a
// garnish on the thread response, never required.
func (s *Summarizer) Summarize(ctx context.Context, thread []models.Message) *ThreadSummary {
	if len(thread) < summaryMinMessages {
		return nil
	}

	var summary ThreadSummary
	err := completeJSON(ctx, s.completer, llm.Request{
		Model:     llm.ModelHaiku,
		System:    summarySystemPrompt,
		User:      summaryUserPrompt(thread),
		MaxTokens: summarizerMaxTokens,
	}, &summary)
	if err != nil {
		s.logger.Warn("Thread summary failed", "error", err)
		return nil
	}
	if len(summary.KeyPoints) > 3 {
		summary.KeyPoints = summary.KeyPoints[:3]
	}
	return &summary
}

func summaryUserPrompt(thread []models.Message) string {
	start := 0
	if len(thread) > summaryContextWindow {
		start = len(thread) - summaryContextWindow
	}
	var sb strings.Builder
	sb.WriteString("Thread, oldest first:\n")
	for _, m := range thread[start:] {
		fmt.Fprintf(&sb, "[%s at %s] %s\n",
			m.SenderName, m.Timestamp.Format("Jan 2 15:04"), truncate(m.Content, 300))
	}
	return sb.String()
}
