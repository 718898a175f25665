package agents

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/unifyinbox/unifyinbox/pkg/llm"
	"github.com/unifyinbox/unifyinbox/pkg/models"
)

// threadContextWindow is how many prior thread messages the draft prompt sees.
const threadContextWindow = 5

const draftSystemPrompt = `You draft a reply the user could send as-is.
Rules: match the requested tone profile exactly; address the content of the
received message; never open with stock pleasantries like "I hope this
finds you well"; output ONLY the reply text with no surrounding markup,
quotes, or commentary.`

// toneProfile describes the platform-appropriate voice for a draft.
type toneProfile struct {
	name        string
	instruction string
}

var toneProfiles = map[models.Platform]toneProfile{
	models.PlatformGmail: {
		name:        "professional",
		instruction: "Professional email: brief greeting, clear body, sign-off. At most 150 words.",
	},
	models.PlatformSlack: {
		name:        "casual-professional",
		instruction: "Slack message: no greeting, casual-professional, at most 3 sentences.",
	},
	models.PlatformTelegram: {
		name:        "direct",
		instruction: "Telegram message: direct and to the point, 1-3 sentences.",
	},
	models.PlatformDiscord: {
		name:        "casual",
		instruction: "Discord message: casual, 1-2 sentences, address the sender by @name.",
	},
}

// whatsappTone covers the personal-chat profile for future adapters.
var whatsappTone = toneProfile{
	name:        "warm",
	instruction: "Personal chat message: warm, short sentences, 1-3 sentences.",
}

// DraftResult carries the draft text and the tone profile that shaped it.
type DraftResult struct {
	Draft    string
	ToneUsed string
}

// DraftWriter produces platform-appropriate reply drafts using the
// sonnet-class model.
type DraftWriter struct {
	completer llm.Completer
	logger    *slog.Logger
}

// NewDraftWriter creates a DraftWriter.
func NewDraftWriter(completer llm.Completer) *DraftWriter {
	return &DraftWriter{
		completer: completer,
		logger:    slog.Default().With("component", "agent-draft"),
	}
}

// Draft writes a reply to msg, seeing up to the last five thread messages
// for context. Falls back to a platform template when the LLM path fails.
func (w *DraftWriter) Draft(ctx context.Context, msg *models.Message, thread []models.Message) DraftResult {
	tone := toneFor(msg.Platform)

	text, err := w.draftLLM(ctx, msg, thread, tone)
	if err != nil {
		w.logger.Warn("Draft agent falling back",
			"message_id", msg.ID, "error", err)
		return DraftResult{Draft: FallbackDraft(msg), ToneUsed: tone.name}
	}
	return DraftResult{Draft: text, ToneUsed: tone.name}
}

func (w *DraftWriter) draftLLM(ctx context.Context, msg *models.Message, thread []models.Message, tone toneProfile) (string, error) {
	text, err := w.completer.Complete(ctx, llm.Request{
		Model:     llm.ModelSonnet,
		System:    draftSystemPrompt,
		User:      draftUserPrompt(msg, thread, tone),
		MaxTokens: draftMaxTokens,
	})
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("empty draft")
	}
	return text, nil
}

func draftUserPrompt(msg *models.Message, thread []models.Message, tone toneProfile) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Tone profile: %s\n\n", tone.instruction)

	if len(thread) > 0 {
		start := 0
		if len(thread) > threadContextWindow {
			start = len(thread) - threadContextWindow
		}
		sb.WriteString("Thread so far (oldest first):\n")
		for _, m := range thread[start:] {
			fmt.Fprintf(&sb, "[%s] %s\n", m.SenderName, truncate(m.Content, 400))
		}
		sb.WriteString("\n")
	}

	fmt.Fprintf(&sb, "Message to reply to, from %s:\n%s\n",
		msg.SenderName, truncate(msg.Content, draftTruncateAt))

	if msg.Sentiment == models.SentimentTense || msg.Sentiment == models.SentimentDistressed {
		fmt.Fprintf(&sb, "\nNote: the sender sounds %s. Be careful and considerate.", msg.Sentiment)
		if msg.SuggestedApproach != "" {
			fmt.Fprintf(&sb, " Guidance: %s", msg.SuggestedApproach)
		}
	}
	return sb.String()
}

// FallbackDraft returns a platform-keyed template addressing the sender by
// first name.
func FallbackDraft(msg *models.Message) string {
	name := firstName(msg.SenderName)
	switch msg.Platform {
	case models.PlatformGmail:
		return fmt.Sprintf("Hi %s,\n\nThank you for your message. I'll review it and get back to you soon.\n\nBest regards", name)
	case models.PlatformSlack:
		return "Thanks for the message - I'll take a look and follow up shortly."
	case models.PlatformTelegram:
		return fmt.Sprintf("Got it, %s - I'll get back to you soon.", name)
	case models.PlatformDiscord:
		return fmt.Sprintf("Hey @%s, saw your message - will reply properly soon!", name)
	default:
		return fmt.Sprintf("Hi %s, thanks for reaching out - I'll reply soon.", name)
	}
}

func toneFor(platform models.Platform) toneProfile {
	if tone, ok := toneProfiles[platform]; ok {
		return tone
	}
	return whatsappTone
}

func firstName(full string) string {
	full = strings.TrimSpace(full)
	if full == "" {
		return "there"
	}
	if i := strings.IndexByte(full, ' '); i > 0 {
		return full[:i]
	}
	return full
}
