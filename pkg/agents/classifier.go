package agents

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/unifyinbox/unifyinbox/pkg/llm"
	"github.com/unifyinbox/unifyinbox/pkg/models"
)

// fallbackClassifierReasoning marks rule-based classifier output.
const fallbackClassifierReasoning = "Classified using rule-based fallback"

const classifySystemPrompt = `You triage incoming messages for a busy user.
Respond with ONLY a JSON object, no prose, in this exact shape:
{"priority_label": "urgent|action|fyi|social|spam",
 "priority_score": 0.0,
 "time_sensitive": false,
 "reasoning": "one short sentence"}`

// classifierKeywords drive the fallback's urgency bump. Each hit adds 0.05,
// capped at 0.20.
var classifierKeywords = []string{
	"urgent", "asap", "deadline", "important", "critical",
	"emergency", "help", "immediately", "today", "call",
}

// spamKeywords force the spam label in the fallback.
var spamKeywords = []string{
	"unsubscribe", "click here", "limited time", "offer", "deal",
}

// classifierRelationshipBase is the relationship component of the fallback
// score (30% weight across the tier spread).
var classifierRelationshipBase = map[models.Relationship]float64{
	models.RelationshipVIP:          0.30,
	models.RelationshipCloseContact: 0.24,
	models.RelationshipWorkContact:  0.18,
	models.RelationshipAcquaintance: 0.12,
	models.RelationshipStranger:     0.06,
	models.RelationshipBot:          0.02,
	models.RelationshipNewsletter:   0.01,
}

// ClassifyResult is the classifier's slice of the enrichment.
type ClassifyResult struct {
	PriorityLabel models.PriorityLabel `json:"priority_label"`
	PriorityScore float64              `json:"priority_score"`
	TimeSensitive bool                 `json:"time_sensitive"`
	Reasoning     string               `json:"reasoning"`
}

// Classifier assigns the initial priority label and score.
type Classifier struct {
	completer llm.Completer
	logger    *slog.Logger
}

// NewClassifier creates a Classifier.
func NewClassifier(completer llm.Completer) *Classifier {
	return &Classifier{
		completer: completer,
		logger:    slog.Default().With("component", "agent-classifier"),
	}
}

// Classify labels the message, falling back to the weighted rule score
// when the LLM path fails.
func (c *Classifier) Classify(ctx context.Context, msg *models.Message, sender ContextResult) ClassifyResult {
	result, err := c.classifyLLM(ctx, msg, sender)
	if err != nil {
		c.logger.Warn("Classifier falling back",
			"message_id", msg.ID, "error", err)
		return FallbackClassify(msg, sender)
	}
	return result
}

func (c *Classifier) classifyLLM(ctx context.Context, msg *models.Message, sender ContextResult) (ClassifyResult, error) {
	var result ClassifyResult
	err := completeJSON(ctx, c.completer, llm.Request{
		Model:     llm.ModelHaiku,
		System:    classifySystemPrompt,
		User:      classifyUserPrompt(msg, sender),
		MaxTokens: classifyMaxTokens,
	}, &result)
	if err != nil {
		return ClassifyResult{}, err
	}
	if !result.PriorityLabel.Valid() {
		return ClassifyResult{}, fmt.Errorf("invalid priority label %q", result.PriorityLabel)
	}
	result.PriorityScore = clamp01(result.PriorityScore)
	return result, nil
}

func classifyUserPrompt(msg *models.Message, sender ContextResult) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Platform: %s\n", msg.Platform)
	fmt.Fprintf(&sb, "Sender: %s (relationship: %s, reply rate: %.2f, vip: %t)\n",
		msg.SenderName, sender.Relationship, sender.ReplyRate, sender.IsVIP)
	fmt.Fprintf(&sb, "Received: %s\n", msg.Timestamp.Format(time.RFC3339))
	fmt.Fprintf(&sb, "Message:\n%s", truncate(msg.Content, classifyTruncateAt))
	return sb.String()
}

// FallbackClassify computes a deterministic priority from relationship
// tier, keyword hits, reply rate, and the VIP flag, with keyword-based spam
// detection on the residual.
func FallbackClassify(msg *models.Message, sender ContextResult) ClassifyResult {
	lower := strings.ToLower(msg.Content)

	score := classifierRelationshipBase[sender.Relationship]
	if score == 0 {
		score = classifierRelationshipBase[models.RelationshipStranger]
	}

	hits := 0
	for _, kw := range classifierKeywords {
		if strings.Contains(lower, kw) {
			hits++
		}
	}
	score += math.Min(0.20, float64(hits)*0.05)
	score += clamp01(sender.ReplyRate) * 0.15
	if sender.IsVIP {
		score += 0.15
	}
	score = clamp01(score)

	label := labelForFallbackScore(score)
	for _, kw := range spamKeywords {
		if strings.Contains(lower, kw) {
			label = models.LabelSpam
			score = math.Min(score, 0.15)
			break
		}
	}

	return ClassifyResult{
		PriorityLabel: label,
		PriorityScore: score,
		TimeSensitive: hits > 0,
		Reasoning:     fallbackClassifierReasoning,
	}
}

func labelForFallbackScore(score float64) models.PriorityLabel {
	switch {
	case score >= 0.85:
		return models.LabelUrgent
	case score >= 0.60:
		return models.LabelAction
	case score >= 0.30:
		return models.LabelFYI
	default:
		return models.LabelSocial
	}
}
