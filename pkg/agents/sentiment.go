package agents

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/unifyinbox/unifyinbox/pkg/llm"
	"github.com/unifyinbox/unifyinbox/pkg/models"
)

const sentimentSystemPrompt = `You read the emotional register of a message so the user can respond appropriately.
Respond with ONLY a JSON object, no prose, in this exact shape:
{"sentiment": "positive|neutral|tense|urgent|distressed",
 "is_complaint": false,
 "needs_careful_response": false,
 "suggested_approach": "one short sentence of response guidance"}`

// sentimentBags drive the keyword fallback, checked in priority order.
var sentimentBags = []struct {
	sentiment models.Sentiment
	keywords  []string
	approach  string
}{
	{
		sentiment: models.SentimentDistressed,
		keywords:  []string{"devastated", "terrible", "crisis", "desperate", "can't believe", "awful", "worst"},
		approach:  "Respond with empathy first; acknowledge the situation before offering solutions",
	},
	{
		sentiment: models.SentimentUrgent,
		keywords:  []string{"urgent", "asap", "immediately", "emergency", "critical", "right away"},
		approach:  "Respond promptly and address the time pressure directly",
	},
	{
		sentiment: models.SentimentTense,
		keywords:  []string{"disappointed", "frustrated", "unacceptable", "annoyed", "complaint", "unhappy", "problem"},
		approach:  "Stay calm and factual; acknowledge the concern before explaining",
	},
	{
		sentiment: models.SentimentPositive,
		keywords:  []string{"thanks", "thank you", "great", "awesome", "congrats", "love", "appreciate"},
		approach:  "Match the warm tone; a brief friendly reply is enough",
	},
}

// complaintMarkers flag likely complaints in the fallback path.
var complaintMarkers = []string{"complaint", "unacceptable", "disappointed", "refund", "escalate"}

// SentimentResult is the sentiment agent's slice of the enrichment.
type SentimentResult struct {
	Sentiment            models.Sentiment `json:"sentiment"`
	IsComplaint          bool             `json:"is_complaint"`
	NeedsCarefulResponse bool             `json:"needs_careful_response"`
	SuggestedApproach    string           `json:"suggested_approach"`
}

// SentimentAnalyzer reads the emotional register of a message.
type SentimentAnalyzer struct {
	completer llm.Completer
	logger    *slog.Logger
}

// NewSentimentAnalyzer creates a SentimentAnalyzer.
func NewSentimentAnalyzer(completer llm.Completer) *SentimentAnalyzer {
	return &SentimentAnalyzer{
		completer: completer,
		logger:    slog.Default().With("component", "agent-sentiment"),
	}
}

// Analyze reads the message sentiment, falling back to keyword bags when
// the LLM path fails.
func (a *SentimentAnalyzer) Analyze(ctx context.Context, msg *models.Message) SentimentResult {
	result, err := a.analyzeLLM(ctx, msg)
	if err != nil {
		a.logger.Warn("Sentiment agent falling back",
			"message_id", msg.ID, "error", err)
		return FallbackSentiment(msg)
	}
	return result
}

func (a *SentimentAnalyzer) analyzeLLM(ctx context.Context, msg *models.Message) (SentimentResult, error) {
	var result SentimentResult
	user := fmt.Sprintf("Platform: %s\nSender: %s\nMessage:\n%s",
		msg.Platform, msg.SenderName, truncate(msg.Content, classifyTruncateAt))
	err := completeJSON(ctx, a.completer, llm.Request{
		Model:     llm.ModelHaiku,
		System:    sentimentSystemPrompt,
		User:      user,
		MaxTokens: sentimentMaxTokens,
	}, &result)
	if err != nil {
		return SentimentResult{}, err
	}
	if !result.Sentiment.Valid() {
		return SentimentResult{}, fmt.Errorf("invalid sentiment %q", result.Sentiment)
	}
	return result, nil
}

// FallbackSentiment scans the keyword bags in priority order; a message
// matching none reads as neutral.
func FallbackSentiment(msg *models.Message) SentimentResult {
	lower := strings.ToLower(msg.Content)

	result := SentimentResult{
		Sentiment:         models.SentimentNeutral,
		SuggestedApproach: "Respond normally",
	}
	for _, bag := range sentimentBags {
		for _, kw := range bag.keywords {
			if strings.Contains(lower, kw) {
				result.Sentiment = bag.sentiment
				result.SuggestedApproach = bag.approach
				result.NeedsCarefulResponse = bag.sentiment == models.SentimentTense ||
					bag.sentiment == models.SentimentDistressed
				break
			}
		}
		if result.Sentiment != models.SentimentNeutral {
			break
		}
	}

	for _, marker := range complaintMarkers {
		if strings.Contains(lower, marker) {
			result.IsComplaint = true
			result.NeedsCarefulResponse = true
			break
		}
	}
	return result
}
