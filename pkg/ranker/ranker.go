// Package ranker computes the final priority score for a message as a
// deterministic weighted combination of the enrichment signals. No LLM is
// involved; given the same inputs it always produces the same score.
package ranker

import (
	"math"
	"strings"
	"time"

	"github.com/unifyinbox/unifyinbox/pkg/models"
)

// Signal weights. They sum to 1.0.
const (
	weightRelationship    = 0.30
	weightUrgencyKeywords = 0.20
	weightTimeSensitivity = 0.15
	weightReplyRate       = 0.15
	weightThreadActivity  = 0.10
	weightSentiment       = 0.10
)

// vipFloor is the minimum score for messages from VIP senders, applied
// before clamping and label selection.
const vipFloor = 0.60

// relationshipScores maps the sender tier to its signal value. Unknown
// tiers score like strangers.
var relationshipScores = map[models.Relationship]float64{
	models.RelationshipVIP:          1.0,
	models.RelationshipCloseContact: 0.8,
	models.RelationshipWorkContact:  0.65,
	models.RelationshipAcquaintance: 0.4,
	models.RelationshipStranger:     0.2,
	models.RelationshipBot:          0.05,
	models.RelationshipNewsletter:   0.02,
}

// sentimentIntensity maps sentiment to its signal value. Unknown
// sentiments read as neutral.
var sentimentIntensity = map[models.Sentiment]float64{
	models.SentimentDistressed: 1.0,
	models.SentimentUrgent:     0.9,
	models.SentimentTense:      0.7,
	models.SentimentNeutral:    0.3,
	models.SentimentPositive:   0.2,
}

// UrgencyKeywords is the fixed lexicon scanned case-insensitively in
// message content. Each hit adds 0.25 to the keyword signal, capped at 1.0.
var UrgencyKeywords = []string{
	"asap", "urgent", "deadline", "today", "help", "call me",
	"immediately", "critical", "emergency", "important", "breaking",
	"time-sensitive", "overdue", "expires", "final notice",
}

// Input carries everything the ranker needs for one message.
type Input struct {
	Content        string
	Timestamp      time.Time
	Enrichment     models.Enrichment
	ThreadActivity models.ThreadActivity
}

// Result is the ranker's output: the final score and the label derived
// from it.
type Result struct {
	Score float64
	Label models.PriorityLabel
}

// Rank computes the weighted score, applies the VIP floor, clamps to [0,1],
// rounds to 3 decimals, and selects the label from the score thresholds.
// Sub-threshold messages keep the classifier's spam/social verdict.
func Rank(now time.Time, in Input) Result {
	score := weightRelationship*relationshipSignal(in.Enrichment.Relationship) +
		weightUrgencyKeywords*urgencySignal(in.Content) +
		weightTimeSensitivity*timeSignal(now, in.Timestamp) +
		weightReplyRate*clamp01(in.Enrichment.ReplyRate) +
		weightThreadActivity*threadSignal(in.ThreadActivity) +
		weightSentiment*sentimentSignal(in.Enrichment.Sentiment)

	if in.Enrichment.IsVIP && score < vipFloor {
		score = vipFloor
	}
	score = round3(clamp01(score))

	return Result{
		Score: score,
		Label: labelFor(score, in.Enrichment.PriorityLabel),
	}
}

// labelFor selects the final label from the score thresholds, preserving
// the classifier's spam/social call below the fyi threshold.
func labelFor(score float64, classifierLabel models.PriorityLabel) models.PriorityLabel {
	switch {
	case score >= 0.85:
		return models.LabelUrgent
	case score >= 0.60:
		return models.LabelAction
	case score >= 0.30:
		return models.LabelFYI
	}
	if classifierLabel == models.LabelSpam || classifierLabel == models.LabelSocial {
		return classifierLabel
	}
	return models.LabelSocial
}

func relationshipSignal(r models.Relationship) float64 {
	if v, ok := relationshipScores[r]; ok {
		return v
	}
	return relationshipScores[models.RelationshipStranger]
}

// urgencySignal counts lexicon hits in the content; min(1.0, hits*0.25).
func urgencySignal(content string) float64 {
	lower := strings.ToLower(content)
	hits := 0
	for _, kw := range UrgencyKeywords {
		if strings.Contains(lower, kw) {
			hits++
		}
	}
	return math.Min(1.0, float64(hits)*0.25)
}

// timeSignal decays with message age: fresh messages score 1.0, the signal
// falls linearly against a 48-hour horizon, and anything older than two
// days is nearly flat.
func timeSignal(now, ts time.Time) float64 {
	if ts.IsZero() {
		return 0.5
	}
	age := now.Sub(ts).Hours()
	switch {
	case age < 1:
		return 1.0
	case age < 24:
		return 1 - age/48
	case age < 48:
		return math.Max(0.1, 1-age/48)
	default:
		return 0.05
	}
}

// threadSignal rewards active threads; single-message threads score 0.1.
func threadSignal(a models.ThreadActivity) float64 {
	if a.Total <= 1 {
		return 0.1
	}
	ratio := float64(a.Recent24) / math.Max(float64(a.Total), 1)
	return math.Max(0.3, math.Min(1.0, ratio))
}

func sentimentSignal(s models.Sentiment) float64 {
	if v, ok := sentimentIntensity[s]; ok {
		return v
	}
	return sentimentIntensity[models.SentimentNeutral]
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
