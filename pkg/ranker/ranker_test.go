package ranker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/unifyinbox/unifyinbox/pkg/models"
)

var now = time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

func TestUrgentFromVIP(t *testing.T) {
	result := Rank(now, Input{
		Content:   "Need this ASAP - production is down, call me immediately",
		Timestamp: now.Add(-10 * time.Minute),
		Enrichment: models.Enrichment{
			Relationship:  models.RelationshipVIP,
			ReplyRate:     0.9,
			IsVIP:         true,
			PriorityLabel: models.LabelUrgent,
			Sentiment:     models.SentimentUrgent,
		},
		ThreadActivity: models.ThreadActivity{Total: 4, Recent24: 4},
	})

	assert.GreaterOrEqual(t, result.Score, 0.85)
	assert.Equal(t, models.LabelUrgent, result.Label)
}

func TestVIPFloor(t *testing.T) {
	// A stale, inactive VIP message would score low; the floor lifts it to
	// at least 0.60 and therefore at least the action label.
	result := Rank(now, Input{
		Content:   "fyi",
		Timestamp: now.Add(-72 * time.Hour),
		Enrichment: models.Enrichment{
			Relationship: models.RelationshipVIP,
			IsVIP:        true,
			Sentiment:    models.SentimentNeutral,
		},
	})

	assert.GreaterOrEqual(t, result.Score, 0.60)
	assert.Equal(t, models.LabelAction, result.Label)
}

func TestNewsletterScoresLow(t *testing.T) {
	result := Rank(now, Input{
		Content:   "Your weekly digest",
		Timestamp: now.Add(-3 * time.Hour),
		Enrichment: models.Enrichment{
			Relationship:  models.RelationshipNewsletter,
			PriorityLabel: models.LabelSpam,
			Sentiment:     models.SentimentNeutral,
		},
	})

	assert.Less(t, result.Score, 0.30)
	// Classifier's spam verdict is preserved below the fyi threshold.
	assert.Equal(t, models.LabelSpam, result.Label)
}

func TestSubThresholdDefaultsToSocial(t *testing.T) {
	result := Rank(now, Input{
		Content:   "hey",
		Timestamp: now.Add(-60 * time.Hour),
		Enrichment: models.Enrichment{
			Relationship:  models.RelationshipBot,
			PriorityLabel: models.LabelFYI,
			Sentiment:     models.SentimentNeutral,
		},
	})

	assert.Less(t, result.Score, 0.30)
	assert.Equal(t, models.LabelSocial, result.Label)
}

func TestScoreAlwaysClamped(t *testing.T) {
	result := Rank(now, Input{
		Content:   "urgent asap critical emergency deadline today overdue expires",
		Timestamp: now,
		Enrichment: models.Enrichment{
			Relationship: models.RelationshipVIP,
			ReplyRate:    1.5, // out-of-range input is clamped
			IsVIP:        true,
			Sentiment:    models.SentimentDistressed,
		},
		ThreadActivity: models.ThreadActivity{Total: 10, Recent24: 10},
	})

	assert.LessOrEqual(t, result.Score, 1.0)
	assert.GreaterOrEqual(t, result.Score, 0.0)
}

func TestUrgencySignal(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    float64
	}{
		{"no hits", "lunch tomorrow?", 0},
		{"one hit", "this is urgent", 0.25},
		{"two hits", "urgent deadline", 0.5},
		{"case insensitive", "URGENT DEADLINE", 0.5},
		{"capped", "asap urgent deadline today help critical", 1.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, urgencySignal(tt.content), 1e-9)
		})
	}
}

func TestTimeSignal(t *testing.T) {
	tests := []struct {
		name string
		age  time.Duration
		want float64
	}{
		{"fresh", 30 * time.Minute, 1.0},
		{"six hours", 6 * time.Hour, 1 - 6.0/48},
		{"thirty hours", 30 * time.Hour, 1 - 30.0/48},
		{"ancient", 100 * time.Hour, 0.05},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, timeSignal(now, now.Add(-tt.age)), 1e-9)
		})
	}
}

func TestTimeSignalMissingTimestamp(t *testing.T) {
	assert.InDelta(t, 0.5, timeSignal(now, time.Time{}), 1e-9)
}

func TestThreadSignal(t *testing.T) {
	assert.InDelta(t, 0.1, threadSignal(models.ThreadActivity{Total: 1, Recent24: 1}), 1e-9)
	assert.InDelta(t, 0.1, threadSignal(models.ThreadActivity{}), 1e-9)
	assert.InDelta(t, 0.5, threadSignal(models.ThreadActivity{Total: 10, Recent24: 5}), 1e-9)
	// Quiet old threads still get the 0.3 floor.
	assert.InDelta(t, 0.3, threadSignal(models.ThreadActivity{Total: 10, Recent24: 0}), 1e-9)
	assert.InDelta(t, 1.0, threadSignal(models.ThreadActivity{Total: 3, Recent24: 3}), 1e-9)
}

func TestRelationshipSignalUnknownTier(t *testing.T) {
	assert.InDelta(t, 0.2, relationshipSignal(models.Relationship("alien")), 1e-9)
}

func TestDeterminism(t *testing.T) {
	in := Input{
		Content:   "deadline today",
		Timestamp: now.Add(-2 * time.Hour),
		Enrichment: models.Enrichment{
			Relationship: models.RelationshipWorkContact,
			ReplyRate:    0.4,
			Sentiment:    models.SentimentTense,
		},
		ThreadActivity: models.ThreadActivity{Total: 5, Recent24: 2},
	}
	first := Rank(now, in)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Rank(now, in))
	}
}
