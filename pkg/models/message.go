package models

import "time"

// Message is the unit that flows through the enrichment pipeline and lands
// in storage. (UserID, Platform, PlatformMessageID) is a natural key with a
// uniqueness constraint; duplicate ingests update enrichment fields in place.
type Message struct {
	ID                string   `db:"id" json:"id"`
	UserID            string   `db:"user_id" json:"user_id"`
	Platform          Platform `db:"platform" json:"platform"`
	PlatformMessageID string   `db:"platform_message_id" json:"platform_message_id"`
	ThreadID          string   `db:"thread_id" json:"thread_id"`

	SenderID    string  `db:"sender_id" json:"sender_id"`
	SenderName  string  `db:"sender_name" json:"sender_name"`
	SenderEmail *string `db:"sender_email" json:"sender_email,omitempty"`

	Content   string    `db:"content" json:"content"`
	Timestamp time.Time `db:"timestamp" json:"timestamp"`

	IsRead       bool       `db:"is_read" json:"is_read"`
	IsDone       bool       `db:"is_done" json:"is_done"`
	SnoozedUntil *time.Time `db:"snoozed_until" json:"snoozed_until,omitempty"`

	// Enrichment fields, written by the agents and the ranker.
	PriorityScore           float64       `db:"priority_score" json:"priority_score"`
	PriorityLabel           PriorityLabel `db:"priority_label" json:"priority_label"`
	Sentiment               Sentiment     `db:"sentiment" json:"sentiment"`
	ContextNote             string        `db:"context_note" json:"context_note"`
	Summary                 string        `db:"summary" json:"summary"`
	ClassificationReasoning string        `db:"classification_reasoning" json:"classification_reasoning"`
	IsComplaint             bool          `db:"is_complaint" json:"is_complaint"`
	NeedsCarefulResponse    bool          `db:"needs_careful_response" json:"needs_careful_response"`
	SuggestedApproach       string        `db:"suggested_approach" json:"suggested_approach"`

	DraftReply *string `db:"draft_reply" json:"draft_reply,omitempty"`

	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	ProcessedAt *time.Time `db:"processed_at" json:"processed_at,omitempty"`
}

// Enrichment is the value produced by the agent fan-out for one message.
// Each agent fills only its own fields; the pipeline merges the three
// partial results after the barrier and hands the merged value to the ranker.
type Enrichment struct {
	// ContextBuilder outputs.
	Relationship   Relationship
	ReplyRate      float64
	ContextSummary string
	IsVIP          bool

	// Classifier outputs.
	PriorityLabel           PriorityLabel
	PriorityScore           float64
	TimeSensitive           bool
	ClassificationReasoning string

	// Sentiment outputs.
	Sentiment            Sentiment
	IsComplaint          bool
	NeedsCarefulResponse bool
	SuggestedApproach    string
}

// SenderStats summarizes the user's history with one sender, fed to the
// ContextBuilder and the ranker.
type SenderStats struct {
	TotalMessages int
	ReplyCount    int
	ReplyRate     float64
	AvgReplyHours float64
	Recent        []Message
}

// ThreadActivity counts messages in a thread for the ranker's activity signal.
type ThreadActivity struct {
	Total    int
	Recent24 int
}
