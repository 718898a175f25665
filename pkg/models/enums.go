package models

// Platform identifies a connected message source.
type Platform string

const (
	PlatformGmail    Platform = "gmail"
	PlatformSlack    Platform = "slack"
	PlatformTelegram Platform = "telegram"
	PlatformDiscord  Platform = "discord"
)

// Valid reports whether p is a known platform.
func (p Platform) Valid() bool {
	switch p {
	case PlatformGmail, PlatformSlack, PlatformTelegram, PlatformDiscord:
		return true
	}
	return false
}

// PriorityLabel is the feed bucket a message lands in.
type PriorityLabel string

const (
	LabelUrgent PriorityLabel = "urgent"
	LabelAction PriorityLabel = "action_needed"
	LabelFYI    PriorityLabel = "fyi"
	LabelSocial PriorityLabel = "social"
	LabelSpam   PriorityLabel = "spam"
)

// Valid reports whether l is a known label.
func (l PriorityLabel) Valid() bool {
	switch l {
	case LabelUrgent, LabelAction, LabelFYI, LabelSocial, LabelSpam:
		return true
	}
	return false
}

// Sentiment is the emotional register of a message.
type Sentiment string

const (
	SentimentUrgent     Sentiment = "urgent"
	SentimentDistressed Sentiment = "distressed"
	SentimentTense      Sentiment = "tense"
	SentimentNeutral    Sentiment = "neutral"
	SentimentPositive   Sentiment = "positive"
)

// Valid reports whether s is a known sentiment.
func (s Sentiment) Valid() bool {
	switch s {
	case SentimentUrgent, SentimentDistressed, SentimentTense, SentimentNeutral, SentimentPositive:
		return true
	}
	return false
}

// Relationship classifies a sender relative to the user.
type Relationship string

const (
	RelationshipVIP          Relationship = "vip"
	RelationshipCloseContact Relationship = "close_contact"
	RelationshipWorkContact  Relationship = "work_contact"
	RelationshipAcquaintance Relationship = "acquaintance"
	RelationshipStranger     Relationship = "stranger"
	RelationshipBot          Relationship = "bot"
	RelationshipNewsletter   Relationship = "newsletter"
)

// Valid reports whether r is a known relationship.
func (r Relationship) Valid() bool {
	switch r {
	case RelationshipVIP, RelationshipCloseContact, RelationshipWorkContact,
		RelationshipAcquaintance, RelationshipStranger, RelationshipBot, RelationshipNewsletter:
		return true
	}
	return false
}
