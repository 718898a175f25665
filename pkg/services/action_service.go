package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/unifyinbox/unifyinbox/pkg/adapters"
	"github.com/unifyinbox/unifyinbox/pkg/agents"
	"github.com/unifyinbox/unifyinbox/pkg/auth"
	"github.com/unifyinbox/unifyinbox/pkg/cache"
	"github.com/unifyinbox/unifyinbox/pkg/events"
	"github.com/unifyinbox/unifyinbox/pkg/models"
	"github.com/unifyinbox/unifyinbox/pkg/store"
	"github.com/unifyinbox/unifyinbox/pkg/vector"
)

// reclassifyScores anchors the score a user correction pins a message to.
var reclassifyScores = map[models.PriorityLabel]float64{
	models.LabelUrgent: 0.90,
	models.LabelAction: 0.70,
	models.LabelFYI:    0.45,
	models.LabelSocial: 0.25,
	models.LabelSpam:   0.10,
}

// ActionStorage is the slice of the store ActionService needs. Satisfied by
// *store.Store.
type ActionStorage interface {
	GetMessage(ctx context.Context, id, userID string) (*models.Message, error)
	UpdateMessageState(ctx context.Context, id, userID string, patch store.StatePatch) error
	SetDraft(ctx context.Context, id, userID, draft string) error
	Reclassify(ctx context.Context, id, userID string, label models.PriorityLabel, score float64, reasoning string) error
	FetchThread(ctx context.Context, userID string, platform models.Platform, threadID string) ([]models.Message, error)
	GetCredential(ctx context.Context, userID string, platform models.Platform) (*models.PlatformCredential, error)
}

// ActionPublisher is the slice of the event publisher ActionService needs.
type ActionPublisher interface {
	PublishMessageUpdated(ctx context.Context, payload events.MessageUpdatedPayload) error
	PublishPriorityUpdated(ctx context.Context, payload events.PriorityUpdatedPayload) error
}

// ActionService applies user actions to messages: state changes,
// reclassification, drafting, and sending replies.
type ActionService struct {
	store    ActionStorage
	cache    *cache.Cache
	pub      ActionPublisher
	drafts   *agents.DraftWriter
	vectors  *vector.Store
	registry *adapters.Registry
	vault    *auth.TokenVault
	logger   *slog.Logger
}

// NewActionService creates an ActionService. vectors may be nil when no
// vector store is configured.
func NewActionService(st ActionStorage, ca *cache.Cache, pub ActionPublisher, drafts *agents.DraftWriter, vectors *vector.Store, registry *adapters.Registry, vault *auth.TokenVault) *ActionService {
	return &ActionService{
		store:    st,
		cache:    ca,
		pub:      pub,
		drafts:   drafts,
		vectors:  vectors,
		registry: registry,
		vault:    vault,
		logger:   slog.Default().With("component", "actions"),
	}
}

// UpdateState applies a partial state change, invalidates the feed, and
// broadcasts the changed fields.
func (s *ActionService) UpdateState(ctx context.Context, userID, messageID string, patch store.StatePatch) error {
	if err := s.store.UpdateMessageState(ctx, messageID, userID, patch); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	s.cache.InvalidateFeed(ctx, userID)

	payload := events.MessageUpdatedPayload{
		MessageID: messageID,
		UserID:    userID,
		IsRead:    patch.IsRead,
		IsDone:    patch.IsDone,
	}
	if patch.SnoozeSet {
		payload.SnoozedUntil = patch.SnoozedUntil
	}
	if err := s.pub.PublishMessageUpdated(ctx, payload); err != nil {
		s.logger.Warn("Failed to broadcast state change",
			"message_id", messageID, "error", err)
	}
	return nil
}

// MarkRead implements events.MessageActor.
func (s *ActionService) MarkRead(ctx context.Context, userID, messageID string) error {
	read := true
	return s.UpdateState(ctx, userID, messageID, store.StatePatch{IsRead: &read})
}

// MarkDone flags the message done, dropping it from the feed.
func (s *ActionService) MarkDone(ctx context.Context, userID, messageID string) error {
	done := true
	return s.UpdateState(ctx, userID, messageID, store.StatePatch{IsDone: &done})
}

// Snooze implements events.MessageActor. The message leaves the feed until
// the reaper resurfaces it.
func (s *ActionService) Snooze(ctx context.Context, userID, messageID string, until time.Time) error {
	if !until.After(time.Now()) {
		return NewValidationError("snoozed_until", "must be in the future")
	}
	return s.UpdateState(ctx, userID, messageID, store.StatePatch{SnoozedUntil: &until, SnoozeSet: true})
}

// Unsnooze clears a snooze, returning the message to the feed immediately.
func (s *ActionService) Unsnooze(ctx context.Context, userID, messageID string) error {
	return s.UpdateState(ctx, userID, messageID, store.StatePatch{SnoozeSet: true})
}

// Reclassify pins the message to a user-chosen label and its anchor score,
// then broadcasts the change.
func (s *ActionService) Reclassify(ctx context.Context, userID, messageID string, label models.PriorityLabel) (*models.Message, error) {
	score, ok := reclassifyScores[label]
	if !ok {
		return nil, NewValidationError("label", "unknown priority label")
	}

	msg, err := s.getMessage(ctx, userID, messageID)
	if err != nil {
		return nil, err
	}

	previous := msg.PriorityLabel
	reasoning := fmt.Sprintf("User corrected from '%s' to '%s'", previous, label)
	if err := s.store.Reclassify(ctx, messageID, userID, label, score, reasoning); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	s.cache.InvalidateFeed(ctx, userID)

	msg.PriorityLabel = label
	msg.PriorityScore = score
	msg.ClassificationReasoning = reasoning

	if err := s.pub.PublishPriorityUpdated(ctx, events.PriorityUpdatedPayload{
		MessageID:     messageID,
		UserID:        userID,
		PriorityScore: score,
		PriorityLabel: string(label),
		PreviousLabel: string(previous),
	}); err != nil {
		s.logger.Warn("Failed to broadcast reclassification",
			"message_id", messageID, "error", err)
	}
	return msg, nil
}

// GenerateDraft writes a reply draft for the message and stores it. The
// draft prompt sees the thread; when the message stands alone, similar past
// messages from the vector store stand in as context.
func (s *ActionService) GenerateDraft(ctx context.Context, userID, messageID string) (*agents.DraftResult, error) {
	msg, err := s.getMessage(ctx, userID, messageID)
	if err != nil {
		return nil, err
	}

	var thread []models.Message
	if msg.ThreadID != "" {
		thread, err = s.store.FetchThread(ctx, userID, msg.Platform, msg.ThreadID)
		if err != nil {
			return nil, err
		}
	}
	if len(thread) <= 1 {
		thread = append(thread, s.similarContext(ctx, userID, msg)...)
	}

	result := s.drafts.Draft(ctx, msg, thread)
	if err := s.store.SetDraft(ctx, messageID, userID, result.Draft); err != nil {
		return nil, err
	}
	return &result, nil
}

// similarContext pulls semantically similar past messages as stand-in thread
// context. Best-effort; a failed lookup just means a leaner prompt.
func (s *ActionService) similarContext(ctx context.Context, userID string, msg *models.Message) []models.Message {
	if s.vectors == nil || !s.vectors.Enabled() {
		return nil
	}
	similar, err := s.vectors.SimilarMessages(ctx, userID, msg.Content, 3)
	if err != nil {
		s.logger.Warn("Similar message lookup failed", "error", err)
		return nil
	}
	context := make([]models.Message, 0, len(similar))
	for _, sm := range similar {
		if sm.MessageID == msg.ID {
			continue
		}
		context = append(context, models.Message{
			SenderName: "Earlier related message",
			Content:    sm.Content,
		})
	}
	return context
}

// SaveDraft stores a user-edited draft.
func (s *ActionService) SaveDraft(ctx context.Context, userID, messageID, draft string) error {
	if strings.TrimSpace(draft) == "" {
		return NewValidationError("draft", "required")
	}
	if err := s.store.SetDraft(ctx, messageID, userID, draft); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

// SendReply sends content as a reply on the message's platform and marks the
// message read. Empty content falls back to the stored draft.
func (s *ActionService) SendReply(ctx context.Context, userID, messageID, content string) (string, error) {
	msg, err := s.getMessage(ctx, userID, messageID)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(content) == "" {
		if msg.DraftReply == nil || strings.TrimSpace(*msg.DraftReply) == "" {
			return "", NewValidationError("content", "no content and no stored draft")
		}
		content = *msg.DraftReply
	}

	cred, err := s.store.GetCredential(ctx, userID, msg.Platform)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrPlatformNotConnected
		}
		return "", err
	}
	creds, err := s.decrypt(cred)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt credentials: %w", err)
	}

	adapter, err := s.registry.Get(string(msg.Platform))
	if err != nil {
		return "", err
	}
	opts, err := replyOptions(msg)
	if err != nil {
		return "", err
	}

	sentID, err := adapter.SendMessage(ctx, creds, content, opts)
	if err != nil {
		return "", fmt.Errorf("failed to send reply: %w", err)
	}

	if err := s.MarkRead(ctx, userID, messageID); err != nil {
		s.logger.Warn("Reply sent but mark-read failed",
			"message_id", messageID, "error", err)
	}
	return sentID, nil
}

// replyOptions builds the platform-specific addressing for a reply to msg.
func replyOptions(msg *models.Message) (adapters.SendOptions, error) {
	switch msg.Platform {
	case models.PlatformGmail:
		if msg.SenderEmail == nil || *msg.SenderEmail == "" {
			return adapters.SendOptions{}, NewValidationError("sender_email", "message has no sender email to reply to")
		}
		subject := firstLine(msg.Content)
		if !strings.HasPrefix(strings.ToLower(subject), "re:") {
			subject = "Re: " + subject
		}
		return adapters.SendOptions{
			ToEmail:  *msg.SenderEmail,
			Subject:  subject,
			ThreadID: msg.ThreadID,
		}, nil
	case models.PlatformSlack:
		// Thread ids are "channel:ts"; replies land in the same thread.
		channel, ts, ok := strings.Cut(msg.ThreadID, ":")
		if !ok {
			return adapters.SendOptions{}, NewValidationError("thread_id", "malformed slack thread id")
		}
		return adapters.SendOptions{ChannelID: channel, ThreadID: ts}, nil
	case models.PlatformTelegram:
		opts := adapters.SendOptions{ChatID: msg.ThreadID}
		if _, msgID, ok := strings.Cut(msg.PlatformMessageID, ":"); ok {
			opts.ReplyTo = msgID
		}
		return opts, nil
	case models.PlatformDiscord:
		return adapters.SendOptions{ChannelID: msg.ThreadID}, nil
	default:
		return adapters.SendOptions{}, NewValidationError("platform", "unknown platform")
	}
}

func (s *ActionService) getMessage(ctx context.Context, userID, messageID string) (*models.Message, error) {
	msg, err := s.store.GetMessage(ctx, messageID, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return msg, nil
}

func (s *ActionService) decrypt(cred *models.PlatformCredential) (adapters.Credentials, error) {
	access, err := s.vault.Decrypt(cred.AccessToken)
	if err != nil {
		return adapters.Credentials{}, err
	}
	out := adapters.Credentials{UserID: cred.UserID, AccessToken: access}
	if cred.PlatformUserID != nil {
		out.PlatformUserID = *cred.PlatformUserID
	}
	return out, nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return strings.TrimSpace(s)
}
