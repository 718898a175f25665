// Package pipeline runs ingested messages through enrichment, ranking, and
// persistence, then fans the result out to caches, the vector index, and
// WebSocket subscribers.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/unifyinbox/unifyinbox/pkg/agents"
	"github.com/unifyinbox/unifyinbox/pkg/cache"
	"github.com/unifyinbox/unifyinbox/pkg/events"
	"github.com/unifyinbox/unifyinbox/pkg/models"
	"github.com/unifyinbox/unifyinbox/pkg/ranker"
)

// Batch concurrency bounds. Webhook and on-demand processing gets more
// headroom than the fleet sync, which is already parallel across accounts.
const (
	DefaultBatchConcurrency = 5
	SyncBatchConcurrency    = 3
)

// Storage is the slice of the store the pipeline needs. Satisfied by
// *store.Store.
type Storage interface {
	SenderStats(ctx context.Context, userID string, platform models.Platform, senderID string) (*models.SenderStats, error)
	ThreadActivity(ctx context.Context, userID string, platform models.Platform, threadID string) (*models.ThreadActivity, error)
	UpsertMessage(ctx context.Context, m *models.Message) (bool, error)
	GetContact(ctx context.Context, userID string, platform models.Platform, contactIdentifier string) (*models.Contact, error)
	UpsertContact(ctx context.Context, c *models.Contact) error
}

// Publisher is the slice of the event publisher the pipeline needs.
type Publisher interface {
	PublishNewMessage(ctx context.Context, payload events.NewMessagePayload) error
	PublishPriorityUpdated(ctx context.Context, payload events.PriorityUpdatedPayload) error
}

// Indexer receives enriched messages for similarity search. Implemented by
// the vector store.
type Indexer interface {
	Index(ctx context.Context, msg *models.Message)
}

// Pipeline enriches and persists messages.
type Pipeline struct {
	store   Storage
	cache   *cache.Cache
	runner  *agents.Runner
	pub     Publisher
	indexer Indexer
	logger  *slog.Logger
}

// New creates a Pipeline. indexer may be nil when the vector store is
// disabled.
func New(st Storage, ca *cache.Cache, runner *agents.Runner, pub Publisher, indexer Indexer) *Pipeline {
	return &Pipeline{
		store:   st,
		cache:   ca,
		runner:  runner,
		pub:     pub,
		indexer: indexer,
		logger:  slog.Default().With("component", "pipeline"),
	}
}

// Process runs one message through the full path: sender history, the agent
// fan-out, ranking, upsert, contact refresh, cache invalidation, vector
// indexing, and the new_message event. Returns the stored message.
//
// A message that was already stored (same user, platform, and platform
// message id) has its enrichment refreshed and is announced again, so
// subscribers always see the latest scoring.
func (p *Pipeline) Process(ctx context.Context, msg *models.Message) (*models.Message, error) {
	stats, err := p.store.SenderStats(ctx, msg.UserID, msg.Platform, msg.SenderID)
	if err != nil {
		// Enrichment degrades without history; it does not abort.
		p.logger.Warn("Failed to load sender history",
			"user_id", msg.UserID, "sender_id", msg.SenderID, "error", err)
		stats = &models.SenderStats{}
	}

	activity := &models.ThreadActivity{}
	if msg.ThreadID != "" {
		if ta, err := p.store.ThreadActivity(ctx, msg.UserID, msg.Platform, msg.ThreadID); err == nil {
			activity = ta
		}
	}

	enrichment := p.runner.Enrich(ctx, msg, stats)
	ranked := ranker.Rank(time.Now().UTC(), ranker.Input{
		Content:        msg.Content,
		Timestamp:      msg.Timestamp,
		Enrichment:     enrichment,
		ThreadActivity: *activity,
	})

	msg.PriorityScore = ranked.Score
	msg.PriorityLabel = ranked.Label
	msg.Sentiment = enrichment.Sentiment
	msg.ContextNote = enrichment.ContextSummary
	msg.ClassificationReasoning = enrichment.ClassificationReasoning
	msg.IsComplaint = enrichment.IsComplaint
	msg.NeedsCarefulResponse = enrichment.NeedsCarefulResponse
	msg.SuggestedApproach = enrichment.SuggestedApproach
	now := time.Now().UTC()
	msg.ProcessedAt = &now

	if _, err := p.store.UpsertMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to store message: %w", err)
	}

	p.refreshContact(ctx, msg, enrichment)

	p.cache.InvalidateFeed(ctx, msg.UserID)
	if msg.ThreadID != "" {
		p.cache.InvalidateThread(ctx, msg.Platform, msg.ThreadID)
	}

	if p.indexer != nil {
		go p.indexer.Index(context.WithoutCancel(ctx), msg)
	}

	if p.pub != nil {
		if err := p.pub.PublishNewMessage(ctx, events.NewMessageFrom(msg)); err != nil {
			p.logger.Warn("Failed to publish new_message event",
				"message_id", msg.ID, "error", err)
		}
	}

	return msg, nil
}

// ProcessBatch runs a set of messages with bounded concurrency. One
// message's failure never blocks the rest; the first error is returned
// after all messages have been attempted, alongside the processed count.
func (p *Pipeline) ProcessBatch(ctx context.Context, msgs []*models.Message, concurrency int) (int, error) {
	if concurrency <= 0 {
		concurrency = DefaultBatchConcurrency
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
		done     int
	)
	sem := make(chan struct{}, concurrency)

	for _, msg := range msgs {
		if ctx.Err() != nil {
			wg.Wait()
			return done, ctx.Err()
		}
		select {
		case <-ctx.Done():
			wg.Wait()
			return done, ctx.Err()
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(m *models.Message) {
			defer wg.Done()
			defer func() { <-sem }()

			if _, err := p.Process(ctx, m); err != nil {
				p.logger.Error("Failed to process message",
					"user_id", m.UserID, "platform", m.Platform,
					"platform_message_id", m.PlatformMessageID, "error", err)
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				return
			}
			mu.Lock()
			done++
			mu.Unlock()
		}(msg)
	}

	wg.Wait()
	return done, firstErr
}

// refreshContact upserts the per-sender contact row with the latest
// relationship assessment. VIP status only ratchets on: a user-set VIP flag
// is never cleared by an agent's later opinion.
func (p *Pipeline) refreshContact(ctx context.Context, msg *models.Message, enrichment models.Enrichment) {
	isVIP := enrichment.IsVIP
	if existing, err := p.store.GetContact(ctx, msg.UserID, msg.Platform, msg.SenderID); err == nil && existing.IsVIP {
		isVIP = true
	}

	contact := &models.Contact{
		UserID:            msg.UserID,
		Platform:          msg.Platform,
		ContactIdentifier: msg.SenderID,
		DisplayName:       msg.SenderName,
		Relationship:      enrichment.Relationship,
		IsVIP:             isVIP,
		ReplyRate:         enrichment.ReplyRate,
	}
	if err := p.store.UpsertContact(ctx, contact); err != nil {
		p.logger.Warn("Failed to upsert contact",
			"user_id", msg.UserID, "sender_id", msg.SenderID, "error", err)
		return
	}
	p.cache.Delete(ctx, cache.ContactKey(msg.UserID, msg.Platform, msg.SenderID))
}
