package services

import (
	"context"

	"github.com/unifyinbox/unifyinbox/pkg/agents"
	"github.com/unifyinbox/unifyinbox/pkg/cache"
	"github.com/unifyinbox/unifyinbox/pkg/models"
	"github.com/unifyinbox/unifyinbox/pkg/store"
)

const (
	defaultFeedLimit = 50
	maxFeedLimit     = 100

	// threadSummaryThreshold is the thread length above which the response
	// carries an AI digest.
	threadSummaryThreshold = 5
)

// FeedStorage is the slice of the store FeedService needs. Satisfied by
// *store.Store.
type FeedStorage interface {
	FetchFeed(ctx context.Context, userID string, filter store.FeedFilter, offset, limit int) ([]models.Message, int, error)
	FetchThread(ctx context.Context, userID string, platform models.Platform, threadID string) ([]models.Message, error)
}

// FeedResponse is one page of the prioritized feed.
type FeedResponse struct {
	Messages []models.Message `json:"messages"`
	Total    int              `json:"total"`
	Offset   int              `json:"offset"`
	Limit    int              `json:"limit"`
}

// ThreadResponse is a thread with its optional digest.
type ThreadResponse struct {
	Messages []models.Message      `json:"messages"`
	Count    int                   `json:"count"`
	Summary  *agents.ThreadSummary `json:"summary,omitempty"`
}

// FeedService reads the prioritized feed and threads, caching the hot paths.
type FeedService struct {
	store      FeedStorage
	cache      *cache.Cache
	summarizer *agents.Summarizer
}

// NewFeedService creates a FeedService.
func NewFeedService(st FeedStorage, ca *cache.Cache, summarizer *agents.Summarizer) *FeedService {
	return &FeedService{store: st, cache: ca, summarizer: summarizer}
}

// Feed returns one page of the user's feed. Only the unfiltered first page
// is cached; it is the page every client loads on open.
func (s *FeedService) Feed(ctx context.Context, userID string, filter store.FeedFilter, offset, limit int) (*FeedResponse, error) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = defaultFeedLimit
	}
	if limit > maxFeedLimit {
		limit = maxFeedLimit
	}
	if filter.Platform != nil && !filter.Platform.Valid() {
		return nil, NewValidationError("platform", "unknown platform")
	}
	if filter.Label != nil && !filter.Label.Valid() {
		return nil, NewValidationError("label", "unknown priority label")
	}

	cacheable := filter.Unfiltered() && offset == 0 && limit == defaultFeedLimit
	if cacheable {
		var cached FeedResponse
		if s.cache.GetJSON(ctx, cache.FeedKey(userID), &cached) {
			return &cached, nil
		}
	}

	messages, total, err := s.store.FetchFeed(ctx, userID, filter, offset, limit)
	if err != nil {
		return nil, err
	}
	resp := &FeedResponse{
		Messages: messages,
		Total:    total,
		Offset:   offset,
		Limit:    limit,
	}
	if cacheable {
		s.cache.SetJSON(ctx, cache.FeedKey(userID), resp, cache.FeedTTL)
	}
	return resp, nil
}

// Thread returns a thread oldest-first. Threads longer than five messages
// get a digest; the whole response is cached including it, so the digest is
// generated at most once per cache window.
func (s *FeedService) Thread(ctx context.Context, userID string, platform models.Platform, threadID string) (*ThreadResponse, error) {
	if !platform.Valid() {
		return nil, NewValidationError("platform", "unknown platform")
	}
	if threadID == "" {
		return nil, NewValidationError("thread_id", "required")
	}

	key := cache.ThreadKey(platform, threadID)
	var cached ThreadResponse
	if s.cache.GetJSON(ctx, key, &cached) {
		return &cached, nil
	}

	messages, err := s.store.FetchThread(ctx, userID, platform, threadID)
	if err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		return nil, ErrNotFound
	}

	resp := &ThreadResponse{
		Messages: messages,
		Count:    len(messages),
	}
	if len(messages) > threadSummaryThreshold && s.summarizer != nil {
		resp.Summary = s.summarizer.Summarize(ctx, messages)
	}
	s.cache.SetJSON(ctx, key, resp, cache.ThreadTTL)
	return resp, nil
}
