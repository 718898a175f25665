package services

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unifyinbox/unifyinbox/pkg/agents"
	"github.com/unifyinbox/unifyinbox/pkg/cache"
	"github.com/unifyinbox/unifyinbox/pkg/llm"
	"github.com/unifyinbox/unifyinbox/pkg/models"
	"github.com/unifyinbox/unifyinbox/pkg/store"
)

type fakeFeedStore struct {
	feed       []models.Message
	total      int
	thread     []models.Message
	lastFilter store.FeedFilter
	lastOffset int
	lastLimit  int
}

func (f *fakeFeedStore) FetchFeed(_ context.Context, _ string, filter store.FeedFilter, offset, limit int) ([]models.Message, int, error) {
	f.lastFilter = filter
	f.lastOffset = offset
	f.lastLimit = limit
	return f.feed, f.total, nil
}

func (f *fakeFeedStore) FetchThread(_ context.Context, _ string, _ models.Platform, _ string) ([]models.Message, error) {
	return f.thread, nil
}

type cannedCompleter struct {
	response string
	err      error
}

func (c cannedCompleter) Complete(context.Context, llm.Request) (string, error) {
	return c.response, c.err
}

func deadCache() *cache.Cache {
	return cache.NewFromClient(redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 10 * time.Millisecond,
		MaxRetries:  -1,
	}))
}

func threadOf(n int) []models.Message {
	msgs := make([]models.Message, n)
	for i := range msgs {
		msgs[i] = models.Message{
			ID:         "m" + string(rune('0'+i)),
			SenderName: "Sender",
			Content:    "message body",
			Timestamp:  time.Now().Add(time.Duration(i) * time.Minute),
		}
	}
	return msgs
}

func TestFeedClampsLimits(t *testing.T) {
	st := &fakeFeedStore{}
	svc := NewFeedService(st, deadCache(), nil)
	ctx := context.Background()

	_, err := svc.Feed(ctx, "u1", store.FeedFilter{}, -5, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, st.lastOffset)
	assert.Equal(t, defaultFeedLimit, st.lastLimit)

	_, err = svc.Feed(ctx, "u1", store.FeedFilter{}, 0, 500)
	require.NoError(t, err)
	assert.Equal(t, maxFeedLimit, st.lastLimit)
}

func TestFeedRejectsUnknownFilters(t *testing.T) {
	svc := NewFeedService(&fakeFeedStore{}, deadCache(), nil)
	ctx := context.Background()

	bad := models.Platform("myspace")
	_, err := svc.Feed(ctx, "u1", store.FeedFilter{Platform: &bad}, 0, 50)
	assert.True(t, IsValidationError(err))

	badLabel := models.PriorityLabel("meh")
	_, err = svc.Feed(ctx, "u1", store.FeedFilter{Label: &badLabel}, 0, 50)
	assert.True(t, IsValidationError(err))
}

func TestFeedPassesFilterThrough(t *testing.T) {
	st := &fakeFeedStore{
		feed:  []models.Message{{ID: "m1"}},
		total: 7,
	}
	svc := NewFeedService(st, deadCache(), nil)

	platform := models.PlatformSlack
	resp, err := svc.Feed(context.Background(), "u1", store.FeedFilter{Platform: &platform}, 10, 20)
	require.NoError(t, err)

	require.NotNil(t, st.lastFilter.Platform)
	assert.Equal(t, models.PlatformSlack, *st.lastFilter.Platform)
	assert.Equal(t, 7, resp.Total)
	assert.Equal(t, 10, resp.Offset)
	assert.Len(t, resp.Messages, 1)
}

func TestThreadNotFound(t *testing.T) {
	svc := NewFeedService(&fakeFeedStore{}, deadCache(), nil)

	_, err := svc.Thread(context.Background(), "u1", models.PlatformSlack, "t-missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestThreadValidation(t *testing.T) {
	svc := NewFeedService(&fakeFeedStore{}, deadCache(), nil)
	ctx := context.Background()

	_, err := svc.Thread(ctx, "u1", models.Platform("myspace"), "t1")
	assert.True(t, IsValidationError(err))

	_, err = svc.Thread(ctx, "u1", models.PlatformSlack, "")
	assert.True(t, IsValidationError(err))
}

func TestThreadShortSkipsSummary(t *testing.T) {
	st := &fakeFeedStore{thread: threadOf(5)}
	summarizer := agents.NewSummarizer(cannedCompleter{response: `{"key_points":["a"],"current_status":"ok","next_step":"none"}`})
	svc := NewFeedService(st, deadCache(), summarizer)

	resp, err := svc.Thread(context.Background(), "u1", models.PlatformSlack, "t1")
	require.NoError(t, err)
	assert.Equal(t, 5, resp.Count)
	assert.Nil(t, resp.Summary)
}

func TestThreadLongGetsSummary(t *testing.T) {
	st := &fakeFeedStore{thread: threadOf(6)}
	summarizer := agents.NewSummarizer(cannedCompleter{
		response: `{"key_points":["decision made"],"action_items":["reply"],"current_status":"waiting","next_step":"follow up"}`,
	})
	svc := NewFeedService(st, deadCache(), summarizer)

	resp, err := svc.Thread(context.Background(), "u1", models.PlatformSlack, "t1")
	require.NoError(t, err)
	require.NotNil(t, resp.Summary)
	assert.Equal(t, []string{"decision made"}, resp.Summary.KeyPoints)
	assert.Equal(t, "waiting", resp.Summary.CurrentStatus)
}
