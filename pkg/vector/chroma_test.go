package vector

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unifyinbox/unifyinbox/pkg/models"
)

func newChromaServer(t *testing.T, queryResponse map[string]any) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	upserts := &atomic.Int64{}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/collections", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"id": "col-1"})
	})
	mux.HandleFunc("/api/v1/collections/col-1/upsert", func(w http.ResponseWriter, r *http.Request) {
		upserts.Add(1)
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/api/v1/collections/col-1/query", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(queryResponse)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, upserts
}

func TestDisabledStore(t *testing.T) {
	store, err := New(context.Background(), "")
	require.NoError(t, err)
	assert.False(t, store.Enabled())

	// Writes and queries are no-ops, not errors.
	store.Index(context.Background(), &models.Message{ID: "m1"})
	hits, err := store.SimilarMessages(context.Background(), "u1", "query", 5)
	assert.NoError(t, err)
	assert.Empty(t, hits)
	assert.NoError(t, store.Delete(context.Background(), []string{"m1"}))
}

func TestNewResolvesCollection(t *testing.T) {
	server, _ := newChromaServer(t, nil)

	store, err := New(context.Background(), server.URL+"/")
	require.NoError(t, err)
	assert.True(t, store.Enabled())
	assert.Equal(t, "col-1", store.collectionID)
}

func TestIndexUpserts(t *testing.T) {
	server, upserts := newChromaServer(t, nil)

	store, err := New(context.Background(), server.URL)
	require.NoError(t, err)

	store.Index(context.Background(), &models.Message{
		ID:       "m1",
		UserID:   "u1",
		Platform: models.PlatformGmail,
		Content:  "quarterly report attached",
	})
	assert.Equal(t, int64(1), upserts.Load())
}

func TestIndexRetriesTransientFailures(t *testing.T) {
	attempts := &atomic.Int64{}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/collections", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"id": "col-1"})
	})
	mux.HandleFunc("/api/v1/collections/col-1/upsert", func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	store, err := New(context.Background(), server.URL)
	require.NoError(t, err)

	store.Index(context.Background(), &models.Message{ID: "m1", Content: "hello"})
	assert.Equal(t, int64(3), attempts.Load())
}

func TestSimilarMessages(t *testing.T) {
	server, _ := newChromaServer(t, map[string]any{
		"ids":       [][]string{{"m1", "m2"}},
		"documents": [][]string{{"invoice for march", "invoice overdue"}},
		"metadatas": [][]map[string]any{{
			{"platform": "gmail"},
			{"platform": "slack"},
		}},
		"distances": [][]float64{{0.12, 0.3}},
	})

	store, err := New(context.Background(), server.URL)
	require.NoError(t, err)

	hits, err := store.SimilarMessages(context.Background(), "u1", "invoice", 5)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "m1", hits[0].MessageID)
	assert.Equal(t, "invoice for march", hits[0].Content)
	assert.Equal(t, "gmail", hits[0].Platform)
	assert.InDelta(t, 0.12, hits[0].Distance, 1e-9)
	assert.Equal(t, "slack", hits[1].Platform)
}

func TestSimilarMessagesEmptyResult(t *testing.T) {
	server, _ := newChromaServer(t, map[string]any{"ids": [][]string{}})

	store, err := New(context.Background(), server.URL)
	require.NoError(t, err)

	hits, err := store.SimilarMessages(context.Background(), "u1", "anything", 5)
	assert.NoError(t, err)
	assert.Empty(t, hits)
}

func TestNewFailsOnUnreachableChroma(t *testing.T) {
	server, _ := newChromaServer(t, nil)
	url := server.URL
	server.Close()

	_, err := New(context.Background(), url)
	assert.Error(t, err)
}
