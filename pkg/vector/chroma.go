// Package vector maintains message embeddings in a Chroma collection and
// answers similarity queries for draft context.
package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/unifyinbox/unifyinbox/pkg/models"
)

const (
	collectionName = "messages"
	requestTimeout = 10 * time.Second
	upsertRetries  = 3
)

// SimilarMessage is one similarity hit with its source metadata.
type SimilarMessage struct {
	MessageID string
	Content   string
	Platform  string
	Distance  float64
}

// Store indexes message content in Chroma. A Store built from an empty URL
// is disabled: writes are dropped and queries return nothing, so callers
// never branch on availability.
type Store struct {
	baseURL      string
	httpClient   *http.Client
	logger       *slog.Logger
	collectionID string
}

// New connects to Chroma at baseURL and resolves the messages collection,
// creating it if needed. An empty baseURL returns a disabled store.
func New(ctx context.Context, baseURL string) (*Store, error) {
	s := &Store{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: requestTimeout},
		logger:     slog.Default().With("component", "vector"),
	}
	if s.baseURL == "" {
		s.logger.Info("Vector store disabled, no Chroma URL configured")
		return s, nil
	}

	id, err := s.ensureCollection(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve Chroma collection: %w", err)
	}
	s.collectionID = id
	s.logger.Info("Vector store ready", "collection", collectionName)
	return s, nil
}

// Enabled reports whether the store is backed by a live Chroma instance.
func (s *Store) Enabled() bool {
	return s.collectionID != ""
}

func (s *Store) ensureCollection(ctx context.Context) (string, error) {
	body := map[string]any{
		"name":          collectionName,
		"get_or_create": true,
	}
	var resp struct {
		ID string `json:"id"`
	}
	if err := s.post(ctx, "/api/v1/collections", body, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", fmt.Errorf("collection response missing id")
	}
	return resp.ID, nil
}

// Index upserts one message document keyed by message id. Transient Chroma
// failures retry a few times; a message that still cannot be indexed is
// logged and dropped, never failing the enrichment that triggered it.
func (s *Store) Index(ctx context.Context, msg *models.Message) {
	if !s.Enabled() {
		return
	}
	body := map[string]any{
		"ids":       []string{msg.ID},
		"documents": []string{msg.Content},
		"metadatas": []map[string]any{{
			"user_id":   msg.UserID,
			"platform":  string(msg.Platform),
			"thread_id": msg.ThreadID,
			"sender_id": msg.SenderID,
		}},
	}
	err := retry.Do(
		func() error {
			return s.post(ctx, "/api/v1/collections/"+s.collectionID+"/upsert", body, nil)
		},
		retry.Attempts(upsertRetries),
		retry.Delay(500*time.Millisecond),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		s.logger.Warn("Failed to index message embedding",
			"message_id", msg.ID, "error", err)
	}
}

// SimilarMessages returns up to limit messages from the user's history that
// read like query, nearest first. A disabled store returns an empty slice.
func (s *Store) SimilarMessages(ctx context.Context, userID, query string, limit int) ([]SimilarMessage, error) {
	if !s.Enabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 5
	}
	body := map[string]any{
		"query_texts": []string{query},
		"n_results":   limit,
		"where":       map[string]any{"user_id": userID},
		"include":     []string{"documents", "metadatas", "distances"},
	}
	var resp struct {
		IDs       [][]string         `json:"ids"`
		Documents [][]string         `json:"documents"`
		Metadatas [][]map[string]any `json:"metadatas"`
		Distances [][]float64        `json:"distances"`
	}
	if err := s.post(ctx, "/api/v1/collections/"+s.collectionID+"/query", body, &resp); err != nil {
		return nil, fmt.Errorf("similarity query failed: %w", err)
	}
	if len(resp.IDs) == 0 {
		return nil, nil
	}

	hits := make([]SimilarMessage, 0, len(resp.IDs[0]))
	for i, id := range resp.IDs[0] {
		hit := SimilarMessage{MessageID: id}
		if len(resp.Documents) > 0 && i < len(resp.Documents[0]) {
			hit.Content = resp.Documents[0][i]
		}
		if len(resp.Metadatas) > 0 && i < len(resp.Metadatas[0]) {
			if p, ok := resp.Metadatas[0][i]["platform"].(string); ok {
				hit.Platform = p
			}
		}
		if len(resp.Distances) > 0 && i < len(resp.Distances[0]) {
			hit.Distance = resp.Distances[0][i]
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// Delete removes message documents by id, used when a user disconnects a
// platform.
func (s *Store) Delete(ctx context.Context, messageIDs []string) error {
	if !s.Enabled() || len(messageIDs) == 0 {
		return nil
	}
	body := map[string]any{"ids": messageIDs}
	return s.post(ctx, "/api/v1/collections/"+s.collectionID+"/delete", body, nil)
}

func (s *Store) post(ctx context.Context, path string, body, dest any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("chroma request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("chroma returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if dest != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, dest); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}
