package api

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/unifyinbox/unifyinbox/pkg/auth"
	"github.com/unifyinbox/unifyinbox/pkg/cache"
	"github.com/unifyinbox/unifyinbox/pkg/config"
	"github.com/unifyinbox/unifyinbox/pkg/models"
	"github.com/unifyinbox/unifyinbox/pkg/services"
	"github.com/unifyinbox/unifyinbox/pkg/store"
)

// deadCache points at a closed port so every cache call misses fast,
// exercising the fail-open paths.
func deadCache() *cache.Cache {
	return cache.NewFromClient(redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 10 * time.Millisecond,
		MaxRetries:  -1,
	}))
}

type fakeUserStore struct {
	mu      sync.Mutex
	byEmail map[string]*models.User
	byID    map[string]*models.User
	nextID  int
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{
		byEmail: make(map[string]*models.User),
		byID:    make(map[string]*models.User),
	}
}

func (f *fakeUserStore) CreateUser(_ context.Context, email, name, passwordHash string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	user := &models.User{
		ID:           fmt.Sprintf("u%d", f.nextID),
		Email:        email,
		Name:         name,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now(),
	}
	f.byEmail[email] = user
	f.byID[user.ID] = user
	return user, nil
}

func (f *fakeUserStore) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.byEmail[email]; ok {
		return u, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeUserStore) GetUserByID(_ context.Context, id string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.byID[id]; ok {
		return u, nil
	}
	return nil, store.ErrNotFound
}

type fakeFeedStore struct {
	feed   []models.Message
	total  int
	thread []models.Message
}

func (f *fakeFeedStore) FetchFeed(context.Context, string, store.FeedFilter, int, int) ([]models.Message, int, error) {
	return f.feed, f.total, nil
}

func (f *fakeFeedStore) FetchThread(context.Context, string, models.Platform, string) ([]models.Message, error) {
	return f.thread, nil
}

type fakeIngestor struct {
	mu         sync.Mutex
	userByTeam map[string]string
	received   chan receivedMessage
}

type receivedMessage struct {
	userID string
	msg    *models.Message
}

func newFakeIngestor() *fakeIngestor {
	return &fakeIngestor{
		userByTeam: make(map[string]string),
		received:   make(chan receivedMessage, 8),
	}
}

func (f *fakeIngestor) ProcessWebhookMessage(_ context.Context, userID string, msg *models.Message) error {
	f.received <- receivedMessage{userID: userID, msg: msg}
	return nil
}

func (f *fakeIngestor) ResolveWebhookUser(_ context.Context, _ models.Platform, platformUserID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id, ok := f.userByTeam[platformUserID]; ok {
		return id, nil
	}
	return "", store.ErrNotFound
}

// newTestServer builds a Server with fake storage behind real services.
// Handlers not under test keep nil services; routes are still registered
// since method values only dereference on call.
func newTestServer(users *fakeUserStore, feed *fakeFeedStore, ingestor *fakeIngestor) *Server {
	issuer := auth.NewTokenIssuer("test-secret", time.Hour)
	settings := &config.Settings{
		FrontendURL:          "http://localhost:3000",
		SlackSigningSecret:   "test-signing-secret",
		RateLimitPerMinute:   100,
		AIRateLimitPerMinute: 10,
	}

	s := &Server{
		settings: settings,
		issuer:   issuer,
		cache:    deadCache(),
		ingestor: ingestor,
		logger:   slog.Default().With("component", "api"),
	}
	if users != nil {
		s.authService = services.NewAuthService(users, issuer)
	}
	if feed != nil {
		s.feedService = services.NewFeedService(feed, s.cache, nil)
	}
	return s
}
