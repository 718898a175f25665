// Package api exposes the HTTP and WebSocket surface: auth, the prioritized
// feed, message actions, platform management, and inbound webhooks.
package api

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/unifyinbox/unifyinbox/pkg/auth"
	"github.com/unifyinbox/unifyinbox/pkg/cache"
	"github.com/unifyinbox/unifyinbox/pkg/config"
	"github.com/unifyinbox/unifyinbox/pkg/events"
	"github.com/unifyinbox/unifyinbox/pkg/models"
	"github.com/unifyinbox/unifyinbox/pkg/services"
)

// WebhookIngestor is the slice of the sync engine webhook handlers need.
type WebhookIngestor interface {
	ProcessWebhookMessage(ctx context.Context, userID string, msg *models.Message) error
	ResolveWebhookUser(ctx context.Context, platform models.Platform, platformUserID string) (string, error)
}

// Server wires the services behind the HTTP routes.
type Server struct {
	settings *config.Settings

	authService     *services.AuthService
	feedService     *services.FeedService
	actionService   *services.ActionService
	platformService *services.PlatformService

	ingestor    WebhookIngestor
	connManager *events.ConnectionManager
	issuer      *auth.TokenIssuer
	cache       *cache.Cache
	db          *sql.DB

	logger *slog.Logger
	httpd  *http.Server
}

// NewServer creates the API server.
func NewServer(
	settings *config.Settings,
	authService *services.AuthService,
	feedService *services.FeedService,
	actionService *services.ActionService,
	platformService *services.PlatformService,
	ingestor WebhookIngestor,
	connManager *events.ConnectionManager,
	issuer *auth.TokenIssuer,
	ca *cache.Cache,
	db *sql.DB,
) *Server {
	return &Server{
		settings:        settings,
		authService:     authService,
		feedService:     feedService,
		actionService:   actionService,
		platformService: platformService,
		ingestor:        ingestor,
		connManager:     connManager,
		issuer:          issuer,
		cache:           ca,
		db:              db,
		logger:          slog.Default().With("component", "api"),
	}
}

// Routes builds the echo instance with all routes and middleware attached.
func (s *Server) Routes() *echo.Echo {
	e := echo.New()

	e.Use(s.requestLogger())
	e.Use(securityHeaders())
	e.Use(s.cors())

	e.GET("/", s.rootHandler)
	e.GET("/health", s.healthHandler)

	// Platform webhooks authenticate per-platform, not per-user.
	e.POST("/webhooks/slack", s.slackWebhookHandler)
	e.POST("/webhooks/telegram/:user_id", s.telegramWebhookHandler)
	e.POST("/webhooks/discord", s.discordWebhookHandler)

	e.POST("/api/v1/auth/register", s.registerHandler)
	e.POST("/api/v1/auth/login", s.loginHandler)
	e.POST("/api/v1/auth/refresh", s.refreshHandler)

	api := e.Group("/api/v1", s.requireAuth)
	api.GET("/auth/me", s.meHandler)

	api.GET("/feed", s.feedHandler, s.rateLimit("standard", s.settings.RateLimitPerMinute))
	api.GET("/thread/:platform/:thread_id", s.threadHandler, s.rateLimit("standard", s.settings.RateLimitPerMinute))

	api.PATCH("/message/:id", s.updateMessageHandler, s.rateLimit("standard", s.settings.RateLimitPerMinute))
	api.POST("/message/:id/reclassify", s.reclassifyHandler, s.rateLimit("standard", s.settings.RateLimitPerMinute))
	api.POST("/draft/:id", s.generateDraftHandler, s.rateLimit("ai", s.settings.AIRateLimitPerMinute))
	api.PUT("/draft/:id", s.saveDraftHandler, s.rateLimit("standard", s.settings.RateLimitPerMinute))
	api.POST("/send/:id", s.sendReplyHandler, s.rateLimit("standard", s.settings.RateLimitPerMinute))

	api.GET("/platforms", s.listPlatformsHandler)
	api.POST("/platforms/:platform/connect", s.connectPlatformHandler)
	api.DELETE("/platforms/:platform", s.disconnectPlatformHandler)

	e.GET("/ws/feed", s.wsHandler)

	return e
}

// Start serves HTTP until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.httpd = &http.Server{
		Addr:              s.settings.ServerAddr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("API server listening", "addr", s.settings.ServerAddr)
	if err := s.httpd.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpd == nil {
		return nil
	}
	return s.httpd.Shutdown(ctx)
}
