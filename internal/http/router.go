// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// compression, CORS, security headers, authentication, idempotency, and the
// tiered rate limiter.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
//   - Production-ready CORS and security header posture
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"github.com/tbourn/go-rag-chat-backend/internal/config"
	"github.com/tbourn/go-rag-chat-backend/internal/domain"
	"github.com/tbourn/go-rag-chat-backend/internal/http/handlers"
	"github.com/tbourn/go-rag-chat-backend/internal/http/middleware"
	"github.com/tbourn/go-rag-chat-backend/internal/repo"
	"github.com/tbourn/go-rag-chat-backend/internal/services"
)

// userRepoShim adapts the repository free functions to the services.UserRepo
// interface expected by the AuthService. This keeps services decoupled from
// the concrete repo package while reusing existing functions.
type userRepoShim struct{}

// CreateUser proxies repo.CreateUser.
func (userRepoShim) CreateUser(ctx context.Context, db *gorm.DB, email, passwordHash, firstName, lastName string) (*domain.User, error) {
	return repo.CreateUser(ctx, db, email, passwordHash, firstName, lastName)
}

// GetUserByEmail proxies repo.GetUserByEmail.
func (userRepoShim) GetUserByEmail(ctx context.Context, db *gorm.DB, email string) (*domain.User, error) {
	return repo.GetUserByEmail(ctx, db, email)
}

// GetUserByID proxies repo.GetUserByID.
func (userRepoShim) GetUserByID(ctx context.Context, db *gorm.DB, id string) (*domain.User, error) {
	return repo.GetUserByID(ctx, db, id)
}

// sessionRepoShim adapts the repository free functions to the
// services.SessionRepo interface expected by the SessionService.
type sessionRepoShim struct{}

// CreateSession proxies repo.CreateSession.
func (sessionRepoShim) CreateSession(ctx context.Context, db *gorm.DB, userID, title string, description *string) (*domain.Session, error) {
	return repo.CreateSession(ctx, db, userID, title, description)
}

// ListSessions proxies repo.ListSessions.
func (sessionRepoShim) ListSessions(ctx context.Context, db *gorm.DB, userID string) ([]domain.Session, error) {
	return repo.ListSessions(ctx, db, userID)
}

// GetSession proxies repo.GetSession.
func (sessionRepoShim) GetSession(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Session, error) {
	return repo.GetSession(ctx, db, id, userID)
}

// RenameSession proxies repo.RenameSession.
func (sessionRepoShim) RenameSession(ctx context.Context, db *gorm.DB, id, userID, title string) error {
	return repo.RenameSession(ctx, db, id, userID, title)
}

// ToggleSessionFavorite proxies repo.ToggleSessionFavorite.
func (sessionRepoShim) ToggleSessionFavorite(ctx context.Context, db *gorm.DB, id, userID string) error {
	return repo.ToggleSessionFavorite(ctx, db, id, userID)
}

// DeleteSession proxies repo.DeleteSession.
func (sessionRepoShim) DeleteSession(ctx context.Context, db *gorm.DB, id, userID string) error {
	return repo.DeleteSession(ctx, db, id, userID)
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine. It configures observability (tracing, metrics), idempotency and the
// tiered rate limiter, CORS and security headers, health and metrics
// endpoints, and then mounts the versioned public API under API_BASE_PATH.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with PII scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Gzip compression
//  7. Metrics
//  8. Global + API-key rate limit tiers (idempotency validator and per-user
//     tier live inside the authenticated group, after RequireAuth)
//  9. CORS and Security headers
func RegisterRoutes(r *gin.Engine, db *gorm.DB, retriever services.Retriever, generator services.Generator, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{
			middleware.APIKeyHeader,
		},
	}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (1 MiB)
	r.Use(limitBody(1 << 20))

	// 6) Response compression
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	// 7) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 8) Idempotency validation. Installed inside the authenticated group
	// below: the replay lookup is keyed by (user, session, key), so it must
	// run after RequireAuth has resolved the user, and before the per-user
	// rate tier so replays can bypass it.
	idem := middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{
			MaxLen: 200,
		},
		func(ctx context.Context, userID, sessionID, key string, now time.Time) (bool, error) {
			rec, err := repo.GetIdempotency(ctx, db, userID, sessionID, key, now)
			if err != nil || rec == nil {
				return false, nil
			}
			return true, nil
		},
	)

	// 9) Rate limit tiers. Global and API-key tiers see every request; the
	// per-user tier is installed after RequireAuth below so it keys on real
	// identities instead of IPs.
	globalRL := middleware.NewRateLimiter(cfg.Rate.MaxGlobal, cfg.Rate.Window, middleware.KeyGlobal())
	apiKeyRL := middleware.NewRateLimiter(cfg.Rate.MaxPerAPIKey, cfg.Rate.Window, middleware.KeyByAPIKey())
	userRL := middleware.NewRateLimiter(cfg.Rate.MaxPerUser, cfg.Rate.Window, middleware.KeyByUserOrIP())
	r.Use(globalRL.Handler())
	r.Use(apiKeyRL.Handler())

	// 10) CORS posture (safe defaults: allow all if none configured)
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header (helps tests and simple health checks).
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.APIKeyHeader, middleware.HeaderIdempotencyKey},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		// Echo ACAO with the request Origin when it is in the allowlist (in addition to gin-contrib/cors).
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.APIKeyHeader, middleware.HeaderIdempotencyKey},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/readiness
	healthBody := func() gin.H {
		return gin.H{"status": "ok", "timestamp": time.Now().UTC().Format(time.RFC3339)}
	}
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, healthBody()) })
	r.GET("/health/live", func(c *gin.Context) { c.JSON(http.StatusOK, healthBody()) })
	r.GET("/health/ready", func(c *gin.Context) {
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":    "unavailable",
				"timestamp": time.Now().UTC().Format(time.RFC3339),
			})
			return
		}
		c.JSON(http.StatusOK, healthBody())
	})

	// Swagger UI (docs), optional
	if cfg.SwaggerEnabled {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Dependency injection: services ← repo/db/backends
	authSvc := &services.AuthService{
		DB:         db,
		Repo:       userRepoShim{},
		Secret:     []byte(cfg.Auth.Secret),
		Issuer:     cfg.Auth.Issuer,
		AccessTTL:  cfg.Auth.AccessTTL,
		RefreshTTL: cfg.Auth.RefreshTTL,
		BcryptCost: cfg.Auth.BcryptCost,
	}
	sessionSvc := services.NewSessionService(db, sessionRepoShim{})
	msgSvc := services.NewMessageService(db)

	var upstream *rate.Limiter
	if cfg.RAG.UpstreamRPS > 0 {
		upstream = rate.NewLimiter(rate.Limit(cfg.RAG.UpstreamRPS), cfg.RAG.UpstreamBurst)
	}
	ragSvc := &services.RAGService{
		Retriever:  retriever,
		Generator:  generator,
		MaxResults: cfg.RAG.MaxResults,
		Threshold:  cfg.RAG.Threshold,
		Timeout:    cfg.RAG.Timeout,
		Upstream:   upstream,
	}

	h := handlers.New(authSvc, sessionSvc, msgSvc, ragSvc)
	h.IdempotencyTTL = cfg.IdempotencyTTL

	// Public API
	apiBase := cfg.APIBasePath // e.g. "/api/v1"
	api := groupWithPrefix(r, apiBase)
	{
		// Auth (no bearer token required)
		api.POST("/auth/register", h.Register)
		api.POST("/auth/login", h.Login)
		api.POST("/auth/refresh", h.Refresh)

		// Everything else requires a valid access token; the per-user rate
		// tier runs after authentication so it keys on user IDs.
		protected := api.Group("")
		protected.Use(middleware.RequireAuth(authSvc))
		protected.Use(idem)
		protected.Use(userRL.Handler())
		{
			// Sessions
			protected.POST("/sessions", h.CreateSession)
			protected.GET("/sessions", h.ListSessions)
			protected.GET("/sessions/:id", h.GetSession)
			protected.PUT("/sessions/:id/rename", h.RenameSession)
			protected.PUT("/sessions/:id/favorite", h.ToggleFavorite)
			protected.DELETE("/sessions/:id", h.DeleteSession)

			// Messages
			protected.POST("/sessions/:id/messages", h.AppendMessage)
			protected.GET("/sessions/:id/messages", h.ListMessages)

			// RAG
			protected.POST("/rag/chat", h.RAGChat)
			protected.POST("/rag/query", h.RAGQuery)
		}
	}
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
