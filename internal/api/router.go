package api

import (
	"context"
	"net/http"

	"agent-arena/internal/arena"
	"agent-arena/internal/config"
	"agent-arena/internal/game"
	"agent-arena/internal/storage"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// ArenaService defines the lifecycle manager methods used by the API.
// This interface enables mocking for tests without running real matches.
// Keep this minimal - only include methods the API layer actually calls.
type ArenaService interface {
	// Arenas returns every arena in creation order
	Arenas() []arena.Info
	// Arena returns one arena
	Arena(id string) (arena.Info, error)
	// Join queues an agent in an accepting arena
	Join(arenaID string, agent game.AgentDescriptor) (arena.Info, error)
	// Leave removes a queued agent on behalf of its owner
	Leave(arenaID, agentID, ownerID string) (arena.Info, error)
	// Match returns the latest snapshot of a launched match
	Match(matchID string) (*game.MatchSnapshot, error)
	// Stats returns lifecycle counters
	Stats() arena.Stats
	// Tiers returns the configured tiers
	Tiers() []config.TierConfig
}

// StrategyFactory builds strategies for agents that join without a webhook.
type StrategyFactory interface {
	New(name string, seed int64) (game.Strategy, error)
	Names() []string
}

// ResultReader reads persisted match results.
type ResultReader interface {
	ListResults(ctx context.Context, tier string, limit int) ([]storage.ResultSummary, error)
	GetResult(ctx context.Context, matchID string) (*game.MatchResult, string, error)
}

// RouterConfig contains all dependencies needed to construct the HTTP router.
//
// Example usage in tests:
//
//	cfg := api.RouterConfig{
//	    Service:    fakeService,
//	    Strategies: strategy.NewRegistry(),
//	    RateLimitConfig: &api.RateLimitConfig{
//	        RequestsPerSecond: 1000, // High limit for tests
//	        Burst:             1000,
//	    },
//	}
//	router := api.NewRouter(cfg)
//	ts := httptest.NewServer(router)
type RouterConfig struct {
	// Service is the arena lifecycle manager (required)
	Service ArenaService

	// Strategies resolves named built-in strategies (required for joins)
	Strategies StrategyFactory

	// Results serves recorded matches. Nil disables the /api/results routes.
	Results ResultReader

	// RateLimiter is an optional pre-configured rate limiter.
	// If nil, a new one will be created using RateLimitConfig.
	RateLimiter *IPRateLimiter

	// RateLimitConfig is optional configuration for the rate limiter.
	// Only used if RateLimiter is nil. If both are nil, uses DefaultRateLimitConfig.
	RateLimitConfig *RateLimitConfig

	// Sessions authenticates admins. Nil disables /api/auth and refuses
	// every join that asks for external status or modifiers.
	Sessions *SessionManager

	// AllowPrivateWebhooks lets webhook agents live on loopback or private
	// networks. Leave it off on public deployments.
	AllowPrivateWebhooks bool

	// CORSOrigins is an optional list of allowed CORS origins.
	// If nil, uses the default local origins.
	CORSOrigins []string

	// DisableLogging disables the request logger middleware (useful for benchmarks).
	DisableLogging bool

	// Logger receives handler errors. Nil discards them.
	Logger *zap.Logger
}

// routerHandlers holds the handler functions for the router.
type routerHandlers struct {
	service      ArenaService
	strategies   StrategyFactory
	results      ResultReader
	sessions     *SessionManager
	rateLimiter  *IPRateLimiter
	allowPrivate bool
	logger       *zap.Logger
}

// NewRouter constructs the HTTP router with all middleware and routes.
//
// No listeners are opened and no match work starts here, so the router is
// safe to use in tests with httptest.NewServer.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Middleware - Order matters!
	if !cfg.DisableLogging {
		r.Use(middleware.Logger)
	}
	r.Use(middleware.Recoverer)
	r.Use(metricsMiddleware)

	// Rate limiting (BEFORE CORS to reject early and save CPU)
	rateLimiter := cfg.RateLimiter
	if rateLimiter == nil {
		rateLimitCfg := DefaultRateLimitConfig
		if cfg.RateLimitConfig != nil {
			rateLimitCfg = *cfg.RateLimitConfig
		}
		rateLimiter = NewIPRateLimiter(rateLimitCfg)
	}
	r.Use(rateLimiter.Middleware)

	corsOrigins := cfg.CORSOrigins
	if corsOrigins == nil {
		corsOrigins = []string{
			"http://localhost:*",
			"http://127.0.0.1:*",
		}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}))

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &routerHandlers{
		service:      cfg.Service,
		strategies:   cfg.Strategies,
		results:      cfg.Results,
		sessions:     cfg.Sessions,
		rateLimiter:  rateLimiter,
		allowPrivate: cfg.AllowPrivateWebhooks,
		logger:       logger,
	}

	r.Route("/api", func(r chi.Router) {
		// Lobby
		r.Get("/arenas", h.handleListArenas)
		r.Get("/arenas/{id}", h.handleGetArena)
		r.Post("/arenas/{id}/join", h.handleJoinArena)
		r.Post("/arenas/{id}/leave", h.handleLeaveArena)
		r.Get("/tiers", h.handleGetTiers)

		// Matches
		r.Get("/matches/{id}", h.handleGetMatch)
		r.Get("/matches/{id}/turns", h.handleGetTurns)

		// Recorded results
		if h.results != nil {
			r.Get("/results", h.handleListResults)
			r.Get("/results/{id}", h.handleGetResult)
		}

		if h.sessions != nil {
			r.Post("/auth/login", h.sessions.HandleLogin)
			r.Post("/auth/logout", h.sessions.HandleLogout)
			r.Get("/auth/status", h.sessions.HandleAuthStatus)
		}

		r.Get("/strategies", h.handleGetStrategies)
		r.Get("/stats", h.handleGetStats)
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"})
	})

	return r
}

// GetRateLimiterFromRouter returns the limiter a router built from cfg uses,
// creating one when cfg carries none.
func GetRateLimiterFromRouter(cfg RouterConfig) *IPRateLimiter {
	if cfg.RateLimiter != nil {
		return cfg.RateLimiter
	}
	rateLimitCfg := DefaultRateLimitConfig
	if cfg.RateLimitConfig != nil {
		rateLimitCfg = *cfg.RateLimitConfig
	}
	return NewIPRateLimiter(rateLimitCfg)
}
