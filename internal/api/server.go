package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"agent-arena/internal/events"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// ServerConfig wires the API server. Router fields follow RouterConfig.
type ServerConfig struct {
	Addr   string
	Router RouterConfig

	// Bus feeds the WebSocket hub. Nil leaves /ws connected but silent.
	Bus *events.Bus
}

// Server is the HTTP API server with WebSocket support.
// It combines the HTTP router with the WebSocket hub for live events.
type Server struct {
	router      *chi.Mux
	wsHub       *WebSocketHub
	rateLimiter *IPRateLimiter
	sessions    *SessionManager
	bus         *events.Bus
	logger      *zap.Logger

	httpServer *http.Server
	hubCtx     context.Context
	stopHub    context.CancelFunc

	mu          sync.Mutex
	unsubscribe func()
}

// NewServer creates the API server.
//
// IMPORTANT: Background workers do NOT start until Start() is called.
// Tests can construct the server and use Router() without any goroutines
// serving sockets.
func NewServer(cfg ServerConfig) *Server {
	logger := cfg.Router.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	rc := cfg.Router
	if rc.RateLimiter == nil {
		rc.RateLimiter = GetRateLimiterFromRouter(rc)
	}
	if rc.CORSOrigins == nil {
		rc.CORSOrigins = []string{"http://localhost:*", "http://127.0.0.1:*"}
	}

	s := &Server{
		router:      NewRouter(rc),
		wsHub:       NewWebSocketHub(rc.CORSOrigins, logger),
		rateLimiter: rc.RateLimiter,
		sessions:    rc.Sessions,
		bus:         cfg.Bus,
		logger:      logger,
	}
	s.hubCtx, s.stopHub = context.WithCancel(context.Background())
	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// The /ws route needs the hub instance, so it is added here rather than
	// in NewRouter.
	s.router.Get("/ws", s.wsHub.HandleWebSocket)

	return s
}

// Start subscribes the hub to the bus and serves HTTP until Shutdown.
// It returns nil after a graceful shutdown. Call it only once.
func (s *Server) Start() error {
	go s.wsHub.Run(s.hubCtx)
	if s.bus != nil {
		s.mu.Lock()
		s.unsubscribe = s.bus.Subscribe(s.wsHub.Publish)
		s.mu.Unlock()
	}

	s.logger.Info("api server starting", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Router returns the HTTP handler for use with httptest.
//
// Example:
//
//	server := api.NewServer(cfg)
//	ts := httptest.NewServer(server.Router())
//	defer ts.Close()
//	resp, _ := http.Get(ts.URL + "/api/arenas")
func (s *Server) Router() http.Handler {
	return s.router
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *WebSocketHub {
	return s.wsHub
}

// Shutdown stops accepting requests, waits for in-flight ones, then closes
// WebSocket clients and background workers.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)

	s.mu.Lock()
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	s.mu.Unlock()

	s.stopHub()
	s.rateLimiter.Stop()
	if s.sessions != nil {
		s.sessions.Stop()
	}
	return err
}
