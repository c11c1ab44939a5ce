package api

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"sync"
	"time"

	"agent-arena/internal/config"
	"agent-arena/internal/events"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics with bounded cardinality (no per-agent or per-match labels)
var (
	// Match metrics
	matchesStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arena_matches_started_total",
		Help: "Matches started",
	})

	matchesEnded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arena_matches_ended_total",
		Help: "Matches ended, by end reason",
	}, []string{"reason"}) // Bounded: "last_standing", "draw", "turn_limit"

	matchErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arena_match_errors_total",
		Help: "Arenas that ended in the error state",
	})

	activeMatches = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "arena_active_matches",
		Help: "Matches currently being played",
	})

	turnDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "arena_turn_duration_seconds",
		Help:    "Time spent executing one turn, including decision collection",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
	})

	decisionsDefaulted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arena_decisions_defaulted_total",
		Help: "Decisions replaced by defend",
	}, []string{"reason"}) // Bounded: "timeout", "error", "panic", "invalid"

	alliancesFormed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arena_alliances_formed_total",
		Help: "Alliances formed",
	})

	betrayals = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arena_betrayals_total",
		Help: "Alliances broken by betrayal",
	})

	agentDeaths = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arena_agent_deaths_total",
		Help: "Participants eliminated",
	})

	prizePaid = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arena_prize_paid_total",
		Help: "Prize units paid out, by payout reason",
	}, []string{"reason"})

	lobbyEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arena_lobby_events_total",
		Help: "Lobby lifecycle events",
	}, []string{"type"}) // Bounded: lobby event type names

	// DoS detection metrics - use ONLY bounded label values
	connectionRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "connection_rejected_total",
		Help: "Connections rejected by rate limiter or origin check",
	}, []string{"reason"}) // Bounded: "rate_limit", "origin", "ws_total_limit", "ws_ip_limit"

	// HTTP metrics with bounded labels
	requestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint"}) // endpoint is the route pattern, not the full URL

	requestTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "endpoint", "status"})

	// WebSocket metrics
	wsConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "websocket_connections_active",
		Help: "Currently active WebSocket connections",
	})

	wsMessagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "websocket_messages_total",
		Help: "Total WebSocket messages sent",
	})

	wsMessagesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "websocket_messages_dropped_total",
		Help: "WebSocket messages dropped because a client fell behind",
	})
)

// MetricsObserver turns bus events into Prometheus metrics. Subscribe its
// Observe method to the event bus.
type MetricsObserver struct {
	mu     sync.Mutex
	active map[string]struct{}
}

// NewMetricsObserver creates an observer with no active matches.
func NewMetricsObserver() *MetricsObserver {
	return &MetricsObserver{active: make(map[string]struct{})}
}

// Observe records one event. It never blocks.
func (o *MetricsObserver) Observe(e events.Event) {
	switch e.Type {
	case events.TypeMatchStarted:
		matchesStarted.Inc()
		o.setActive(e.MatchID, true)
	case events.TypeMatchEnded:
		if p, ok := e.Payload.(events.MatchEndedPayload); ok {
			matchesEnded.WithLabelValues(p.Reason).Inc()
		}
		o.setActive(e.MatchID, false)
	case events.TypeMatchError:
		matchErrors.Inc()
		o.setActive(e.MatchID, false)
	case events.TypeTurnCompleted:
		if p, ok := e.Payload.(events.TurnPayload); ok {
			turnDuration.Observe(p.Duration.Seconds())
		}
	case events.TypeDecisionDefaulted:
		if p, ok := e.Payload.(events.DecisionDefaultedPayload); ok {
			decisionsDefaulted.WithLabelValues(p.Reason).Inc()
		}
	case events.TypeAllianceFormed:
		alliancesFormed.Inc()
	case events.TypeBetrayal:
		betrayals.Inc()
	case events.TypeAgentDied:
		agentDeaths.Inc()
	case events.TypePrizeDistributed:
		if p, ok := e.Payload.(events.PrizePayload); ok {
			prizePaid.WithLabelValues(p.Reason).Add(float64(p.Amount))
		}
	case events.TypeArenaCreated, events.TypeAgentJoined, events.TypeAgentLeft,
		events.TypeCountdownStarted, events.TypeMatchLaunching, events.TypeMatchCompleted:
		lobbyEvents.WithLabelValues(e.Type.String()).Inc()
	}
}

func (o *MetricsObserver) setActive(matchID string, on bool) {
	if matchID == "" {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	_, known := o.active[matchID]
	switch {
	case on && !known:
		o.active[matchID] = struct{}{}
		activeMatches.Inc()
	case !on && known:
		delete(o.active, matchID)
		activeMatches.Dec()
	}
}

// RegisterEventLogMetrics exposes the audit log counters. Call once per process.
func RegisterEventLogMetrics(el *events.EventLog) {
	promauto.NewCounterFunc(prometheus.CounterOpts{
		Name: "event_log_total",
		Help: "Total events logged",
	}, func() float64 { return float64(el.GetTotalCount()) })

	promauto.NewCounterFunc(prometheus.CounterOpts{
		Name: "event_log_dropped_total",
		Help: "Events dropped due to rate limiting or buffer full",
	}, func() float64 { return float64(el.GetDroppedCount()) })
}

// metricsMiddleware records request latency by chi route pattern.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		endpoint := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				endpoint = p
			}
		}
		RecordRequest(r.Method, endpoint, sw.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Hijack passes through so /ws upgrades work behind the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// NewDebugHandler builds the observability mux: pprof, /metrics and /health,
// wrapped in basic auth when a user is configured.
func NewDebugHandler(cfg config.ObservabilityConfig) http.Handler {
	mux := http.NewServeMux()

	// pprof endpoints for profiling
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	// Prometheus metrics endpoint
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	if cfg.BasicAuthUser != "" {
		return basicAuthMiddleware(cfg.BasicAuthUser, cfg.BasicAuthPass, mux)
	}
	return mux
}

// StartDebugServer starts the internal observability server and returns it so
// the caller can shut it down. It returns nil when disabled.
// CRITICAL: This binds to loopback only unless ALLOW_DEBUG_EXTERNAL=true.
func StartDebugServer(cfg config.ObservabilityConfig, logger *zap.Logger) *http.Server {
	if !cfg.Enabled {
		logger.Info("debug server disabled")
		return nil
	}

	if !isLoopback(cfg.ListenAddr) && os.Getenv("ALLOW_DEBUG_EXTERNAL") != "true" {
		logger.Warn("debug server forced to localhost", zap.String("requested", cfg.ListenAddr))
		cfg.ListenAddr = config.DefaultObservability().ListenAddr
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           NewDebugHandler(cfg),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("debug server starting",
			zap.String("addr", cfg.ListenAddr),
			zap.String("pprof", "http://"+cfg.ListenAddr+"/debug/pprof/"),
			zap.String("metrics", "http://"+cfg.ListenAddr+"/metrics"))

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("debug server error", zap.Error(err))
		}
	}()

	return srv
}

func isLoopback(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// basicAuthMiddleware adds basic authentication to the handler
func basicAuthMiddleware(user, pass string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || u != user || p != pass {
			w.Header().Set("WWW-Authenticate", `Basic realm="debug"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RecordConnectionRejected increments the rejection counter.
// reason must be one of: "rate_limit", "origin", "ws_total_limit", "ws_ip_limit"
func RecordConnectionRejected(reason string) {
	connectionRejected.WithLabelValues(reason).Inc()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, endpoint string, status int, duration time.Duration) {
	requestLatency.WithLabelValues(method, endpoint).Observe(duration.Seconds())
	requestTotal.WithLabelValues(method, endpoint, http.StatusText(status)).Inc()
}

// UpdateWSConnections updates WebSocket connection count
func UpdateWSConnections(count int) {
	wsConnectionsActive.Set(float64(count))
}

// IncrementWSMessages increments WebSocket message counter
func IncrementWSMessages() {
	wsMessagesTotal.Inc()
}
