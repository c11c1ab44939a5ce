package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"agent-arena/internal/api"
	"agent-arena/internal/arena"
	"agent-arena/internal/config"
	"agent-arena/internal/events"
	"agent-arena/internal/game"
	"agent-arena/internal/storage"
	"agent-arena/internal/strategy"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// Load .env from the working directory, falling back to the parent
	envErr := godotenv.Load(".env")
	if envErr != nil {
		envErr = godotenv.Load("../.env")
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Observability.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if envErr != nil {
		logger.Info("no .env file found, using environment variables only")
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped with error", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}

func run(cfg config.AppConfig, logger *zap.Logger) error {
	logger.Info("agent arena starting",
		zap.Int("port", cfg.Server.Port),
		zap.Int("tiers", len(cfg.Tiers)),
		zap.Duration("countdown", cfg.Lobby.Countdown),
		zap.Duration("decision_timeout", cfg.Match.DecisionTimeout),
		zap.Int("max_turns", cfg.Match.MaxTurns))

	// Event bus and its subscribers
	bus := events.NewBus()

	metrics := api.NewMetricsObserver()
	bus.Subscribe(metrics.Observe)

	var eventLog *events.EventLog
	if path := cfg.Storage.EventLogPath; path != "" {
		eventLog = events.NewEventLog(logger.Named("eventlog"))
		if err := eventLog.Start(path); err != nil {
			logger.Warn("event log disabled", zap.Error(err))
			eventLog = nil
		} else {
			bus.Subscribe(func(e events.Event) { eventLog.Record(e) })
			api.RegisterEventLogMetrics(eventLog)
			logger.Info("event log enabled", zap.String("path", path))
		}
	}

	// Result persistence
	var (
		db      *sql.DB
		results *storage.Results
	)
	if path := cfg.Storage.ResultsDB; path != "" {
		var err error
		db, err = storage.Open(path)
		if err != nil {
			return fmt.Errorf("open results db: %w", err)
		}
		results = storage.NewResults(db)
		logger.Info("results database enabled", zap.String("path", path))
	}

	// Engine and lifecycle manager
	engine := game.NewEngine(game.EngineConfig{
		Rules:     cfg.Match,
		Publisher: bus,
		Logger:    logger.Named("engine"),
	})
	managerCfg := arena.ManagerConfig{
		Lobby:     cfg.Lobby,
		Tiers:     cfg.Tiers,
		Publisher: bus,
		Logger:    logger.Named("arena"),
	}
	routerCfg := api.RouterConfig{
		Strategies: strategy.NewRegistry(),
		RateLimitConfig: &api.RateLimitConfig{
			RequestsPerSecond: cfg.Server.RequestsPerSecond,
			Burst:             cfg.Server.Burst,
			CleanupInterval:   api.DefaultRateLimitConfig.CleanupInterval,
		},
		CORSOrigins:          cfg.Server.CORSOrigins,
		AllowPrivateWebhooks: cfg.Server.AllowPrivateWebhooks,
		Logger:               logger.Named("api"),
	}
	if cfg.Server.AdminToken != "" {
		sessions, err := api.NewSessionManager(cfg.Server.AdminToken, logger.Named("auth"))
		if err != nil {
			return err
		}
		routerCfg.Sessions = sessions
	} else {
		logger.Info("ADMIN_TOKEN not set, external agents and modifiers are disabled")
	}
	if cfg.Server.AllowPrivateWebhooks {
		logger.Warn("webhooks may target private networks")
	}
	if results != nil {
		managerCfg.Recorder = results
		routerCfg.Results = results
	}

	manager := arena.NewManager(arena.NewStore(), engine, managerCfg)
	opened, err := manager.Bootstrap()
	if err != nil {
		return fmt.Errorf("bootstrap arenas: %w", err)
	}
	for _, a := range opened {
		logger.Info("arena open",
			zap.String("arena_id", a.ID),
			zap.String("tier", a.Tier),
			zap.Int64("entry_fee", a.EntryFee))
	}
	routerCfg.Service = manager

	// Servers
	debugServer := api.StartDebugServer(cfg.Observability, logger.Named("debug"))

	server := api.NewServer(api.ServerConfig{
		Addr:   fmt.Sprintf(":%d", cfg.Server.Port),
		Router: routerCfg,
		Bus:    bus,
	})
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Start()
	}()

	// Wait for shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	logger.Info("server ready", zap.String("api", fmt.Sprintf("http://localhost:%d/api/arenas", cfg.Server.Port)))

	var runErr error
	select {
	case sig := <-quit:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case runErr = <-serveErr:
		logger.Error("api server failed", zap.Error(runErr))
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("api server shutdown", zap.Error(err))
	}
	if err := manager.Shutdown(ctx); err != nil {
		logger.Warn("arena manager shutdown", zap.Error(err))
	}
	if debugServer != nil {
		if err := debugServer.Shutdown(ctx); err != nil {
			logger.Warn("debug server shutdown", zap.Error(err))
		}
	}
	if eventLog != nil {
		eventLog.Stop()
	}
	if db != nil {
		if err := db.Close(); err != nil {
			logger.Warn("close results db", zap.Error(err))
		}
	}

	logger.Info("goodbye")
	return runErr
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = lvl
	return cfg.Build()
}
