package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dennisdiepolder/monti/presence/internal/accumulator"
	"github.com/dennisdiepolder/monti/presence/internal/aggregator"
	"github.com/dennisdiepolder/monti/presence/internal/alerts"
	"github.com/dennisdiepolder/monti/presence/internal/api"
	"github.com/dennisdiepolder/monti/presence/internal/auth"
	"github.com/dennisdiepolder/monti/presence/internal/cache"
	"github.com/dennisdiepolder/monti/presence/internal/clock"
	"github.com/dennisdiepolder/monti/presence/internal/config"
	"github.com/dennisdiepolder/monti/presence/internal/metrics"
	"github.com/dennisdiepolder/monti/presence/internal/presence"
	"github.com/dennisdiepolder/monti/presence/internal/scheduler"
	"github.com/dennisdiepolder/monti/presence/internal/storage"
	"github.com/dennisdiepolder/monti/presence/internal/telephony"
	"github.com/dennisdiepolder/monti/presence/internal/types"
	"github.com/dennisdiepolder/monti/presence/internal/websocket"
	"github.com/dennisdiepolder/monti/presence/pkg/middleware"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/natefinch/lumberjack"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	log.Logger = newLogger(cfg)

	log.Info().
		Str("port", cfg.Port).
		Strs("allowed_origins", cfg.AllowedOrigins).
		Str("log_level", cfg.LogLevel).
		Str("db_driver", cfg.DBDriver).
		Bool("redis", cfg.RedisAddr != "").
		Msg("starting presence server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clk := clock.Real()
	m := metrics.Get()

	// Durable store and session archive
	store, err := storage.Open(cfg.DBDriver, cfg.DatabaseURL, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open durable store")
	}
	archive, err := storage.NewArchive(ctx, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize session archive")
	}

	// Metrics cache
	var metricsCache cache.MetricsCache
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		defer redisCache.Close()
		if err := redisCache.Ping(ctx); err != nil {
			log.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("redis unreachable at startup, metrics degrade until it recovers")
		}
		metricsCache = redisCache
	} else {
		log.Info().Msg("using in-process metrics cache")
		metricsCache = cache.NewLocalCache()
	}

	acc := accumulator.New(store, metricsCache, clk, m, accumulator.Options{
		ProductiveIncludesCall: cfg.ProductiveIncludesCall,
	}, log.Logger)
	table := cache.NewStatusTable()

	engine := presence.New(store, archive, acc, table, nil, clk, m, presence.Options{
		LockTimeout:  cfg.LockTimeout,
		ACWDuration:  cfg.ACWDuration,
		AutoRegister: cfg.SkipAuth || !cfg.IsProduction(),
	}, log.Logger)

	// Realtime hub
	hub := websocket.NewHub(table, engine, clk, m, log.Logger)
	engine.SetPublisher(hub)
	go hub.Run(ctx)

	if err := engine.Recover(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to recover presence state")
	}

	validator, err := auth.NewValidator(auth.Options{
		JWTSecret:  cfg.JWTSecret,
		OIDCIssuer: cfg.OIDCIssuer,
		SkipAuth:   cfg.SkipAuth,
	}, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to configure session validation")
	}
	if cfg.SkipAuth {
		log.Warn().Msg("SKIP_AUTH is enabled, sessions are not verified")
	}

	agg := aggregator.NewAggregator(engine, store, metricsCache, hub, clk, m, log.Logger)
	checker := alerts.NewChecker(store, hub, campaignLookup(table), m, cfg.LongPauseThreshold, log.Logger)

	// Periodic jobs
	sched := scheduler.New(clk, log.Logger)
	mustSchedule(sched.Every("accumulator_tick", cfg.TickInterval, acc.Tick))
	mustSchedule(sched.Every("accumulator_flush", cfg.FlushInterval, acc.Flush))
	mustSchedule(sched.Every("metrics_broadcast", cfg.BroadcastInterval, func(ctx context.Context) {
		agg.Broadcast(ctx)
	}))
	mustSchedule(sched.Cron("long_pause_alerts", "@every 30s", func(ctx context.Context) {
		if _, err := checker.Check(ctx, clk.Now()); err != nil {
			log.Warn().Err(err).Msg("long pause check failed")
		}
	}))
	if cfg.DisconnectGrace > 0 {
		mustSchedule(sched.Cron("disconnect_grace", "@every 30s", func(ctx context.Context) {
			engine.EndDisconnected(ctx, cfg.DisconnectGrace)
		}))
	} else {
		log.Info().Msg("disconnect grace sweep disabled")
	}
	sched.Start(ctx)

	// Handlers
	wsHandler := websocket.NewHandler(hub, validator, cfg, log.Logger)
	telephonyReceiver := telephony.NewReceiver(engine, m, log.Logger)
	handlers := api.NewHandlers(engine, agg, clk.Now, log.Logger)

	// Create router
	r := chi.NewRouter()

	// Add middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(log.Logger))
	r.Use(middleware.Metrics(m))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	// Register public routes (no auth required)
	r.Get("/health", healthHandler(agg))
	r.Method(http.MethodGet, "/metrics", m.Handler())

	// Internal routes (no auth - for the telephony layer and directory sync)
	r.Route("/internal", func(r chi.Router) {
		handlers.MountInternal(r)
		r.Post("/telephony/events", telephonyReceiver.HandleEvent)
		r.Get("/telephony/stats", telephonyReceiver.GetStats)
	})

	// The websocket handler validates the session before upgrading
	r.Get("/ws", wsHandler.ServeHTTP)

	// Add auth middleware for protected routes
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(validator))
		r.Route("/api", handlers.Mount)
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Msgf("server listening on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server...")

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Attempt graceful shutdown
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	// Stop periodic jobs, then persist what the accumulator still holds
	sched.Stop()
	acc.Flush(shutdownCtx)
	cancel()

	if sqlDB, err := store.DB().DB(); err == nil {
		sqlDB.Close()
	}

	log.Info().Msg("server stopped")
}

// newLogger builds the process logger: console output in development, JSON
// otherwise, optionally teed into a rotated file
func newLogger(cfg *config.Config) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var out io.Writer = os.Stderr
	if cfg.LogFormat == "console" && !cfg.IsProduction() {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}
	if cfg.LogFile != "" {
		out = zerolog.MultiLevelWriter(out, &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    100, // megabytes
			MaxBackups: 5,
			MaxAge:     14, // days
			Compress:   true,
		})
	}

	logger := zerolog.New(out).With().Timestamp().Str("service", "presence").Logger()
	if err != nil {
		logger.Warn().Str("level", cfg.LogLevel).Msg("invalid log level, using info")
	}
	return logger
}

func campaignLookup(table *cache.StatusTable) alerts.CampaignLookup {
	return func(agentID string) string {
		if p, ok := table.Get(agentID); ok {
			return p.CampaignID
		}
		return ""
	}
}

func mustSchedule(err error) {
	if err != nil {
		log.Fatal().Err(err).Msg("failed to schedule job")
	}
}

// HealthChecker reports dependency health
type HealthChecker interface {
	Health(ctx context.Context) types.SystemHealth
}

// healthHandler handles health check requests. A degraded metrics cache still
// answers 200; an unreachable durable store answers 503.
func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := checker.Health(r.Context())

		status := "ok"
		code := http.StatusOK
		if health.Degraded {
			status = "degraded"
		}
		if health.Store != types.HealthOK {
			code = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(map[string]string{
			"status":  status,
			"service": "presence",
			"store":   health.Store,
			"cache":   health.Cache,
		})
	}
}
