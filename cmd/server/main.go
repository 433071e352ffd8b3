package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mindsignal/pairing/internal/config"
	"github.com/mindsignal/pairing/internal/database"
	"github.com/mindsignal/pairing/internal/handler"
	"github.com/mindsignal/pairing/internal/jobs"
	"github.com/mindsignal/pairing/internal/metrics"
	"github.com/mindsignal/pairing/internal/middleware"
	"github.com/mindsignal/pairing/internal/redis"
	"github.com/mindsignal/pairing/internal/repository"
	"github.com/mindsignal/pairing/internal/service"
	"github.com/mindsignal/pairing/internal/sse"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	isProduction := os.Getenv("FLY_APP_NAME") != ""
	if err := cfg.Validate(isProduction); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	redisClient, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()
	log.Info().Msg("redis connected")

	sessionRepo, closeStore := openSessionStore(cfg, redisClient)
	defer closeStore()

	m := metrics.New(prometheus.DefaultRegisterer)

	broker := sse.NewBroker(redisClient, m)
	defer broker.Close()

	sessionService := service.NewSessionService(sessionRepo, broker, m, cfg.PairingTTL(), cfg.JoinBaseURL)
	rateLimiter := service.NewRateLimiter(redisClient.Client)

	createLimit := middleware.NewIPRateLimitMiddleware(
		rateLimiter, m, cfg.CreateRateLimitPerMin, config.RateLimitWindow, "create",
	)
	claimLimit := middleware.NewIPRateLimitMiddleware(
		rateLimiter, m, cfg.ClaimRateLimitPerMin, config.RateLimitWindow, "claim",
	)
	bodyLimitMiddleware := middleware.NewBodyLimitMiddleware(0)
	securityHeadersMiddleware := middleware.NewSecurityHeadersMiddleware(isProduction)

	sessionHandler := handler.NewSessionHandler(
		sessionService, broker, createLimit.Handler, claimLimit.Handler, config.ServerRequestTimeout,
	)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(bodyLimitMiddleware.Handler)
	r.Use(securityHeadersMiddleware.Handler)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"status":     "ok",
			"store":      cfg.SessionStore,
			"sseClients": broker.TotalClients(),
			"timestamp":  time.Now().UnixMilli(),
		})
	})

	r.Handle("/metrics", promhttp.Handler())

	// the session router applies the request timeout itself so event streams can stay open
	r.Mount("/api/sessions", sessionHandler.Routes())

	cleanupJob := jobs.NewCleanupJob(sessionService, cfg.SessionRetention(), config.CleanupJobInterval)
	cleanupJob.Start()
	defer cleanupJob.Stop()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().
			Str("addr", cfg.Addr()).
			Str("store", cfg.SessionStore).
			Dur("pairingTtl", cfg.PairingTTL()).
			Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	// open event streams only end when their clients go away, so cut them first
	broker.Close()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

func openSessionStore(cfg *config.Config, redisClient *redis.Client) (repository.SessionRepository, func()) {
	switch cfg.SessionStore {
	case config.StoreRedis:
		return repository.NewRedisSessionRepository(redisClient.Client, cfg.SessionRetention()), func() {}

	case config.StoreMemory:
		return repository.NewMemorySessionRepository(cfg.SessionRetention()), func() {}

	default:
		db, err := database.Connect(cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}

		ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
		defer cancel()
		if err := db.Ping(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to ping database")
		}
		if err := db.EnsureSchema(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to apply schema")
		}
		log.Info().Msg("database connected")

		return repository.NewSessionRepository(db.DB), func() { db.Close() }
	}
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
