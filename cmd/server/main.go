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
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/breqdev/portal-bridge-go/internal/config"
	"github.com/breqdev/portal-bridge-go/internal/database"
	"github.com/breqdev/portal-bridge-go/internal/discord"
	"github.com/breqdev/portal-bridge-go/internal/handler"
	"github.com/breqdev/portal-bridge-go/internal/jobs"
	"github.com/breqdev/portal-bridge-go/internal/middleware"
	"github.com/breqdev/portal-bridge-go/internal/pubsub"
	"github.com/breqdev/portal-bridge-go/internal/redis"
	"github.com/breqdev/portal-bridge-go/internal/repository"
	"github.com/breqdev/portal-bridge-go/internal/service"
	"github.com/breqdev/portal-bridge-go/internal/store"
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

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
	if err := db.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}
	cancel()
	log.Info().Msg("database connected")

	redisClient, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()
	log.Info().Msg("redis connected")

	invocationRepo := repository.NewInvocationRepository(db.DB)

	kv := store.NewRedis(redisClient)
	broker := pubsub.NewRedis(redisClient)

	registry := service.NewRegistry(kv)
	wallet := service.NewWallet(kv)
	commands := service.NewCommands(registry)

	bridge := service.NewBridge(registry, wallet, broker, invocationRepo)
	bridge.ReplyTimeout = cfg.ReplyTimeout()
	bridge.ConfirmTimeout = cfg.ConfirmTimeout()
	bridge.FrameInterval = cfg.FrameInterval()

	authMiddleware := middleware.NewPortalAuthMiddleware(registry)
	clientHandler := handler.NewClientHandler(registry, broker, invocationRepo)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"status":    "ok",
			"timestamp": time.Now().UnixMilli(),
		})
	})

	r.Route("/client", func(r chi.Router) {
		r.Use(authMiddleware.Handler)
		r.Mount("/", clientHandler.Routes())
	})

	cleanupJob := jobs.NewCleanupJob(invocationRepo, cfg.InvocationRetention(), config.CleanupJobInterval)
	cleanupJob.Start()
	defer cleanupJob.Stop()

	botCtx, botCancel := context.WithCancel(context.Background())
	defer botCancel()

	if cfg.DiscordToken != "" {
		bot, err := discord.NewBot(discord.BotOpts{
			Token:    cfg.DiscordToken,
			Prefix:   cfg.CommandPrefix,
			Commands: commands,
			Bridge:   bridge,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create discord bot")
		}
		if err := bot.Start(botCtx); err != nil {
			log.Fatal().Err(err).Msg("failed to start discord bot")
		}
		defer bot.Stop()
		log.Info().Msg("discord bot started")
	} else {
		log.Warn().Msg("DISCORD_TOKEN not set, running without the chat front end")
	}

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	botCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
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
