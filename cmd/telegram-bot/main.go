package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"dinner-roulette/internal/api"
	"dinner-roulette/internal/auth"
	"dinner-roulette/internal/config"
	"dinner-roulette/internal/database"
	"dinner-roulette/internal/dish"
	"dinner-roulette/internal/logging"
	"dinner-roulette/internal/metrics"
	"dinner-roulette/internal/party"
	"dinner-roulette/internal/realtime"
	"dinner-roulette/internal/telegram"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.NewFromEnv()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load config")
	}
	if err := cfg.RequireTelegram(); err != nil {
		logging.Fatal().Err(err).Msg("Telegram is not configured")
	}
	logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. Database and repositories
	db, err := database.NewDB(cfg.DatabasePath)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer db.Close()

	dishRepo := dish.NewRepository(db.SQL)
	metricsStore := metrics.NewStore(db.SQL)

	// 3. Services
	hub := realtime.NewHub()
	go func() {
		if err := hub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Realtime hub stopped")
		}
	}()
	parties := party.NewService(party.NewRepository(db.SQL), dishRepo, hub, metricsStore, cfg.SpinCountdown)

	// 4. Telegram Bot
	bot, err := telegram.NewBot(cfg, parties, metricsStore)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize Telegram Bot")
	}

	// Web clients share parties with the chat, so the API rides on the same listener.
	mux := http.NewServeMux()
	bot.RegisterHandlers(mux)
	mux.Handle("/", api.NewServer(parties, dishRepo, auth.NewIssuer(cfg.JWTSecret, auth.DefaultTTL), hub).Routes())

	// 5. Start Server with Graceful Shutdown
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logging.Info().Str("port", cfg.Port).Msg("Telegram Bot Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Fatal().Err(err).Msg("Server failed")
		}
	}()

	<-ctx.Done()
	logging.Info().Msg("Shutting down server...")

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctxShutdown); err != nil {
		logging.Error().Err(err).Msg("Server forced to shutdown")
		return
	}
	logging.Info().Msg("Server exiting")
}
