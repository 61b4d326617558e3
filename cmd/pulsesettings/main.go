package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"pulsesettings/internal/cache"
	"pulsesettings/internal/config"
	"pulsesettings/internal/httpapi"
	"pulsesettings/internal/metrics"
	"pulsesettings/internal/settings"
	"pulsesettings/internal/storage"
	"pulsesettings/internal/telegram"
)

func main() {
	envFile := flag.String("env", ".env", "path to an optional .env file")
	flag.Parse()

	if err := loadDotEnv(*envFile); err != nil {
		log.Fatal().Err(err).Str("path", *envFile).Msg("failed to load env file")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setupLogger(cfg.Log.Level)
	log.Info().
		Str("db_driver", cfg.DB.Driver).
		Bool("redis", cfg.RedisEnabled()).
		Bool("telegram", cfg.TelegramEnabled()).
		Msg("starting pulse settings")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	db, err := storage.Open(ctx, cfg.DB.Driver, cfg.DB.DSN, cfg.DB.AutoMigrate)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize storage")
	}
	defer db.Close()

	m := metrics.Global()
	var repo settings.Repository = db
	var rdb *redis.Client
	if cfg.RedisEnabled() {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Msg("failed to connect redis")
		}
		defer rdb.Close()
		repo = cache.NewSettingsCache(cache.SettingsCacheConfig{
			Backend: db,
			Redis:   rdb,
			TTL:     cfg.Redis.CacheTTL,
			Logger:  log.Logger,
			Metrics: m,
		})
	}

	store := settings.New(settings.Config{
		Repo: repo,
		Defaults: settings.Defaults{
			Temp:      cfg.Defaults.Temp,
			Model:     cfg.Defaults.Model,
			MaxTokens: cfg.Defaults.MaxTokens,
		},
		Logger:  log.Logger,
		Metrics: m,
	})
	defer store.Close()

	// makes sure the record exists before the first update; failures are logged by the store
	_ = store.Reload(ctx)

	errCh := make(chan error, 2)

	var updater *ext.Updater
	if cfg.TelegramEnabled() {
		updater, err = startTelegram(cfg, store, rdb, m)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to start telegram panel")
		}
	}

	httpServer := &http.Server{
		Addr: cfg.HTTP.ListenAddr,
		Handler: httpapi.New(httpapi.Config{
			Store:       store,
			DB:          db,
			Logger:      log.Logger,
			HealthPath:  cfg.HTTP.HealthPath,
			MetricsPath: cfg.HTTP.MetricsPath,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info().Str("addr", cfg.HTTP.ListenAddr).Msg("http server started")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("runtime error")
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if updater != nil {
		if err := updater.Stop(); err != nil {
			log.Error().Err(err).Msg("failed to stop updater")
		}
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("failed to stop http server")
	}

	log.Info().Msg("stopped")
}

func startTelegram(cfg *config.Config, store *settings.Store, rdb *redis.Client, m *metrics.Metrics) (*ext.Updater, error) {
	bot, err := gotgbot.NewBot(cfg.BotToken, nil)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %s", sanitizeTelegramErr(err, cfg.BotToken))
	}
	log.Info().Str("bot_username", bot.User.Username).Int64("bot_id", bot.User.Id).Msg("telegram bot initialized")

	logTelegramErr := func(err error) {
		log.Error().Str("component", "telegram").Msg(sanitizeTelegramErr(err, cfg.BotToken))
	}
	dispatcher := ext.NewDispatcher(&ext.DispatcherOpts{
		MaxRoutines:      10,
		UnhandledErrFunc: logTelegramErr,
		Processor: telegram.Processor{
			Dedupe:        cache.NewUpdateDeduplicator(rdb, cfg.Redis.UpdateTTL),
			Metrics:       m,
			Logger:        log.Logger,
			AllowedUserID: cfg.AdminUserID,
		},
	})
	service := telegram.NewService(telegram.Config{
		Settings:    store,
		Redis:       rdb,
		RateLimiter: cache.NewRateLimiter(rdb, cfg.Rate.PerHour),
		Logger:      log.Logger,
		Metrics:     m,
		DraftTTL:    cfg.Redis.DraftTTL,
	})
	service.Register(dispatcher)

	updater := ext.NewUpdater(dispatcher, &ext.UpdaterOpts{
		UnhandledErrFunc: logTelegramErr,
	})
	if err := updater.StartPolling(bot, &ext.PollingOpts{
		EnableWebhookDeletion: true,
		DropPendingUpdates:    true,
		GetUpdatesOpts: &gotgbot.GetUpdatesOpts{
			Timeout: 50,
			RequestOpts: &gotgbot.RequestOpts{
				Timeout: 60 * time.Second,
			},
		},
	}); err != nil {
		return nil, fmt.Errorf("start polling: %s", sanitizeTelegramErr(err, cfg.BotToken))
	}
	log.Info().Msg("telegram polling started")
	return updater, nil
}

// loadDotEnv loads path if it exists; the file is optional.
func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func setupLogger(level string) {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(parseLogLevel(level))
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func sanitizeTelegramErr(err error, token string) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if strings.TrimSpace(token) == "" {
		return msg
	}

	msg = strings.ReplaceAll(msg, token, "<redacted-token>")
	if idx := strings.Index(token, ":"); idx > 0 {
		botID := token[:idx]
		msg = strings.ReplaceAll(msg, "/bot"+botID+":", "/bot<redacted>:")
		msg = strings.ReplaceAll(msg, "bot"+botID+"/", "bot<redacted>/")
	}
	return msg
}
