// Package telegram implements the settings panel as a Telegram bot.
package telegram

import (
	"context"
	"time"

	"github.com/PaulSonOfLars/gotgbot/v2/ext"
	"github.com/PaulSonOfLars/gotgbot/v2/ext/handlers"
	"github.com/PaulSonOfLars/gotgbot/v2/ext/handlers/filters/callbackquery"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"pulsesettings/internal/cache"
	"pulsesettings/internal/metrics"
	"pulsesettings/internal/settings"
)

// SettingsStore is the part of settings.Store the panel drives.
type SettingsStore interface {
	Show()
	Hide()
	Update(ctx context.Context, form settings.Form) error
	Snapshot() settings.State
}

type Service struct {
	settings    SettingsStore
	drafts      *draftStore
	rateLimiter *cache.RateLimiter
	logger      zerolog.Logger
	metrics     *metrics.Metrics
	now         func() time.Time
}

type Config struct {
	Settings    SettingsStore
	Redis       *redis.Client
	RateLimiter *cache.RateLimiter
	Logger      zerolog.Logger
	Metrics     *metrics.Metrics
	DraftTTL    time.Duration
}

func NewService(cfg Config) *Service {
	m := cfg.Metrics
	if m == nil {
		m = metrics.Global()
	}
	if cfg.DraftTTL <= 0 {
		cfg.DraftTTL = 20 * time.Minute
	}
	return &Service{
		settings:    cfg.Settings,
		drafts:      newDraftStore(cfg.Redis, cfg.DraftTTL),
		rateLimiter: cfg.RateLimiter,
		logger:      cfg.Logger.With().Str("component", "telegram").Logger(),
		metrics:     m,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) Register(d *ext.Dispatcher) {
	d.AddHandler(handlers.NewCommand("start", s.help))
	d.AddHandler(handlers.NewCommand("help", s.help))
	d.AddHandler(handlers.NewCommand("settings", s.openPanel))
	d.AddHandler(handlers.NewCommand("set", s.set))
	d.AddHandler(handlers.NewCallback(callbackquery.Prefix(cbPrefix), s.onCallback))
}
