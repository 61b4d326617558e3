package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"pulsesettings/internal/metrics"
	"pulsesettings/internal/storage"
)

// Backend is the repository the cache sits in front of.
type Backend interface {
	GetSettings(ctx context.Context, id int64) (storage.Settings, error)
	AddSettings(ctx context.Context, s storage.Settings) (int64, error)
	UpdateSettings(ctx context.Context, id int64, patch storage.SettingsPatch) error
}

// SettingsCache is a read-through redis cache for settings records. Redis
// errors never fail a call; the backend is used instead.
type SettingsCache struct {
	next    Backend
	redis   *redis.Client
	ttl     time.Duration
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

type SettingsCacheConfig struct {
	Backend Backend
	Redis   *redis.Client
	TTL     time.Duration
	Logger  zerolog.Logger
	Metrics *metrics.Metrics
}

func NewSettingsCache(cfg SettingsCacheConfig) *SettingsCache {
	m := cfg.Metrics
	if m == nil {
		m = metrics.Global()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Minute
	}
	return &SettingsCache{
		next:    cfg.Backend,
		redis:   cfg.Redis,
		ttl:     cfg.TTL,
		logger:  cfg.Logger.With().Str("component", "settings_cache").Logger(),
		metrics: m,
	}
}

func (c *SettingsCache) key(id int64) string {
	return fmt.Sprintf("pulse:settings:%d", id)
}

func (c *SettingsCache) GetSettings(ctx context.Context, id int64) (storage.Settings, error) {
	raw, err := c.redis.Get(ctx, c.key(id)).Result()
	switch {
	case err == nil:
		var rec storage.Settings
		if err := json.Unmarshal([]byte(raw), &rec); err == nil {
			c.metrics.CacheHits.Inc()
			return rec, nil
		}
		c.logger.Warn().Int64("settings_id", id).Msg("dropping undecodable cached settings")
		c.invalidate(ctx, id)
	case !errors.Is(err, redis.Nil):
		c.logger.Warn().Err(err).Msg("settings cache read failed")
	}
	c.metrics.CacheMisses.Inc()

	rec, err := c.next.GetSettings(ctx, id)
	if err != nil {
		return storage.Settings{}, err
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return rec, nil
	}
	if err := c.redis.Set(ctx, c.key(id), b, c.ttl).Err(); err != nil {
		c.logger.Warn().Err(err).Msg("settings cache write failed")
	}
	return rec, nil
}

func (c *SettingsCache) AddSettings(ctx context.Context, s storage.Settings) (int64, error) {
	id, err := c.next.AddSettings(ctx, s)
	if err != nil {
		return 0, err
	}
	c.invalidate(ctx, id)
	return id, nil
}

func (c *SettingsCache) UpdateSettings(ctx context.Context, id int64, patch storage.SettingsPatch) error {
	if err := c.next.UpdateSettings(ctx, id, patch); err != nil {
		return err
	}
	c.invalidate(ctx, id)
	return nil
}

func (c *SettingsCache) invalidate(ctx context.Context, id int64) {
	if err := c.redis.Del(ctx, c.key(id)).Err(); err != nil {
		c.logger.Warn().Err(err).Int64("settings_id", id).Msg("settings cache invalidation failed")
	}
}
