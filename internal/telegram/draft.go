package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"pulsesettings/internal/settings"
)

// draftStore keeps the form a user is editing while the panel is open.
// Saved values only reach the in-memory settings after the panel closes, so
// successive /set commands build on the draft rather than on the store.
type draftStore struct {
	redis *redis.Client
	ttl   time.Duration
}

func newDraftStore(rdb *redis.Client, ttl time.Duration) *draftStore {
	return &draftStore{redis: rdb, ttl: ttl}
}

func (d *draftStore) key(userID int64) string {
	return fmt.Sprintf("pulse:draft:%d", userID)
}

func (d *draftStore) Set(ctx context.Context, userID int64, form settings.Form) error {
	b, err := json.Marshal(form)
	if err != nil {
		return err
	}
	return d.redis.Set(ctx, d.key(userID), string(b), d.ttl).Err()
}

func (d *draftStore) Get(ctx context.Context, userID int64) (*settings.Form, error) {
	raw, err := d.redis.Get(ctx, d.key(userID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var form settings.Form
	if err := json.Unmarshal([]byte(raw), &form); err != nil {
		return nil, err
	}
	return &form, nil
}

func (d *draftStore) Clear(ctx context.Context, userID int64) error {
	return d.redis.Del(ctx, d.key(userID)).Err()
}
