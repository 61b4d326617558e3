// Package settings holds the in-memory settings state shown by the UI and
// keeps it in sync with the persisted settings record.
//
// A Store is created once at process start and closed at exit. Fields are
// refreshed from storage by Reload, which also runs in the background every
// time the settings panel is closed. Update persists a form but does not touch
// the in-memory fields; the next reload picks the new values up.
package settings

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"pulsesettings/internal/metrics"
	"pulsesettings/internal/storage"
)

const (
	DefaultTemp      = "0.5"
	DefaultModel     = "gemini-1.5-pro"
	DefaultMaxTokens = "20000"

	// maxCreateAttempts bounds Reload: one read, one insert of the default
	// record, one more read.
	maxCreateAttempts = 2
)

// Repository is the persistent side of the store. GetSettings must return
// storage.ErrNotFound when the record does not exist.
type Repository interface {
	GetSettings(ctx context.Context, id int64) (storage.Settings, error)
	AddSettings(ctx context.Context, s storage.Settings) (int64, error)
	UpdateSettings(ctx context.Context, id int64, patch storage.SettingsPatch) error
}

type Defaults struct {
	Temp      string
	Model     string
	MaxTokens string
}

// Form is what the UI submits when saving the settings panel.
type Form struct {
	APIKey    string `json:"apiKey"`
	Temp      string `json:"temp"`
	Model     string `json:"model"`
	MaxTokens string `json:"maxTokens"`
}

// State is a point-in-time copy of the store.
type State struct {
	Visible     bool   `json:"areSettingsVisible"`
	APIKey      string `json:"apiKey"`
	Temp        string `json:"temp"`
	Model       string `json:"model"`
	MaxTokens   string `json:"maxTokens"`
	ReloadCount int64  `json:"dbReloadCount"`
}

// Form returns the persisted fields of the state.
func (s State) Form() Form {
	return Form{APIKey: s.APIKey, Temp: s.Temp, Model: s.Model, MaxTokens: s.MaxTokens}
}

type Config struct {
	Repo     Repository
	Defaults Defaults
	Logger   zerolog.Logger
	Metrics  *metrics.Metrics
}

type Store struct {
	repo     Repository
	defaults Defaults
	logger   zerolog.Logger
	metrics  *metrics.Metrics

	// visMu orders flag changes with their dispatch. Listeners must not
	// call Show or Hide.
	visMu sync.Mutex

	mu     sync.RWMutex
	state  State
	closed bool

	listeners listenerSet
	bg        sync.WaitGroup
}

func New(cfg Config) *Store {
	m := cfg.Metrics
	if m == nil {
		m = metrics.Global()
	}
	if cfg.Defaults.Temp == "" {
		cfg.Defaults.Temp = DefaultTemp
	}
	if cfg.Defaults.Model == "" {
		cfg.Defaults.Model = DefaultModel
	}
	if cfg.Defaults.MaxTokens == "" {
		cfg.Defaults.MaxTokens = DefaultMaxTokens
	}
	s := &Store{
		repo:     cfg.Repo,
		defaults: cfg.Defaults,
		logger:   cfg.Logger.With().Str("component", "settings").Logger(),
		metrics:  m,
	}
	s.listeners.add(ListenerFunc(s.reloadOnClose))
	return s
}

func (s *Store) Show() {
	s.setVisible(true)
}

func (s *Store) Hide() {
	s.setVisible(false)
}

func (s *Store) setVisible(v bool) {
	s.visMu.Lock()
	defer s.visMu.Unlock()

	s.mu.Lock()
	old := s.state.Visible
	s.state.Visible = v
	s.mu.Unlock()

	if old == v {
		return
	}
	state := "hidden"
	if v {
		state = "visible"
	}
	s.metrics.VisibilityChanges.WithLabelValues(state).Inc()
	s.listeners.dispatch(VisibilityChanged{Old: old, New: v})
}

// Subscribe registers l for visibility changes and returns an id for Unsubscribe.
// Events arrive in the order the flag changed; l must not call Show or Hide.
func (s *Store) Subscribe(l Listener) string {
	return s.listeners.add(l)
}

func (s *Store) Unsubscribe(id string) bool {
	return s.listeners.remove(id)
}

// reloadOnClose refreshes the fields from storage whenever the panel closes,
// dropping edits that were never saved with Update.
func (s *Store) reloadOnClose(e VisibilityChanged) {
	if !e.Closing() {
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.bg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.bg.Done()
		// failures are already logged by Reload
		_ = s.Reload(context.Background())
	}()
}

// Reload reads the settings record into memory, creating it with the default
// values first if it does not exist. On failure the in-memory fields and the
// reload counter are left untouched.
func (s *Store) Reload(ctx context.Context) error {
	for attempt := 1; ; attempt++ {
		rec, err := s.repo.GetSettings(ctx, storage.SettingsID)
		if err == nil {
			s.apply(rec)
			return nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return s.reloadFailed(storageError("reload", err))
		}
		if attempt >= maxCreateAttempts {
			return s.reloadFailed(&Error{Op: "reload", Err: ErrCreateLoop})
		}

		if _, err := s.repo.AddSettings(ctx, s.defaultRecord()); err != nil {
			return s.reloadFailed(storageError("create", err))
		}
		s.logger.Info().Int64("settings_id", storage.SettingsID).Msg("created default settings record")
	}
}

func (s *Store) apply(rec storage.Settings) {
	s.mu.Lock()
	s.state.APIKey = rec.APIKey
	s.state.Temp = rec.Temp
	s.state.Model = rec.Model
	s.state.MaxTokens = rec.MaxTokens
	s.state.ReloadCount++
	count := s.state.ReloadCount
	s.mu.Unlock()

	s.metrics.Reloads.Inc()
	s.logger.Debug().Int64("reload_count", count).Str("model", rec.Model).Msg("settings reloaded")
}

func (s *Store) reloadFailed(err *Error) error {
	s.metrics.ReloadFailures.Inc()
	s.logger.Error().Err(err).Msg("failed to reload settings")
	return err
}

func (s *Store) defaultRecord() storage.Settings {
	return storage.Settings{
		ID:        storage.SettingsID,
		APIKey:    "",
		Temp:      s.defaults.Temp,
		Model:     s.defaults.Model,
		MaxTokens: s.defaults.MaxTokens,
	}
}

// Update writes all four form fields to the settings record. The record must
// already exist; call Reload once at startup to make sure it does. The
// in-memory fields are not changed.
func (s *Store) Update(ctx context.Context, form Form) error {
	patch := storage.SettingsPatch{
		APIKey:    &form.APIKey,
		Temp:      &form.Temp,
		Model:     &form.Model,
		MaxTokens: &form.MaxTokens,
	}
	if err := s.repo.UpdateSettings(ctx, storage.SettingsID, patch); err != nil {
		serr := storageError("update", err)
		s.metrics.UpdateFailures.Inc()
		s.logger.Error().Err(serr).Msg("failed to update settings")
		return serr
	}
	s.metrics.Updates.Inc()
	s.logger.Info().Str("model", form.Model).Msg("settings updated")
	return nil
}

func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Store) Visible() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Visible
}

func (s *Store) ReloadCount() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.ReloadCount
}

// Wait blocks until reloads started by closing the panel have finished.
func (s *Store) Wait() {
	s.bg.Wait()
}

// Close stops starting new background reloads and waits for running ones.
func (s *Store) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.bg.Wait()
}
