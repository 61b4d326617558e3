// Package httpapi exposes the settings store to the browser UI.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"pulsesettings/internal/settings"
)

// SettingsStore is the part of settings.Store the API needs.
type SettingsStore interface {
	Show()
	Hide()
	Reload(ctx context.Context) error
	Update(ctx context.Context, form settings.Form) error
	Snapshot() settings.State
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Config struct {
	Store       SettingsStore
	DB          Pinger
	Logger      zerolog.Logger
	HealthPath  string
	MetricsPath string
}

type Handler struct {
	store  SettingsStore
	db     Pinger
	logger zerolog.Logger
	mux    *http.ServeMux
}

const maxFormBytes = 64 << 10

func New(cfg Config) *Handler {
	if cfg.HealthPath == "" {
		cfg.HealthPath = "/healthz"
	}
	h := &Handler{
		store:  cfg.Store,
		db:     cfg.DB,
		logger: cfg.Logger.With().Str("component", "httpapi").Logger(),
		mux:    http.NewServeMux(),
	}

	h.mux.HandleFunc("GET "+cfg.HealthPath, h.health)
	if cfg.MetricsPath != "" {
		h.mux.Handle("GET "+cfg.MetricsPath, promhttp.Handler())
	}
	h.mux.HandleFunc("GET /api/settings", h.getSettings)
	h.mux.HandleFunc("PUT /api/settings", h.updateSettings)
	h.mux.HandleFunc("POST /api/settings/show", h.showSettings)
	h.mux.HandleFunc("POST /api/settings/hide", h.hideSettings)
	h.mux.HandleFunc("POST /api/settings/reload", h.reloadSettings)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		if err := h.db.Ping(r.Context()); err != nil {
			h.logger.Warn().Err(err).Msg("health check failed")
			http.Error(w, "db unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) getSettings(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, h.store.Snapshot())
}

func (h *Handler) showSettings(w http.ResponseWriter, _ *http.Request) {
	h.store.Show()
	h.writeJSON(w, http.StatusOK, h.store.Snapshot())
}

// hideSettings answers before the reload triggered by closing the panel has
// finished; clients poll dbReloadCount to see it land.
func (h *Handler) hideSettings(w http.ResponseWriter, _ *http.Request) {
	h.store.Hide()
	h.writeJSON(w, http.StatusOK, h.store.Snapshot())
}

func (h *Handler) reloadSettings(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Reload(r.Context()); err != nil {
		h.writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.store.Snapshot())
}

func (h *Handler) updateSettings(w http.ResponseWriter, r *http.Request) {
	var form settings.Form
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxFormBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&form); err != nil {
		h.writeError(w, http.StatusBadRequest, errors.New("invalid settings form"))
		return
	}
	if err := h.store.Update(r.Context(), form); err != nil {
		h.writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type errorBody struct {
	Error string `json:"error"`
}

func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	msg := err.Error()
	switch {
	case errors.Is(err, settings.ErrCreateLoop):
		msg = settings.ErrCreateLoop.Error()
	case errors.Is(err, settings.ErrStorageUnavailable):
		// the cause may carry DSN fragments
		msg = settings.ErrStorageUnavailable.Error()
	}
	h.writeJSON(w, status, errorBody{Error: msg})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error().Err(err).Msg("failed to write response")
	}
}
