package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	Reloads           prometheus.Counter
	ReloadFailures    prometheus.Counter
	Updates           prometheus.Counter
	UpdateFailures    prometheus.Counter
	VisibilityChanges *prometheus.CounterVec
	CacheHits         prometheus.Counter
	CacheMisses       prometheus.Counter
	UpdatesTotal      prometheus.Counter
}

var (
	once   sync.Once
	global *Metrics
)

// New builds an unregistered set of collectors.
func New() *Metrics {
	return &Metrics{
		Reloads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pulse",
			Name:      "settings_reloads_total",
			Help:      "Total successful settings reloads from storage",
		}),
		ReloadFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pulse",
			Name:      "settings_reload_failures_total",
			Help:      "Total settings reloads that failed",
		}),
		Updates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pulse",
			Name:      "settings_updates_total",
			Help:      "Total settings updates persisted",
		}),
		UpdateFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pulse",
			Name:      "settings_update_failures_total",
			Help:      "Total settings updates that failed",
		}),
		VisibilityChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pulse",
			Name:      "settings_visibility_changes_total",
			Help:      "Settings panel visibility transitions by new state",
		}, []string{"state"}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pulse",
			Name:      "settings_cache_hits_total",
			Help:      "Settings reads served from redis",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pulse",
			Name:      "settings_cache_misses_total",
			Help:      "Settings reads that fell through to the database",
		}),
		UpdatesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pulse",
			Name:      "telegram_updates_total",
			Help:      "Total telegram updates received",
		}),
	}
}

func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.Reloads,
		m.ReloadFailures,
		m.Updates,
		m.UpdateFailures,
		m.VisibilityChanges,
		m.CacheHits,
		m.CacheMisses,
		m.UpdatesTotal,
	}
}

func Global() *Metrics {
	once.Do(func() {
		global = New()
		prometheus.MustRegister(global.Collectors()...)
	})
	return global
}
