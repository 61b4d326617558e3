package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersOnFreshRegistry(t *testing.T) {
	m := New()
	reg := prometheus.NewRegistry()
	for _, c := range m.Collectors() {
		require.NoError(t, reg.Register(c))
	}

	m.Reloads.Inc()
	m.VisibilityChanges.WithLabelValues("hidden").Inc()
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Reloads))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.VisibilityChanges.WithLabelValues("hidden")))
}

func TestGlobalIsSingleton(t *testing.T) {
	assert.Same(t, Global(), Global())
}
