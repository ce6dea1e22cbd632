package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.ObserveMigration("videos", "completed", 9, time.Second)
	m.ObserveMigration("videos", "aborted", 3, time.Second)
	m.ObserveTask("update-dependencies", "succeeded", time.Millisecond)
	m.SetQueued(4)

	assert.Equal(t, float64(12), testutil.ToFloat64(m.migratedDocuments.WithLabelValues("videos")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.migrationRuns.WithLabelValues("videos", "aborted")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.tasksProcessed.WithLabelValues("update-dependencies", "succeeded")))
	assert.Equal(t, float64(4), testutil.ToFloat64(m.tasksQueued))

	_, err = New(reg)
	assert.Error(t, err, "registering twice must fail")
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveMigration("videos", "completed", 1, time.Second)
		m.ObserveTask("kind", "succeeded", time.Second)
		m.SetQueued(1)
	})
}
