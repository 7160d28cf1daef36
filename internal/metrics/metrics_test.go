package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersUseLabels(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.WorkItemEnqueued("new_plan")
	m.WorkItemEnqueued("new_plan")
	m.WorkItemEnqueued("execute_plan")
	m.NotifyFailed("new_plan")
	m.Dispatched("render")
	m.RevisionCreated()
	m.RevisionConflict()
	m.RolledBack()
	m.EventPublished("delivered")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.WorkItemsEnqueued.WithLabelValues("new_plan")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WorkItemsEnqueued.WithLabelValues("execute_plan")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotifyFailures.WithLabelValues("new_plan")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Dispatches.WithLabelValues("render")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RevisionsCreated))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RevisionConflicts))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Rollbacks))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsPublished.WithLabelValues("delivered")))
}

func TestRegistersOnGivenRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.RevisionCreated()

	n, err := testutil.GatherAndCount(reg, "helmforge_revision_created_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Panics(t, func() { New(reg) }, "duplicate registration")
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.WorkItemEnqueued("new_plan")
		m.NotifyFailed("new_plan")
		m.Dispatched("plan")
		m.RevisionCreated()
		m.RevisionConflict()
		m.RolledBack()
		m.EventPublished("dropped")
	})
}
