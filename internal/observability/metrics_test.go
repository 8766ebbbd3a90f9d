package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNewMetrics_IsolatedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("test", reg)

	m.TransfersTotal.WithLabelValues("success").Inc()
	m.TransfersTotal.WithLabelValues("success").Inc()
	m.NotificationsSkipped.WithLabelValues("not_transfer").Inc()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.TransfersTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotificationsSkipped.WithLabelValues("not_transfer")))

	families, err := reg.Gather()
	assert.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestRecordHelpers(t *testing.T) {
	before := testutil.ToFloat64(DefaultMetrics.BacklogRowsProcessed.WithLabelValues("sent"))
	RecordBacklogPass(3, 1, 250*time.Millisecond)
	after := testutil.ToFloat64(DefaultMetrics.BacklogRowsProcessed.WithLabelValues("sent"))
	assert.Equal(t, 3.0, after-before)

	RecordTransfer("success", 2)
	assert.Greater(t, testutil.ToFloat64(DefaultMetrics.LastSuccessfulSettlement), 0.0)
}
