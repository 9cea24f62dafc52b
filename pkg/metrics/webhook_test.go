package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookMetricsCountsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWebhookMetrics(reg)

	m.ObserveEvent("invoice.paid", OutcomeApplied, 20*time.Millisecond)
	m.ObserveEvent("invoice.paid", OutcomeDuplicate, 0)
	m.ObserveEvent("invoice.paid", OutcomeApplied, 10*time.Millisecond)
	m.IncNotification("payment_confirmed", OutcomeSent)
	m.IncConflict()
	m.IncConflict()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.events.WithLabelValues("invoice.paid", OutcomeApplied)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.events.WithLabelValues("invoice.paid", OutcomeDuplicate)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.notifications.WithLabelValues("payment_confirmed", OutcomeSent)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.conflicts))

	mfs, err := reg.Gather()
	require.NoError(t, err)
	mf := findMetricFamily(mfs, "kitafinder_billing_webhook_processing_duration_seconds")
	require.NotNil(t, mf)
	require.Len(t, mf.GetMetric(), 1)
	assert.Equal(t, uint64(2), mf.GetMetric()[0].GetHistogram().GetSampleCount())
}
