package prommetrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counter(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestMetrics_RecordRenewal(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry(), "test")

	m.RecordRenewal("stripe", "starter", true)
	m.RecordRenewal("stripe", "starter", false)
	m.RecordRenewal("stripe", "starter", false)

	assert.Equal(t, 1.0, counter(t, m.renewalsTotal.WithLabelValues("stripe", "starter", "provisioned")))
	assert.Equal(t, 2.0, counter(t, m.renewalsTotal.WithLabelValues("stripe", "starter", "renewed")))
}

func TestMetrics_RecordWebhookEvent(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry(), "test")

	m.RecordWebhookEvent("stripe", "checkout.session.completed", "success")
	m.RecordWebhookError("stripe", "auth_failed")

	assert.Equal(t, 1.0, counter(t, m.webhookEventsTotal.WithLabelValues("stripe", "checkout.session.completed", "success")))
	assert.Equal(t, 1.0, counter(t, m.webhookErrorsTotal.WithLabelValues("stripe", "auth_failed")))
}
