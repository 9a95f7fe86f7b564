package metrics

import (
	"testing"
	"time"

	"github.com/Dhoini/payment-reconciler/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewWebhookMetrics(registry, logger.NewNop()).(*webhookMetrics)

	m.ObserveEvent("checkout.session.completed", "applied", 10*time.Millisecond)
	m.ObserveEvent("checkout.session.completed", "applied", 20*time.Millisecond)
	m.ObserveEvent("checkout.session.completed", "already_processed", time.Millisecond)
	m.IncRejected("signature")
	m.IncFulfillmentSkipped()
	m.IncPaymentRefunded("usd", 25)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.events.WithLabelValues("checkout.session.completed", "applied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.events.WithLabelValues("checkout.session.completed", "already_processed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rejected.WithLabelValues("signature")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.skipped))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.paymentsStatus.WithLabelValues("refunded", "usd")))
}

func TestSystemMetrics_StopIsIdempotent(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewSystemMetrics(registry, logger.NewNop())

	m.Record()
	m.StartRecording(time.Hour)
	m.Stop()
	m.Stop()

	families, err := registry.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
