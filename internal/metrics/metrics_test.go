package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Dispatched("message", 10*time.Millisecond)
	m.Dispatched("alert", 5*time.Millisecond)
	m.Unit("SMS", "sent")
	m.StatusUpdate("ok")
	m.Fault("UnknownUser")
	m.Fault("UnknownUser")
	m.Response("SMS", "Matched")
	m.Escalation("unreachable", "injected")
	m.TimeoutsClaimed(3)
	m.Purged("messages", 7)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.dispatched.WithLabelValues("alert")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.units.WithLabelValues("SMS", "sent")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.statusUpdates.WithLabelValues("ok")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.faults.WithLabelValues("UnknownUser")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.responses.WithLabelValues("SMS", "Matched")))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.timeoutsClaimed))
	assert.Equal(t, float64(7), testutil.ToFloat64(m.purged.WithLabelValues("messages")))

	count, err := testutil.GatherAndCount(reg, "courier_dispatch_duration_seconds")
	assert.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestNew_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}
