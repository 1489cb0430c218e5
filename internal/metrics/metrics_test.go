package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Sends.WithLabelValues("text", "ok").Inc()
	m.Sends.WithLabelValues("text", "ok").Inc()
	m.MarkReadFailures.Inc()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Sends.WithLabelValues("text", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MarkReadFailures))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["wainbox_sends_total"])
	assert.True(t, names["wainbox_mark_read_failures_total"])
}

func TestNew_NilRegisterer(t *testing.T) {
	m := New(nil)
	m.Reconnects.Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Reconnects))
}
