package promtel_test

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"github.com/chaingraphlabs/chaingraph/execution/telemetry/promtel"
)

func TestIncCounterRegistersAndIncrements(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := promtel.NewMetrics(reg)

	m.IncCounter("queue.published", 1, "executionId", "EX1")
	m.IncCounter("queue.published", 2, "executionId", "EX1")

	families, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)

	var found *dto.MetricFamily
	for _, f := range families {
		if f.GetName() == "queue_published" {
			found = f
		}
	}
	require.NotNil(t, found)
	require.Len(t, found.Metric, 1)
	require.Equal(t, 3.0, found.Metric[0].GetCounter().GetValue())
}

func TestRecordTimerAndGaugeDoNotPanic(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := promtel.NewMetrics(reg)

	m.RecordTimer("eventstore.flush", 50*time.Millisecond, "executionId", "EX1")
	m.RecordGauge("store.active_executions", 7)
}
