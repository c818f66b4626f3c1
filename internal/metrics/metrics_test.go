package metrics

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/lepinkainen/catalogd/internal/coverage"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := map[string]metricdata.Metrics{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func sumFor(t *testing.T, m metricdata.Metrics, outcome string) int64 {
	t.Helper()

	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "metric %s is not an int64 sum", m.Name)

	var total int64
	for _, dp := range sum.DataPoints {
		if outcome != "" {
			v, ok := dp.Attributes.Value(attribute.Key("outcome"))
			if !ok || v.AsString() != outcome {
				continue
			}
		}
		total += dp.Value
	}
	return total
}

func TestCoverage_RecordBatch(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	c, err := New(mp)
	require.NoError(t, err)

	ctx := context.Background()
	c.RecordBatch(ctx, "OpenLibrary", "", coverage.BatchResult{
		Counts:  coverage.Counts{Successes: 3, Transient: 2, Permanent: 1},
		Ignored: 1,
	}, 250*time.Millisecond)
	c.RecordBatch(ctx, "OpenLibrary", "", coverage.BatchResult{
		Counts: coverage.Counts{Successes: 1},
	}, 100*time.Millisecond)

	got := collect(t, reader)

	assert.Equal(t, int64(2), sumFor(t, got["batches_total"], ""))
	assert.Equal(t, int64(4), sumFor(t, got["items_total"], "success"))
	assert.Equal(t, int64(2), sumFor(t, got["items_total"], "transient"))
	assert.Equal(t, int64(1), sumFor(t, got["items_total"], "permanent"))
	assert.Equal(t, int64(1), sumFor(t, got["items_ignored_total"], ""))

	hist, ok := got["batch_duration_seconds"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, uint64(2), hist.DataPoints[0].Count)
}

func TestSetup_WritesOnShutdown(t *testing.T) {
	var buf bytes.Buffer

	mp, shutdown, err := Setup(context.Background(), &buf, time.Hour)
	require.NoError(t, err)

	c, err := New(mp)
	require.NoError(t, err)
	c.RecordBatch(context.Background(), "Feed", "", coverage.BatchResult{Counts: coverage.Counts{Successes: 1}}, time.Second)

	require.NoError(t, shutdown(context.Background()))
	assert.Contains(t, buf.String(), "batches_total")
}
