// Package metrics records coverage engine activity with OpenTelemetry.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"

	"github.com/lepinkainen/catalogd/internal/coverage"
)

const namespace = "catalogd.coverage"

// Coverage implements coverage.Metrics.
type Coverage struct {
	batches       metric.Int64Counter
	items         metric.Int64Counter
	ignored       metric.Int64Counter
	batchDuration metric.Float64Histogram
}

var _ coverage.Metrics = (*Coverage)(nil)

// New creates the coverage instruments on mp.
func New(mp metric.MeterProvider) (*Coverage, error) {
	meter := mp.Meter(namespace)

	c := new(Coverage)
	var err error

	if c.batches, err = meter.Int64Counter(
		"batches_total",
		metric.WithDescription("Number of batches processed"),
	); err != nil {
		return nil, err
	}

	if c.items, err = meter.Int64Counter(
		"items_total",
		metric.WithDescription("Number of items processed, by outcome"),
	); err != nil {
		return nil, err
	}

	if c.ignored, err = meter.Int64Counter(
		"items_ignored_total",
		metric.WithDescription("Number of items a provider skipped"),
	); err != nil {
		return nil, err
	}

	if c.batchDuration, err = meter.Float64Histogram(
		"batch_duration_seconds",
		metric.WithDescription("Time taken to process a batch"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return c, nil
}

// RecordBatch records one processed batch.
func (c *Coverage) RecordBatch(ctx context.Context, provider, operation string, result coverage.BatchResult, elapsed time.Duration) {
	base := []attribute.KeyValue{
		attribute.String("provider", provider),
		attribute.String("operation", operation),
	}

	c.batches.Add(ctx, 1, metric.WithAttributes(base...))
	c.batchDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(base...))

	for _, o := range []struct {
		status coverage.Status
		n      int
	}{
		{coverage.StatusSuccess, result.Successes},
		{coverage.StatusTransient, result.Transient},
		{coverage.StatusPermanent, result.Permanent},
	} {
		if o.n == 0 {
			continue
		}
		attrs := append([]attribute.KeyValue{attribute.String("outcome", o.status.String())}, base...)
		c.items.Add(ctx, int64(o.n), metric.WithAttributes(attrs...))
	}

	if result.Ignored > 0 {
		c.ignored.Add(ctx, int64(result.Ignored), metric.WithAttributes(base...))
	}
}

// Setup installs a global meter provider that periodically writes metrics
// to w. The returned function flushes and shuts it down.
func Setup(ctx context.Context, w io.Writer, interval time.Duration) (*sdkmetric.MeterProvider, func(context.Context) error, error) {
	exporter, err := stdoutmetric.New(stdoutmetric.WithWriter(w), stdoutmetric.WithPrettyPrint())
	if err != nil {
		return nil, nil, fmt.Errorf("create stdout metric exporter: %w", err)
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", "catalogd"),
	))
	if err != nil {
		return nil, nil, fmt.Errorf("create resource: %w", err)
	}

	var readerOpts []sdkmetric.PeriodicReaderOption
	if interval > 0 {
		readerOpts = append(readerOpts, sdkmetric.WithInterval(interval))
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, readerOpts...)),
	)
	otel.SetMeterProvider(mp)

	shutdown := func(ctx context.Context) error {
		return errors.Join(mp.ForceFlush(ctx), mp.Shutdown(ctx))
	}
	return mp, shutdown, nil
}
