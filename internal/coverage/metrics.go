package coverage

import (
	"context"
	"time"
)

// Metrics receives one observation per processed batch.
type Metrics interface {
	RecordBatch(ctx context.Context, provider, operation string, result BatchResult, elapsed time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) RecordBatch(context.Context, string, string, BatchResult, time.Duration) {}
