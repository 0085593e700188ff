package observability

import (
	"context"
	"time"
)

// NoopMetrics satisfies Metrics while recording nothing. Used when metrics
// are disabled and in tests.
type NoopMetrics struct{}

func (NoopMetrics) RecordLLMCall(_ context.Context, _ string, _ time.Duration, _, _ int, _ error) {}
func (NoopMetrics) RecordAnalysis(_ context.Context, _ string, _ time.Duration, _ int, _ error)  {}
func (NoopMetrics) RecordDiscussionTurn(_ context.Context, _ string)                             {}
func (NoopMetrics) RecordReEvaluation(_ context.Context, _ string)                               {}
func (NoopMetrics) RecordStoreRetry(_ context.Context)                                           {}
func (NoopMetrics) RecordHTTPRequest(_ context.Context, _, _ string, _ int, _ time.Duration)     {}

var _ Metrics = NoopMetrics{}
