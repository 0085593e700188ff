package observability

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	globalMetrics Metrics
	metricsMu     sync.RWMutex
)

type Metrics interface {
	RecordLLMCall(ctx context.Context, model string, duration time.Duration, inputTokens, outputTokens int, err error)
	RecordAnalysis(ctx context.Context, preset string, duration time.Duration, findings int, err error)
	RecordDiscussionTurn(ctx context.Context, outcome string)
	RecordReEvaluation(ctx context.Context, outcome string)
	RecordStoreRetry(ctx context.Context)
	RecordHTTPRequest(ctx context.Context, method, route string, status int, duration time.Duration)
}

type PrometheusMetrics struct {
	llmDuration     metric.Float64Histogram
	llmInputTokens  metric.Int64Counter
	llmOutputTokens metric.Int64Counter
	llmErrorsTotal  metric.Int64Counter

	analysisDuration metric.Float64Histogram
	analysisFindings metric.Int64Counter

	discussionTurns metric.Int64Counter
	reEvaluations   metric.Int64Counter
	storeRetries    metric.Int64Counter

	httpDuration metric.Float64Histogram
}

func NewPrometheusMetrics(
	llmDuration metric.Float64Histogram,
	llmInputTokens metric.Int64Counter,
	llmOutputTokens metric.Int64Counter,
	llmErrorsTotal metric.Int64Counter,
	analysisDuration metric.Float64Histogram,
	analysisFindings metric.Int64Counter,
	discussionTurns metric.Int64Counter,
	reEvaluations metric.Int64Counter,
	storeRetries metric.Int64Counter,
	httpDuration metric.Float64Histogram,
) *PrometheusMetrics {
	return &PrometheusMetrics{
		llmDuration:      llmDuration,
		llmInputTokens:   llmInputTokens,
		llmOutputTokens:  llmOutputTokens,
		llmErrorsTotal:   llmErrorsTotal,
		analysisDuration: analysisDuration,
		analysisFindings: analysisFindings,
		discussionTurns:  discussionTurns,
		reEvaluations:    reEvaluations,
		storeRetries:     storeRetries,
		httpDuration:     httpDuration,
	}
}

func (m *PrometheusMetrics) RecordLLMCall(ctx context.Context, model string, duration time.Duration, inputTokens, outputTokens int, err error) {
	if m == nil || m.llmDuration == nil || m.llmInputTokens == nil || m.llmOutputTokens == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("model", model),
	}

	m.llmDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	m.llmInputTokens.Add(ctx, int64(inputTokens), metric.WithAttributes(attrs...))
	m.llmOutputTokens.Add(ctx, int64(outputTokens), metric.WithAttributes(attrs...))

	if err != nil && m.llmErrorsTotal != nil {
		m.llmErrorsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

func (m *PrometheusMetrics) RecordAnalysis(ctx context.Context, preset string, duration time.Duration, findings int, err error) {
	if m == nil || m.analysisDuration == nil || m.analysisFindings == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("preset", preset),
	}
	if err != nil {
		attrs = append(attrs, attribute.Bool("error", true))
	}

	m.analysisDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	m.analysisFindings.Add(ctx, int64(findings), metric.WithAttributes(attrs...))
}

func (m *PrometheusMetrics) RecordDiscussionTurn(ctx context.Context, outcome string) {
	if m == nil || m.discussionTurns == nil {
		return
	}
	m.discussionTurns.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *PrometheusMetrics) RecordReEvaluation(ctx context.Context, outcome string) {
	if m == nil || m.reEvaluations == nil {
		return
	}
	m.reEvaluations.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *PrometheusMetrics) RecordStoreRetry(ctx context.Context) {
	if m == nil || m.storeRetries == nil {
		return
	}
	m.storeRetries.Add(ctx, 1)
}

func (m *PrometheusMetrics) RecordHTTPRequest(ctx context.Context, method, route string, status int, duration time.Duration) {
	if m == nil || m.httpDuration == nil {
		return
	}
	m.httpDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("route", route),
		attribute.Int("status", status),
	))
}

func SetGlobalMetrics(m Metrics) {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	globalMetrics = m
}

func GetGlobalMetrics() Metrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return globalMetrics
}
