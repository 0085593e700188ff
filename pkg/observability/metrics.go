package observability

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

func InitMetrics(ctx context.Context, cfg MetricsConfig) (*PrometheusMetrics, error) {
	if !cfg.Enabled {
		return &PrometheusMetrics{}, nil
	}

	promExporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(promExporter),
	)

	meter := meterProvider.Meter("litcritic")

	llmDuration, err := meter.Float64Histogram(
		"litcritic_llm_request_duration_seconds",
		metric.WithDescription("LLM request duration in seconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm duration histogram: %w", err)
	}

	llmInputTokens, err := meter.Int64Counter(
		"litcritic_llm_tokens_input_total",
		metric.WithDescription("Total input tokens sent to the LLM"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm input tokens counter: %w", err)
	}

	llmOutputTokens, err := meter.Int64Counter(
		"litcritic_llm_tokens_output_total",
		metric.WithDescription("Total output tokens received from the LLM"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm output tokens counter: %w", err)
	}

	llmErrors, err := meter.Int64Counter(
		"litcritic_llm_errors_total",
		metric.WithDescription("Total LLM request errors"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm errors counter: %w", err)
	}

	analysisDuration, err := meter.Float64Histogram(
		"litcritic_analysis_duration_seconds",
		metric.WithDescription("Full analysis pass duration in seconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create analysis duration histogram: %w", err)
	}

	analysisFindings, err := meter.Int64Counter(
		"litcritic_analysis_findings_total",
		metric.WithDescription("Total findings produced by analysis passes"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create analysis findings counter: %w", err)
	}

	discussionTurns, err := meter.Int64Counter(
		"litcritic_discussion_turns_total",
		metric.WithDescription("Total discussion turns by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create discussion turns counter: %w", err)
	}

	reEvaluations, err := meter.Int64Counter(
		"litcritic_reevaluations_total",
		metric.WithDescription("Total stale-finding re-evaluations by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create re-evaluations counter: %w", err)
	}

	storeRetries, err := meter.Int64Counter(
		"litcritic_store_retries_total",
		metric.WithDescription("Total database lock retries"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create store retries counter: %w", err)
	}

	httpDuration, err := meter.Float64Histogram(
		"litcritic_http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http duration histogram: %w", err)
	}

	return NewPrometheusMetrics(
		llmDuration,
		llmInputTokens,
		llmOutputTokens,
		llmErrors,
		analysisDuration,
		analysisFindings,
		discussionTurns,
		reEvaluations,
		storeRetries,
		httpDuration,
	), nil
}

// MetricsHandler serves the Prometheus scrape endpoint backed by the
// default registry the otel prometheus exporter registers into.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
