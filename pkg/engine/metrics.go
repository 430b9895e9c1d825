package engine

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter. Both are no-ops until the host process
// installs providers with otel.SetTracerProvider / otel.SetMeterProvider.
var (
	tracer = otel.Tracer("neuronet.engine")
	meter  = otel.Meter("neuronet.engine")
)

var (
	loadLatency  metric.Float64Histogram
	loadTotal    metric.Int64Counter
	nodesLoaded  metric.Int64Histogram
	edgesLoaded  metric.Int64Histogram
	queryLatency metric.Float64Histogram
	visitedNodes metric.Int64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the instruments. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		loadLatency, err = meter.Float64Histogram(
			"neuronet_load_duration_seconds",
			metric.WithDescription("Duration of dataset loads"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		loadTotal, err = meter.Int64Counter(
			"neuronet_load_total",
			metric.WithDescription("Total number of dataset loads"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		nodesLoaded, err = meter.Int64Histogram(
			"neuronet_load_nodes",
			metric.WithDescription("Number of nodes per loaded graph"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		edgesLoaded, err = meter.Int64Histogram(
			"neuronet_load_edges",
			metric.WithDescription("Number of edges per loaded graph"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		queryLatency, err = meter.Float64Histogram(
			"neuronet_query_duration_seconds",
			metric.WithDescription("Duration of traversal queries"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		visitedNodes, err = meter.Int64Histogram(
			"neuronet_query_result_nodes",
			metric.WithDescription("Number of nodes returned per traversal"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordLoad records metrics for a load attempt.
func recordLoad(ctx context.Context, duration time.Duration, stats *LoadStats, err error) {
	if initMetrics() != nil {
		return
	}

	source := "dataset"
	if stats != nil && stats.FromSnapshot {
		source = "snapshot"
	}
	attrs := metric.WithAttributes(
		attribute.Bool("success", err == nil),
		attribute.String("source", source),
	)

	loadLatency.Record(ctx, duration.Seconds(), attrs)
	loadTotal.Add(ctx, 1, attrs)

	if err == nil && stats != nil {
		nodesLoaded.Record(ctx, int64(stats.Nodes))
		edgesLoaded.Record(ctx, stats.Edges)
	}
}

// recordQuery records metrics for a traversal.
func recordQuery(ctx context.Context, kind string, duration time.Duration, results int, cached bool) {
	if initMetrics() != nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("query_type", kind),
		attribute.Bool("cached", cached),
	)
	queryLatency.Record(ctx, duration.Seconds(), attrs)
	visitedNodes.Record(ctx, int64(results), attrs)
}

func startLoadSpan(ctx context.Context, path string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Engine.LoadDataset",
		trace.WithAttributes(attribute.String("dataset.path", path)),
	)
}

func setLoadSpanResult(span trace.Span, stats *LoadStats) {
	span.SetAttributes(
		attribute.Int("graph.node_count", stats.Nodes),
		attribute.Int64("graph.edge_count", stats.Edges),
		attribute.Int64("dataset.skipped_lines", stats.Skipped),
		attribute.Bool("dataset.from_snapshot", stats.FromSnapshot),
	)
}

func startQuerySpan(ctx context.Context, kind string, start uint64, depth int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Engine."+kind,
		trace.WithAttributes(
			attribute.String("graph.query_type", kind),
			attribute.Int64("graph.start_node", int64(start)),
			attribute.Int("graph.depth", depth),
		),
	)
}
