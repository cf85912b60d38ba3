// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Package vtabotel provides OpenTelemetry instrumentation for vtab
// sessions. It implements the [vtab.ScanHook] interface to add distributed
// tracing and metrics around every scan.
//
// Usage:
//
//	session := vtab.NewSession()
//	// ... register table functions ...
//	vtabotel.InstrumentSession(session, vtabotel.DefaultConfig())
package vtabotel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Query-farm/vgi-vtab/vtab"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "vtab"

// OtelConfig configures OpenTelemetry instrumentation for a vtab session.
type OtelConfig struct {
	// TracerProvider supplies the tracer. Defaults to otel.GetTracerProvider().
	TracerProvider trace.TracerProvider
	// MeterProvider supplies the meter. Defaults to otel.GetMeterProvider().
	MeterProvider metric.MeterProvider
	// Propagator extracts trace context from transport metadata.
	// Defaults to otel.GetTextMapPropagator().
	Propagator propagation.TextMapPropagator
	// EnableTracing enables span creation. Default true.
	EnableTracing bool
	// EnableMetrics enables counter and histogram recording. Default true.
	EnableMetrics bool
	// RecordExceptions calls RecordError on the span for failed scans.
	// Default true.
	RecordExceptions bool
	// CustomAttributes are added to every span.
	CustomAttributes []attribute.KeyValue
}

// DefaultConfig returns an OtelConfig with sensible defaults.
// TracerProvider, MeterProvider, and Propagator are resolved from the
// global OTel SDK at instrumentation time.
func DefaultConfig() OtelConfig {
	return OtelConfig{
		EnableTracing:    true,
		EnableMetrics:    true,
		RecordExceptions: true,
	}
}

// NewHook builds the instrumentation hook without installing it, for use
// with [vtab.ChainHooks].
func NewHook(cfg OtelConfig) vtab.ScanHook {
	if cfg.TracerProvider == nil {
		cfg.TracerProvider = otel.GetTracerProvider()
	}
	if cfg.MeterProvider == nil {
		cfg.MeterProvider = otel.GetMeterProvider()
	}
	if cfg.Propagator == nil {
		cfg.Propagator = otel.GetTextMapPropagator()
	}

	hook := &otelHook{
		cfg:    cfg,
		tracer: cfg.TracerProvider.Tracer(instrumentationName),
	}

	if cfg.EnableMetrics {
		meter := cfg.MeterProvider.Meter(instrumentationName)
		hook.scanCounter, _ = meter.Int64Counter("vtab.scans",
			metric.WithUnit("{scan}"),
			metric.WithDescription("Number of table function scans"),
		)
		hook.rowCounter, _ = meter.Int64Counter("vtab.rows",
			metric.WithUnit("{row}"),
			metric.WithDescription("Rows produced by table function scans"),
		)
		hook.durationHistogram, _ = meter.Float64Histogram("vtab.scan.duration",
			metric.WithUnit("s"),
			metric.WithDescription("Duration of table function scans"),
		)
	}
	return hook
}

// InstrumentSession attaches OpenTelemetry instrumentation to a session.
// The hook is installed via [vtab.Session.SetScanHook].
func InstrumentSession(session *vtab.Session, cfg OtelConfig) {
	session.SetScanHook(NewHook(cfg))
}

// otelHook implements vtab.ScanHook with OpenTelemetry tracing and metrics.
type otelHook struct {
	cfg               OtelConfig
	tracer            trace.Tracer
	scanCounter       metric.Int64Counter
	rowCounter        metric.Int64Counter
	durationHistogram metric.Float64Histogram
}

// spanToken is the HookToken returned by OnScanStart.
type spanToken struct {
	span      trace.Span
	startTime time.Time
}

// OnScanStart extracts parent trace context and starts a server span.
func (h *otelHook) OnScanStart(ctx context.Context, info vtab.ScanInfo) (context.Context, vtab.HookToken) {
	// Parent trace context arrives as traceparent/tracestate metadata.
	if h.cfg.Propagator != nil && info.Metadata != nil {
		ctx = h.cfg.Propagator.Extract(ctx, propagation.MapCarrier(info.Metadata))
	}

	if !h.cfg.EnableTracing {
		return ctx, &spanToken{startTime: time.Now()}
	}

	attrs := []attribute.KeyValue{
		attribute.String("vtab.function", info.Function),
		attribute.String("vtab.scan_id", info.ScanID),
		attribute.String("vtab.session_id", info.SessionID),
	}
	if v, ok := info.Metadata[vtab.MetaRequestID]; ok && v != "" {
		attrs = append(attrs, attribute.String("vtab.request_id", v))
	}
	if v, ok := info.Metadata["user-agent"]; ok && v != "" {
		attrs = append(attrs, attribute.String("user_agent.original", v))
	}
	attrs = append(attrs, h.cfg.CustomAttributes...)

	ctx, span := h.tracer.Start(ctx, fmt.Sprintf("vtab/%s", info.Function),
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attrs...),
	)
	return ctx, &spanToken{span: span, startTime: time.Now()}
}

// OnScanEnd records span attributes, metrics, and ends the span.
func (h *otelHook) OnScanEnd(ctx context.Context, token vtab.HookToken, info vtab.ScanInfo, stats *vtab.ScanStatistics, err error) {
	st, ok := token.(*spanToken)
	if !ok {
		return
	}
	duration := time.Since(st.startTime)

	status := "ok"
	if err != nil {
		status = "error"
	}

	if h.cfg.EnableMetrics {
		metricAttrs := metric.WithAttributes(
			attribute.String("vtab.function", info.Function),
			attribute.String("status", status),
		)
		if h.scanCounter != nil {
			h.scanCounter.Add(ctx, 1, metricAttrs)
		}
		if h.rowCounter != nil && stats != nil {
			h.rowCounter.Add(ctx, stats.Rows, metricAttrs)
		}
		if h.durationHistogram != nil {
			h.durationHistogram.Record(ctx, duration.Seconds(), metricAttrs)
		}
	}

	if st.span == nil {
		return
	}
	if st.span.IsRecording() {
		if stats != nil {
			st.span.SetAttributes(
				attribute.Int64("vtab.chunks", stats.Chunks),
				attribute.Int64("vtab.rows", stats.Rows),
				attribute.Int64("vtab.bytes", stats.Bytes),
			)
		}
		if err != nil {
			st.span.SetStatus(codes.Error, err.Error())
			if h.cfg.RecordExceptions {
				st.span.RecordError(err)
			}
			st.span.SetAttributes(attribute.String("vtab.error_phase", errorPhase(err)))
		} else {
			st.span.SetStatus(codes.Ok, "")
		}
	}
	st.span.End()
}

func errorPhase(err error) string {
	var e *vtab.Error
	if errors.As(err, &e) {
		return string(e.Phase)
	}
	return "unknown"
}
