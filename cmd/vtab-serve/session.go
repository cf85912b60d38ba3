// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/Query-farm/vgi-vtab/benchmark"
	"github.com/Query-farm/vgi-vtab/conformance"
	"github.com/Query-farm/vgi-vtab/extensions/hello"
	"github.com/Query-farm/vgi-vtab/internal/config"
	"github.com/Query-farm/vgi-vtab/vtab"
	vtabotel "github.com/Query-farm/vgi-vtab/vtab/otel"
	vtabprom "github.com/Query-farm/vgi-vtab/vtab/prom"
)

// extensions are loaded into every session in this order.
var extensions = []struct {
	name string
	init vtab.EntryPoint
}{
	{"hello", hello.ExtInit},
	{"conformance", conformance.ExtInit},
	{"benchmark", benchmark.RegisterFunctions},
}

// runtime is a configured session plus the telemetry attached to it.
type runtime struct {
	session  *vtab.Session
	registry *prometheus.Registry
	shutdown []func(context.Context) error
}

func newRuntime(cfg *config.Config) (*runtime, error) {
	s := vtab.NewSession()
	if err := cfg.ApplySession(s); err != nil {
		return nil, err
	}
	rt := &runtime{session: s}

	var hooks []vtab.ScanHook
	if cfg.Telemetry.Prometheus {
		rt.registry = prometheus.NewRegistry()
		hooks = append(hooks, vtabprom.NewHook(rt.registry))
	}
	if cfg.Telemetry.OtelStdout {
		if err := rt.setupOtel(); err != nil {
			return nil, multierror.Append(err, rt.close(context.Background()))
		}
		hooks = append(hooks, vtabotel.NewHook(vtabotel.DefaultConfig()))
	}
	if len(hooks) > 0 {
		s.SetScanHook(vtab.ChainHooks(hooks...))
	}

	for _, ext := range extensions {
		if err := s.Load(ext.name, ext.init); err != nil {
			return nil, multierror.Append(fmt.Errorf("load %s: %w", ext.name, err), rt.close(context.Background()))
		}
	}
	slog.Debug("session ready", "session", s.ID(), "functions", len(s.Functions()))
	return rt, nil
}

// setupOtel installs stdout trace and metric exporters as the global
// providers. Output goes to stderr.
func (rt *runtime) setupOtel() error {
	traceExp, err := stdouttrace.New(stdouttrace.WithWriter(os.Stderr))
	if err != nil {
		return fmt.Errorf("stdout trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(traceExp))
	otel.SetTracerProvider(tp)
	rt.shutdown = append(rt.shutdown, tp.Shutdown)

	metricExp, err := stdoutmetric.New(stdoutmetric.WithWriter(os.Stderr))
	if err != nil {
		return fmt.Errorf("stdout metric exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)))
	otel.SetMeterProvider(mp)
	rt.shutdown = append(rt.shutdown, mp.Shutdown)
	return nil
}

func (rt *runtime) close(ctx context.Context) error {
	var result error
	if err := rt.session.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	for i := len(rt.shutdown) - 1; i >= 0; i-- {
		if err := rt.shutdown[i](ctx); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result
}
