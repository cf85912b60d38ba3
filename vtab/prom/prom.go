// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Package vtabprom exports per-function scan metrics to Prometheus.
package vtabprom

import (
	"context"
	"net/http"
	"time"

	"github.com/Query-farm/vgi-vtab/vtab"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Hook is a vtab.ScanHook that records scan counts, rows, bytes, duration
// and in-flight scans.
type Hook struct {
	scans    *prometheus.CounterVec
	rows     *prometheus.CounterVec
	bytes    *prometheus.CounterVec
	duration *prometheus.HistogramVec
	active   *prometheus.GaugeVec
}

// NewHook registers the vtab metrics with reg. A nil reg uses the default
// registerer.
func NewHook(reg prometheus.Registerer) *Hook {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Hook{
		scans: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vtab_scans_total",
			Help: "Total number of table function scans by outcome",
		}, []string{"function", "status"}),
		rows: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vtab_rows_total",
			Help: "Total number of rows produced",
		}, []string{"function"}),
		bytes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vtab_output_bytes_total",
			Help: "Total Arrow buffer bytes produced",
		}, []string{"function"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vtab_scan_duration_seconds",
			Help:    "Scan duration from Init to end of stream",
			Buckets: prometheus.DefBuckets,
		}, []string{"function"}),
		active: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vtab_active_scans",
			Help: "Number of scans currently open",
		}, []string{"function"}),
	}
}

// Handler returns the /metrics handler for g. A nil g serves the default
// gatherer.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// OnScanStart implements vtab.ScanHook.
func (h *Hook) OnScanStart(ctx context.Context, info vtab.ScanInfo) (context.Context, vtab.HookToken) {
	h.active.WithLabelValues(info.Function).Inc()
	return ctx, time.Now()
}

// OnScanEnd implements vtab.ScanHook.
func (h *Hook) OnScanEnd(_ context.Context, token vtab.HookToken, info vtab.ScanInfo, stats *vtab.ScanStatistics, err error) {
	h.active.WithLabelValues(info.Function).Dec()
	status := "ok"
	if err != nil {
		status = "error"
	}
	h.scans.WithLabelValues(info.Function, status).Inc()
	if stats != nil {
		h.rows.WithLabelValues(info.Function).Add(float64(stats.Rows))
		h.bytes.WithLabelValues(info.Function).Add(float64(stats.Bytes))
	}
	if start, ok := token.(time.Time); ok {
		h.duration.WithLabelValues(info.Function).Observe(time.Since(start).Seconds())
	}
}
