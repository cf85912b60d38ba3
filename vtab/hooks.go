// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package vtab

import (
	"context"
	"log/slog"

	"github.com/apache/arrow-go/v18/arrow"
)

// ScanHook provides observability callpoints around every scan.
// Implementations must be safe for concurrent use: scans of the same
// session may run on different goroutines.
type ScanHook interface {
	OnScanStart(ctx context.Context, info ScanInfo) (context.Context, HookToken)
	OnScanEnd(ctx context.Context, token HookToken, info ScanInfo, stats *ScanStatistics, err error)
}

// HookToken is an opaque value returned by OnScanStart and passed back to
// OnScanEnd. Only meaningful to the ScanHook that created it.
type HookToken interface{}

// ScanInfo describes the scan passed to hooks.
type ScanInfo struct {
	Function  string            // registered table function name
	ScanID    string            // unique per scan
	SessionID string            // owning session
	Metadata  map[string]string // transport metadata (IPC custom metadata or HTTP headers)
}

// ScanStatistics holds per-scan output counters.
type ScanStatistics struct {
	Chunks int64
	Rows   int64
	Bytes  int64
}

// ChainHooks returns a hook that calls each hook in order on start and in
// reverse order on end.
func ChainHooks(hooks ...ScanHook) ScanHook {
	var live []ScanHook
	for _, h := range hooks {
		if h != nil {
			live = append(live, h)
		}
	}
	return chainHook(live)
}

type chainHook []ScanHook

func (c chainHook) OnScanStart(ctx context.Context, info ScanInfo) (context.Context, HookToken) {
	tokens := make([]HookToken, len(c))
	for i, h := range c {
		var next context.Context
		next, tokens[i] = h.OnScanStart(ctx, info)
		if next != nil {
			ctx = next
		}
	}
	return ctx, tokens
}

func (c chainHook) OnScanEnd(ctx context.Context, token HookToken, info ScanInfo, stats *ScanStatistics, err error) {
	tokens, _ := token.([]HookToken)
	for i := len(c) - 1; i >= 0; i-- {
		var t HookToken
		if i < len(tokens) {
			t = tokens[i]
		}
		c[i].OnScanEnd(ctx, t, info, stats, err)
	}
}

// hookStart calls OnScanStart, recovering panics.
func hookStart(ctx context.Context, hook ScanHook, info ScanInfo) (outCtx context.Context, token HookToken, ok bool) {
	outCtx = ctx
	defer func() {
		if rv := recover(); rv != nil {
			slog.Error("scan hook start panic", "function", info.Function, "err", rv)
			ok = false
		}
	}()
	hookCtx, token := hook.OnScanStart(ctx, info)
	if hookCtx != nil {
		outCtx = hookCtx
	}
	return outCtx, token, true
}

// hookEnd calls OnScanEnd, recovering panics.
func hookEnd(ctx context.Context, hook ScanHook, token HookToken, info ScanInfo, stats *ScanStatistics, err error) {
	defer func() {
		if rv := recover(); rv != nil {
			slog.Error("scan hook end panic", "function", info.Function, "err", rv)
		}
	}()
	hook.OnScanEnd(ctx, token, info, stats, err)
}

// batchBufferSize returns the total top-level buffer size in bytes across
// all columns in a record batch.
func batchBufferSize(batch arrow.RecordBatch) int64 {
	var total int64
	for i := int64(0); i < batch.NumCols(); i++ {
		col := batch.Column(int(i))
		for _, buf := range col.Data().Buffers() {
			if buf != nil {
				total += int64(buf.Len())
			}
		}
	}
	return total
}
