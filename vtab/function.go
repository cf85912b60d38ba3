// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package vtab

import "context"

// FunctionInfo is handed to [Provider.Produce] on every call.
type FunctionInfo[B any, I any] struct {
	ctx  context.Context
	bind *B
	init *I
	logs *logSink
}

// Context returns the context of the scan.
func (f *FunctionInfo[B, I]) Context() context.Context { return f.ctx }

// BindData returns the bind data. Treat it as read-only: it is shared by
// every scan of the query.
func (f *FunctionInfo[B, I]) BindData() *B { return f.bind }

// InitData returns the scan's init data, which the provider may mutate to
// track progress.
func (f *FunctionInfo[B, I]) InitData() *I { return f.init }

// ClientLog records a message for whoever drives the scan.
func (f *FunctionInfo[B, I]) ClientLog(level LogLevel, msg string, extras ...KV) {
	f.logs.add(level, msg, extras)
}
