// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package vtab

import "context"

// InitInfo is handed to [Provider.Init] once per scan.
type InitInfo[B any] struct {
	ctx        context.Context
	bind       *B
	columns    []Column
	projection []int
	logs       *logSink
}

// Context returns the context of the scan.
func (i *InitInfo[B]) Context() context.Context { return i.ctx }

// BindData returns the bind data of the query. It is shared with other
// scans and must not be modified.
func (i *InitInfo[B]) BindData() *B { return i.bind }

// Columns returns the result columns declared during Bind.
func (i *InitInfo[B]) Columns() []Column {
	return append([]Column(nil), i.columns...)
}

// Projection returns the indexes of the columns the host will read, or
// nil when it reads all of them. It is a hint; providers may fill every
// column regardless.
func (i *InitInfo[B]) Projection() []int {
	if i.projection == nil {
		return nil
	}
	return append([]int(nil), i.projection...)
}

// ClientLog records a message for whoever drives the scan.
func (i *InitInfo[B]) ClientLog(level LogLevel, msg string, extras ...KV) {
	i.logs.add(level, msg, extras)
}
