// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package vtab

import (
	"context"
	"fmt"
)

// BindInfo is handed to [Provider.Bind]. It exposes the call-site
// parameters and collects the declared result columns. It is only valid
// for the duration of the Bind call.
type BindInfo struct {
	ctx      context.Context
	function string
	params   []Value
	named    map[string]Value
	columns  []Column
	closed   bool
	logs     *logSink
}

// Context returns the context of the query being planned.
func (b *BindInfo) Context() context.Context { return b.ctx }

// FunctionName returns the name the function was invoked under.
func (b *BindInfo) FunctionName() string { return b.function }

// AddResultColumn declares the next output column. Column order is the
// order of the calls.
func (b *BindInfo) AddResultColumn(name string, t LogicalType) error {
	if b.closed {
		return ErrBindClosed
	}
	if name == "" {
		return fmt.Errorf("result column %d: empty name", len(b.columns))
	}
	if !t.Valid() {
		return fmt.Errorf("result column %q: invalid type %s", name, t)
	}
	for _, c := range b.columns {
		if c.Name == name {
			return fmt.Errorf("result column %q declared twice", name)
		}
	}
	b.columns = append(b.columns, Column{Name: name, Type: t})
	return nil
}

// ParameterCount returns the number of positional parameters.
func (b *BindInfo) ParameterCount() int { return len(b.params) }

// Parameter returns the positional parameter at index, already cast to the
// declared parameter type.
func (b *BindInfo) Parameter(index int) (Value, error) {
	if b.closed {
		return Value{}, ErrBindClosed
	}
	if index < 0 || index >= len(b.params) {
		return Value{}, fmt.Errorf("%w: %d not in [0, %d)", ErrParameterIndex, index, len(b.params))
	}
	return b.params[index], nil
}

// NamedParameter returns the named parameter, if it was supplied.
func (b *BindInfo) NamedParameter(name string) (Value, bool) {
	v, ok := b.named[name]
	return v, ok
}

// ClientLog records a message for whoever drives the query.
func (b *BindInfo) ClientLog(level LogLevel, msg string, extras ...KV) {
	b.logs.add(level, msg, extras)
}
