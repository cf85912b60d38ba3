// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package vtab

import (
	"context"

	"github.com/hashicorp/go-multierror"
)

// tableFunction is the type-erased form of a registered provider. Its
// callbacks are trampolines generated once per concrete provider type by
// newTableFunction; the host side only ever passes handles through them.
type tableFunction struct {
	name   string
	params []LogicalType
	named  map[string]LogicalType

	bind        func(ctx context.Context, info *BindInfo) (Handle, error)
	init        func(ctx context.Context, bind Handle, columns []Column, projection []int, logs *logSink) (Handle, error)
	produce     func(ctx context.Context, bind, init Handle, out *DataChunk, logs *logSink) error
	releaseBind func(Handle) error
	releaseInit func(Handle) error
	releaseAll  func() error
	live        func() (binds, inits int)
}

// describe returns the host-facing signature.
func (f *tableFunction) describe() Function {
	fn := Function{
		Name:       f.name,
		Parameters: append([]LogicalType(nil), f.params...),
	}
	if len(f.named) > 0 {
		fn.NamedParameters = make(map[string]LogicalType, len(f.named))
		for k, v := range f.named {
			fn.NamedParameters[k] = v
		}
	}
	return fn
}

// guard runs one provider callback. A returned error or a recovered panic
// is converted into an *Error for phase so nothing else crosses back into
// the host.
func guard(phase Phase, function string, fn func() error) (err error) {
	defer func() {
		if rv := recover(); rv != nil {
			err = newError(phase, function, ErrProviderPanic, "panic: %v", rv)
		}
	}()
	if err := fn(); err != nil {
		return asError(phase, function, err)
	}
	return nil
}

// newTableFunction builds the trampolines for provider p. Bind and init
// data live in arenas owned by the returned value.
func newTableFunction[B any, I any](name string, p Provider[B, I], params []LogicalType, named map[string]LogicalType) *tableFunction {
	binds := newArena[B]()
	inits := newArena[I]()

	f := &tableFunction{
		name:   name,
		params: params,
		named:  named,
	}

	f.bind = func(ctx context.Context, info *BindInfo) (Handle, error) {
		var data *B
		err := guard(PhaseBind, name, func() error {
			var err error
			data, err = p.Bind(info)
			return err
		})
		info.closed = true
		if err != nil {
			_ = guard(PhaseBind, name, func() error { return closeData(data) })
			return 0, err
		}
		if len(info.columns) == 0 {
			_ = guard(PhaseBind, name, func() error { return closeData(data) })
			return 0, newError(PhaseBind, name, ErrNoColumns, "%s", ErrNoColumns)
		}
		if data == nil {
			data = new(B)
		}
		return binds.put(data), nil
	}

	f.init = func(ctx context.Context, bind Handle, columns []Column, projection []int, logs *logSink) (Handle, error) {
		bd, err := binds.get(bind)
		if err != nil {
			return 0, newError(PhaseInit, name, err, "resolving bind data: %v", err)
		}
		info := &InitInfo[B]{
			ctx:        ctx,
			bind:       bd,
			columns:    columns,
			projection: projection,
			logs:       logs,
		}
		var data *I
		err = guard(PhaseInit, name, func() error {
			var err error
			data, err = p.Init(info)
			return err
		})
		if err != nil {
			_ = guard(PhaseInit, name, func() error { return closeData(data) })
			return 0, err
		}
		if data == nil {
			data = new(I)
		}
		return inits.put(data), nil
	}

	f.produce = func(ctx context.Context, bind, init Handle, out *DataChunk, logs *logSink) error {
		bd, err := binds.get(bind)
		if err != nil {
			return newError(PhaseProduce, name, err, "resolving bind data: %v", err)
		}
		id, err := inits.get(init)
		if err != nil {
			return newError(PhaseProduce, name, err, "resolving init data: %v", err)
		}
		info := &FunctionInfo[B, I]{ctx: ctx, bind: bd, init: id, logs: logs}
		return guard(PhaseProduce, name, func() error {
			return p.Produce(info, out)
		})
	}

	f.releaseBind = binds.release
	f.releaseInit = inits.release
	f.releaseAll = func() error {
		var result *multierror.Error
		if err := inits.releaseAll(); err != nil {
			result = multierror.Append(result, err)
		}
		if err := binds.releaseAll(); err != nil {
			result = multierror.Append(result, err)
		}
		return result.ErrorOrNil()
	}
	f.live = func() (int, int) { return binds.len(), inits.len() }
	return f
}
