// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

//go:build cgo

package duckhost

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/apache/arrow-go/v18/arrow/decimal128"
	"github.com/hashicorp/go-multierror"
	"github.com/marcboeker/go-duckdb"

	"github.com/Query-farm/vgi-vtab/vtab"
)

var _ vtab.Host = (*Host)(nil)

// Host registers session functions as DuckDB table functions.
type Host struct {
	ctx     context.Context
	conn    *sql.Conn
	session *vtab.Session
}

// Attach makes conn the host of session. Functions already registered are
// registered with DuckDB immediately, later ones as they are added. The
// session chunk capacity is capped at the DuckDB vector size.
func Attach(ctx context.Context, conn *sql.Conn, session *vtab.Session) (*Host, error) {
	if n := duckdb.GetDataChunkCapacity(); session.ChunkCapacity() > n {
		session.SetChunkCapacity(n)
	}
	h := &Host{ctx: ctx, conn: conn, session: session}
	if err := session.SetHost(h); err != nil {
		return nil, err
	}
	return h, nil
}

// RegisterTableFunction implements vtab.Host.
func (h *Host) RegisterTableFunction(fn vtab.Function) error {
	args := make([]duckdb.TypeInfo, len(fn.Parameters))
	for i, t := range fn.Parameters {
		info, err := typeInfo(t)
		if err != nil {
			return fmt.Errorf("parameter %d: %w", i, err)
		}
		args[i] = info
	}
	var named map[string]duckdb.TypeInfo
	if len(fn.NamedParameters) > 0 {
		named = make(map[string]duckdb.TypeInfo, len(fn.NamedParameters))
		for k, t := range fn.NamedParameters {
			info, err := typeInfo(t)
			if err != nil {
				return fmt.Errorf("named parameter %q: %w", k, err)
			}
			named[k] = info
		}
	}

	name := fn.Name
	udf := duckdb.ChunkTableFunction{
		Config: duckdb.TableFunctionConfig{
			Arguments:      args,
			NamedArguments: named,
		},
		BindArguments: func(namedArgs map[string]any, positional ...any) (duckdb.ChunkTableSource, error) {
			return h.bind(fn, namedArgs, positional)
		},
	}
	if err := duckdb.RegisterTableUDF(h.conn, name, udf); err != nil {
		return fmt.Errorf("registering %s with duckdb: %w", name, err)
	}
	slog.Debug("duckhost: registered table function", "function", name, "parameters", len(args))
	return nil
}

func (h *Host) bind(fn vtab.Function, namedArgs map[string]any, positional []any) (duckdb.ChunkTableSource, error) {
	if len(positional) != len(fn.Parameters) {
		return nil, fmt.Errorf("%w: %s takes %d parameter(s), got %d", vtab.ErrArity, fn.Name, len(fn.Parameters), len(positional))
	}
	args := make([]vtab.Value, len(positional))
	for i, raw := range positional {
		v, err := fromDuck(fn.Parameters[i], raw)
		if err != nil {
			return nil, fmt.Errorf("%s parameter %d: %w", fn.Name, i, err)
		}
		args[i] = v
	}
	var named map[string]vtab.Value
	for k, raw := range namedArgs {
		t, ok := fn.NamedParameters[k]
		if !ok {
			return nil, fmt.Errorf("%w: %s", vtab.ErrUnknownParameter, k)
		}
		v, err := fromDuck(t, raw)
		if err != nil {
			return nil, fmt.Errorf("%s named parameter %q: %w", fn.Name, k, err)
		}
		if named == nil {
			named = make(map[string]vtab.Value, len(namedArgs))
		}
		named[k] = v
	}

	bound, err := h.session.Bind(h.ctx, fn.Name, args, named)
	if err != nil {
		return nil, err
	}
	logBound(fn.Name, bound.DrainLogs())
	return &source{ctx: h.ctx, bound: bound}, nil
}

// source adapts one bound function call to a DuckDB chunk table source.
type source struct {
	ctx   context.Context
	bound *vtab.BoundFunction
	scan  *vtab.Scan
	err   error
	done  bool
}

func (s *source) ColumnInfos() []duckdb.ColumnInfo {
	cols := s.bound.Columns()
	infos := make([]duckdb.ColumnInfo, len(cols))
	for i, c := range cols {
		// Types were validated at registration for parameters only; result
		// column types are checked here.
		info, err := typeInfo(c.Type)
		if err != nil {
			s.err = err
			info, _ = duckdb.NewTypeInfo(duckdb.TYPE_VARCHAR)
		}
		infos[i] = duckdb.ColumnInfo{Name: c.Name, T: info}
	}
	return infos
}

func (s *source) Cardinality() *duckdb.CardinalityInfo { return nil }

// Init runs the vtab Init phase. DuckDB gives Init no error return, so a
// failure is reported by the first FillChunk.
func (s *source) Init() {
	if s.err != nil {
		return
	}
	s.scan, s.err = s.bound.NewScan(s.ctx)
}

func (s *source) FillChunk(out duckdb.DataChunk) error {
	if s.done {
		return nil
	}
	if s.err != nil {
		return s.finish(s.err)
	}
	chunk, err := s.scan.NextChunk(s.ctx)
	logBound(s.bound.Name(), s.scan.DrainLogs())
	if errors.Is(err, io.EOF) {
		return s.finish(nil)
	}
	if err != nil {
		return s.finish(err)
	}
	for col := 0; col < chunk.ColumnCount(); col++ {
		for row := 0; row < chunk.Size(); row++ {
			v, err := chunk.Value(col, row)
			if err != nil {
				return s.finish(err)
			}
			if err := out.SetValue(col, row, toDuck(v)); err != nil {
				return s.finish(fmt.Errorf("column %d row %d: %w", col, row, err))
			}
		}
	}
	if err := out.SetSize(chunk.Size()); err != nil {
		return s.finish(err)
	}
	return nil
}

// finish closes the scan and the bound function and returns err, joined
// with any teardown failure.
func (s *source) finish(err error) error {
	s.done = true
	var result *multierror.Error
	if err != nil {
		result = multierror.Append(result, err)
	}
	if s.scan != nil {
		if cerr := s.scan.Close(); cerr != nil {
			result = multierror.Append(result, cerr)
		}
	}
	if cerr := s.bound.Close(); cerr != nil {
		result = multierror.Append(result, cerr)
	}
	return result.ErrorOrNil()
}

func logBound(function string, logs []vtab.LogMessage) {
	for _, m := range logs {
		slog.Info("table function log", "function", function, "level", string(m.Level), "message", m.Message)
	}
}

// typeInfo maps a logical type onto its DuckDB type.
func typeInfo(t vtab.LogicalType) (duckdb.TypeInfo, error) {
	switch t.ID() {
	case vtab.Boolean:
		return duckdb.NewTypeInfo(duckdb.TYPE_BOOLEAN)
	case vtab.TinyInt:
		return duckdb.NewTypeInfo(duckdb.TYPE_TINYINT)
	case vtab.SmallInt:
		return duckdb.NewTypeInfo(duckdb.TYPE_SMALLINT)
	case vtab.Integer:
		return duckdb.NewTypeInfo(duckdb.TYPE_INTEGER)
	case vtab.BigInt:
		return duckdb.NewTypeInfo(duckdb.TYPE_BIGINT)
	case vtab.Float:
		return duckdb.NewTypeInfo(duckdb.TYPE_FLOAT)
	case vtab.Double:
		return duckdb.NewTypeInfo(duckdb.TYPE_DOUBLE)
	case vtab.Varchar:
		return duckdb.NewTypeInfo(duckdb.TYPE_VARCHAR)
	case vtab.Blob:
		return duckdb.NewTypeInfo(duckdb.TYPE_BLOB)
	case vtab.Date:
		return duckdb.NewTypeInfo(duckdb.TYPE_DATE)
	case vtab.Timestamp:
		return duckdb.NewTypeInfo(duckdb.TYPE_TIMESTAMP)
	case vtab.Decimal:
		return duckdb.NewDecimalInfo(t.Width(), t.Scale())
	}
	return nil, fmt.Errorf("type %s has no duckdb equivalent", t)
}

// fromDuck converts a DuckDB argument into a value of type t.
func fromDuck(t vtab.LogicalType, raw any) (vtab.Value, error) {
	switch x := raw.(type) {
	case nil:
		return vtab.Null(t), nil
	case duckdb.Decimal:
		return vtab.NewValue(t, decimal128.FromBigInt(x.Value))
	case *duckdb.Decimal:
		return vtab.NewValue(t, decimal128.FromBigInt(x.Value))
	}
	return vtab.NewValue(t, raw)
}

// toDuck converts a chunk cell into the Go value DuckDB's vectors accept.
func toDuck(v vtab.Value) any {
	if v.IsNull() {
		return nil
	}
	switch x := v.Any().(type) {
	case decimal128.Num:
		t := v.Type()
		return duckdb.Decimal{Width: t.Width(), Scale: t.Scale(), Value: x.BigInt()}
	default:
		return x
	}
}
