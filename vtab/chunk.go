// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package vtab

import (
	"fmt"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/decimal128"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// DefaultChunkCapacity is the number of rows a chunk holds unless the
// session is configured otherwise.
const DefaultChunkCapacity = 2048

// DataChunk is the fixed-capacity columnar batch a provider fills during
// one Produce call. The host owns the chunk; the provider may only write
// to it until Produce returns. Rows below [DataChunk.Size] that were never
// written read as NULL.
type DataChunk struct {
	columns  []*Vector
	capacity int
	size     int
	sealed   bool
}

// Vector is one typed column of a DataChunk.
type Vector struct {
	chunk *DataChunk
	typ   LogicalType
	data  []any
}

// NewDataChunk allocates a writable chunk for the given columns. Hosts
// normally obtain chunks from a [Scan]; this constructor exists for hosts
// that manage their own buffers and for tests.
func NewDataChunk(cols []Column, capacity int) *DataChunk {
	if capacity <= 0 {
		capacity = DefaultChunkCapacity
	}
	c := &DataChunk{capacity: capacity}
	c.columns = make([]*Vector, len(cols))
	for i, col := range cols {
		c.columns[i] = &Vector{chunk: c, typ: col.Type, data: make([]any, capacity)}
	}
	return c
}

// Capacity returns the maximum number of rows the chunk can hold.
func (c *DataChunk) Capacity() int { return c.capacity }

// Size returns the declared number of valid rows.
func (c *DataChunk) Size() int { return c.size }

// ColumnCount returns the number of columns.
func (c *DataChunk) ColumnCount() int { return len(c.columns) }

// SetSize declares how many rows of the chunk are valid. Zero declares
// end-of-stream.
func (c *DataChunk) SetSize(n int) error {
	if c.sealed {
		return ErrChunkReleased
	}
	if n < 0 || n > c.capacity {
		return fmt.Errorf("%w: %d not in [0, %d]", ErrRowCount, n, c.capacity)
	}
	c.size = n
	return nil
}

// Vector returns column i.
func (c *DataChunk) Vector(i int) (*Vector, error) {
	if i < 0 || i >= len(c.columns) {
		return nil, fmt.Errorf("column index %d out of range [0, %d)", i, len(c.columns))
	}
	return c.columns[i], nil
}

// SetValue writes val into column col at row.
func (c *DataChunk) SetValue(col, row int, val any) error {
	v, err := c.Vector(col)
	if err != nil {
		return err
	}
	return v.Set(row, val)
}

// Value reads the cell at column col, row.
func (c *DataChunk) Value(col, row int) (Value, error) {
	v, err := c.Vector(col)
	if err != nil {
		return Value{}, err
	}
	return v.Get(row)
}

// reset clears the chunk and makes it writable for the next call.
func (c *DataChunk) reset() {
	for _, v := range c.columns {
		clear(v.data)
	}
	c.size = 0
	c.sealed = false
}

// seal revokes write access.
func (c *DataChunk) seal() { c.sealed = true }

// Type returns the column type.
func (v *Vector) Type() LogicalType { return v.typ }

// Set writes val at row, converting it to the column's canonical type.
// Blob and text values are copied.
func (v *Vector) Set(row int, val any) error {
	if err := v.check(row); err != nil {
		return err
	}
	c, err := coerce(v.typ, val)
	if err != nil {
		return err
	}
	v.data[row] = c
	return nil
}

func (v *Vector) SetString(row int, s string) error { return v.Set(row, s) }
func (v *Vector) SetInt64(row int, i int64) error { return v.Set(row, i) }
func (v *Vector) SetFloat64(row int, f float64) error { return v.Set(row, f) }
func (v *Vector) SetBool(row int, b bool) error { return v.Set(row, b) }
func (v *Vector) SetBytes(row int, b []byte) error { return v.Set(row, b) }
func (v *Vector) SetTime(row int, t time.Time) error { return v.Set(row, t) }
func (v *Vector) SetDecimal(row int, d decimal128.Num) error { return v.Set(row, d) }

// SetNull marks row as NULL.
func (v *Vector) SetNull(row int) error {
	if err := v.check(row); err != nil {
		return err
	}
	v.data[row] = nil
	return nil
}

// Get reads row back as a Value.
func (v *Vector) Get(row int) (Value, error) {
	if row < 0 || row >= len(v.data) {
		return Value{}, fmt.Errorf("row %d out of range [0, %d)", row, len(v.data))
	}
	return Value{typ: v.typ, v: v.data[row]}, nil
}

func (v *Vector) check(row int) error {
	if v.chunk.sealed {
		return ErrChunkReleased
	}
	if row < 0 || row >= len(v.data) {
		return fmt.Errorf("row %d out of range [0, %d)", row, len(v.data))
	}
	return nil
}

// record copies the first Size rows into an Arrow record batch.
func (c *DataChunk) record(mem memory.Allocator, schema *arrow.Schema) (arrow.RecordBatch, error) {
	cols := make([]arrow.Array, len(c.columns))
	defer func() {
		for _, col := range cols {
			if col != nil {
				col.Release()
			}
		}
	}()
	for i, v := range c.columns {
		arr, err := v.array(mem, schema.Field(i).Type, c.size)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", schema.Field(i).Name, err)
		}
		cols[i] = arr
	}
	return array.NewRecordBatch(schema, cols, int64(c.size)), nil
}

// array builds an Arrow array from the first n rows of the vector.
func (v *Vector) array(mem memory.Allocator, dt arrow.DataType, n int) (arrow.Array, error) {
	b := array.NewBuilder(mem, dt)
	defer b.Release()
	b.Reserve(n)
	for _, val := range v.data[:n] {
		if val == nil {
			b.AppendNull()
			continue
		}
		if err := appendValue(b, val); err != nil {
			return nil, err
		}
	}
	return b.NewArray(), nil
}

// appendValue appends one canonical value to the matching Arrow builder.
func appendValue(b array.Builder, val any) error {
	switch bb := b.(type) {
	case *array.BooleanBuilder:
		bb.Append(val.(bool))
	case *array.Int8Builder:
		bb.Append(val.(int8))
	case *array.Int16Builder:
		bb.Append(val.(int16))
	case *array.Int32Builder:
		bb.Append(val.(int32))
	case *array.Int64Builder:
		bb.Append(val.(int64))
	case *array.Float32Builder:
		bb.Append(val.(float32))
	case *array.Float64Builder:
		bb.Append(val.(float64))
	case *array.StringBuilder:
		bb.Append(val.(string))
	case *array.BinaryBuilder:
		bb.Append(val.([]byte))
	case *array.Date32Builder:
		bb.Append(arrow.Date32FromTime(val.(time.Time)))
	case *array.TimestampBuilder:
		bb.Append(arrow.Timestamp(val.(time.Time).UnixMicro()))
	case *array.Decimal128Builder:
		bb.Append(val.(decimal128.Num))
	default:
		return fmt.Errorf("unsupported builder %T", b)
	}
	return nil
}

// valueAt reads row i of an Arrow array as a canonical Go value.
func valueAt(arr arrow.Array, i int) (any, error) {
	if arr.IsNull(i) {
		return nil, nil
	}
	switch a := arr.(type) {
	case *array.Boolean:
		return a.Value(i), nil
	case *array.Int8:
		return a.Value(i), nil
	case *array.Int16:
		return a.Value(i), nil
	case *array.Int32:
		return a.Value(i), nil
	case *array.Int64:
		return a.Value(i), nil
	case *array.Float32:
		return a.Value(i), nil
	case *array.Float64:
		return a.Value(i), nil
	case *array.String:
		return a.Value(i), nil
	case *array.LargeString:
		return a.Value(i), nil
	case *array.Binary:
		return append([]byte(nil), a.Value(i)...), nil
	case *array.LargeBinary:
		return append([]byte(nil), a.Value(i)...), nil
	case *array.Date32:
		return a.Value(i).ToTime(), nil
	case *array.Timestamp:
		unit := a.DataType().(*arrow.TimestampType).Unit
		return a.Value(i).ToTime(unit).UTC(), nil
	case *array.Decimal128:
		return a.Value(i), nil
	case *array.Dictionary:
		dict, ok := a.Dictionary().(*array.String)
		if !ok {
			return nil, fmt.Errorf("unsupported dictionary value type %s", a.Dictionary().DataType())
		}
		return dict.Value(a.GetValueIndex(i)), nil
	default:
		return nil, fmt.Errorf("unsupported arrow array %T", arr)
	}
}
