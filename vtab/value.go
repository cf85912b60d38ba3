// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package vtab

import (
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow/decimal128"
)

// Value is a typed literal: a call-site parameter or a cell read back from
// a chunk. The zero Value is an untyped NULL.
type Value struct {
	typ LogicalType
	v   any
}

// Null returns a NULL of type t.
func Null(t LogicalType) Value { return Value{typ: t} }

// NewValue converts v to the canonical Go representation of t:
//
//	Boolean   bool        TinyInt  int8      SmallInt  int16
//	Integer   int32       BigInt   int64     Float     float32
//	Double    float64     Varchar  string    Blob      []byte
//	Date      time.Time   Timestamp time.Time
//	Decimal   decimal128.Num
//
// A nil v yields NULL. Integers are range-checked.
func NewValue(t LogicalType, v any) (Value, error) {
	if !t.Valid() {
		return Value{}, fmt.Errorf("invalid logical type %s", t)
	}
	c, err := coerce(t, v)
	if err != nil {
		return Value{}, err
	}
	return Value{typ: t, v: c}, nil
}

// StringValue returns a VARCHAR value.
func StringValue(s string) Value { return Value{typ: NewLogicalType(Varchar), v: s} }

// Int64Value returns a BIGINT value.
func Int64Value(i int64) Value { return Value{typ: NewLogicalType(BigInt), v: i} }

// Int32Value returns an INTEGER value.
func Int32Value(i int32) Value { return Value{typ: NewLogicalType(Integer), v: i} }

// Float64Value returns a DOUBLE value.
func Float64Value(f float64) Value { return Value{typ: NewLogicalType(Double), v: f} }

// BoolValue returns a BOOLEAN value.
func BoolValue(b bool) Value { return Value{typ: NewLogicalType(Boolean), v: b} }

// BlobValue returns a BLOB value holding a copy of b.
func BlobValue(b []byte) Value {
	return Value{typ: NewLogicalType(Blob), v: append([]byte(nil), b...)}
}

// Type returns the value's logical type. An untyped NULL reports Invalid.
func (v Value) Type() LogicalType { return v.typ }

// IsNull reports whether v is NULL.
func (v Value) IsNull() bool { return v.v == nil }

// Any returns the canonical Go value, or nil for NULL.
func (v Value) Any() any { return v.v }

// String renders the value as text. NULL renders as "NULL".
func (v Value) String() string {
	switch x := v.v.(type) {
	case nil:
		return "NULL"
	case string:
		return x
	case []byte:
		return `\x` + hex.EncodeToString(x)
	case time.Time:
		if v.typ.id == Date {
			return x.Format(time.DateOnly)
		}
		return x.Format("2006-01-02 15:04:05.999999")
	case decimal128.Num:
		return x.ToString(int32(v.typ.scale))
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}

// Int64 returns the value of an integer typed Value.
func (v Value) Int64() (int64, error) {
	switch x := v.v.(type) {
	case int8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int64:
		return x, nil
	case nil:
		return 0, fmt.Errorf("value is NULL")
	}
	return 0, fmt.Errorf("cannot read %s as integer", v.typ)
}

// Float64 returns the value of a numeric Value.
func (v Value) Float64() (float64, error) {
	switch x := v.v.(type) {
	case float32:
		return float64(x), nil
	case float64:
		return x, nil
	case decimal128.Num:
		return x.ToFloat64(int32(v.typ.scale)), nil
	case nil:
		return 0, fmt.Errorf("value is NULL")
	}
	i, err := v.Int64()
	if err != nil {
		return 0, fmt.Errorf("cannot read %s as float", v.typ)
	}
	return float64(i), nil
}

// Bool returns the value of a BOOLEAN Value.
func (v Value) Bool() (bool, error) {
	if b, ok := v.v.(bool); ok {
		return b, nil
	}
	if v.v == nil {
		return false, fmt.Errorf("value is NULL")
	}
	return false, fmt.Errorf("cannot read %s as boolean", v.typ)
}

// Bytes returns the value of a BLOB or VARCHAR Value.
func (v Value) Bytes() ([]byte, error) {
	switch x := v.v.(type) {
	case []byte:
		return x, nil
	case string:
		return []byte(x), nil
	case nil:
		return nil, fmt.Errorf("value is NULL")
	}
	return nil, fmt.Errorf("cannot read %s as bytes", v.typ)
}

// Time returns the value of a DATE or TIMESTAMP Value.
func (v Value) Time() (time.Time, error) {
	if t, ok := v.v.(time.Time); ok {
		return t, nil
	}
	if v.v == nil {
		return time.Time{}, fmt.Errorf("value is NULL")
	}
	return time.Time{}, fmt.Errorf("cannot read %s as time", v.typ)
}

// castTo applies the implicit call-site casts: integer widening, integers
// and FLOAT to floating point, and NULL to any type. ok is false when no
// implicit cast exists.
func (v Value) castTo(t LogicalType) (Value, bool) {
	if v.typ == t {
		return v, true
	}
	if v.v == nil {
		return Null(t), true
	}
	src := v.typ
	switch {
	case src.isInteger() && t.isInteger() && src.id < t.id:
	case src.isInteger() && (t.id == Float || t.id == Double):
	case src.id == Float && t.id == Double:
	default:
		return Value{}, false
	}
	out, err := NewValue(t, v.v)
	if err != nil {
		return Value{}, false
	}
	return out, true
}

// coerce converts a Go value into the canonical representation of t.
func coerce(t LogicalType, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if val, ok := v.(Value); ok {
		v = val.v
		if v == nil {
			return nil, nil
		}
	}
	switch t.id {
	case Boolean:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case TinyInt:
		i, err := toInt64(v)
		if err != nil {
			return nil, err
		}
		if i < math.MinInt8 || i > math.MaxInt8 {
			return nil, fmt.Errorf("value %d out of range for %s", i, t)
		}
		return int8(i), nil
	case SmallInt:
		i, err := toInt64(v)
		if err != nil {
			return nil, err
		}
		if i < math.MinInt16 || i > math.MaxInt16 {
			return nil, fmt.Errorf("value %d out of range for %s", i, t)
		}
		return int16(i), nil
	case Integer:
		i, err := toInt64(v)
		if err != nil {
			return nil, err
		}
		if i < math.MinInt32 || i > math.MaxInt32 {
			return nil, fmt.Errorf("value %d out of range for %s", i, t)
		}
		return int32(i), nil
	case BigInt:
		return toInt64(v)
	case Float:
		f, err := toFloat64(v)
		if err != nil {
			return nil, err
		}
		if math.Abs(f) > math.MaxFloat32 && !math.IsInf(f, 0) {
			return nil, fmt.Errorf("value %g out of range for %s", f, t)
		}
		return float32(f), nil
	case Double:
		return toFloat64(v)
	case Varchar:
		switch x := v.(type) {
		case string:
			return x, nil
		case []byte:
			return string(x), nil
		case fmt.Stringer:
			return x.String(), nil
		}
	case Blob:
		switch x := v.(type) {
		case []byte:
			return append([]byte(nil), x...), nil
		case string:
			return []byte(x), nil
		}
	case Date:
		if tm, ok := v.(time.Time); ok {
			y, m, d := tm.Date()
			return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
		}
	case Timestamp:
		if tm, ok := v.(time.Time); ok {
			return tm.UTC().Truncate(time.Microsecond), nil
		}
	case Decimal:
		num, err := toDecimal(t, v)
		if err != nil {
			return nil, err
		}
		if !num.FitsInPrecision(int32(t.width)) {
			return nil, fmt.Errorf("value %s does not fit %s", num.ToString(int32(t.scale)), t)
		}
		return num, nil
	}
	return nil, fmt.Errorf("cannot convert %T to %s", v, t)
}

// toDecimal converts v to a decimal at the scale of t.
func toDecimal(t LogicalType, v any) (decimal128.Num, error) {
	switch x := v.(type) {
	case decimal128.Num:
		return x, nil
	case float64:
		return decimal128.FromFloat64(x, int32(t.width), int32(t.scale))
	case float32:
		return decimal128.FromFloat32(x, int32(t.width), int32(t.scale))
	case string:
		return decimal128.FromString(x, int32(t.width), int32(t.scale))
	}
	i, err := toInt64(v)
	if err != nil {
		return decimal128.Num{}, fmt.Errorf("cannot convert %T to %s", v, t)
	}
	return decimal128.FromI64(i).Rescale(0, int32(t.scale))
}

func toInt64(v any) (int64, error) {
	switch val := v.(type) {
	case int64:
		return val, nil
	case int:
		return int64(val), nil
	case int32:
		return int64(val), nil
	case int16:
		return int64(val), nil
	case int8:
		return int64(val), nil
	case uint8:
		return int64(val), nil
	case uint16:
		return int64(val), nil
	case uint32:
		return int64(val), nil
	case uint64:
		if val > math.MaxInt64 {
			return 0, fmt.Errorf("value %d overflows int64", val)
		}
		return int64(val), nil
	default:
		return 0, fmt.Errorf("cannot convert %T to int64", v)
	}
}

func toFloat64(v any) (float64, error) {
	switch val := v.(type) {
	case float64:
		return val, nil
	case float32:
		return float64(val), nil
	}
	i, err := toInt64(v)
	if err != nil {
		return 0, fmt.Errorf("cannot convert %T to float64", v)
	}
	return float64(i), nil
}

// ParseValue parses a textual literal as type t. "NULL" (any case) yields a
// NULL of t. Dates use 2006-01-02 and timestamps RFC 3339; blobs are taken
// verbatim.
func ParseValue(t LogicalType, s string) (Value, error) {
	if strings.EqualFold(s, "NULL") {
		return Null(t), nil
	}
	var v any
	var err error
	switch t.id {
	case Boolean:
		v, err = strconv.ParseBool(s)
	case TinyInt, SmallInt, Integer, BigInt:
		v, err = strconv.ParseInt(s, 10, 64)
	case Float, Double:
		v, err = strconv.ParseFloat(s, 64)
	case Varchar, Decimal:
		v = s
	case Blob:
		v = []byte(s)
	case Date:
		v, err = time.Parse(time.DateOnly, s)
	case Timestamp:
		v, err = time.Parse(time.RFC3339Nano, s)
	default:
		return Value{}, fmt.Errorf("cannot parse a literal of type %s", t)
	}
	if err != nil {
		return Value{}, fmt.Errorf("parse %q as %s: %w", s, t, err)
	}
	return NewValue(t, v)
}
