// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package vtab

import (
	"math"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow/decimal128"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewValueCoercion(t *testing.T) {
	v, err := NewValue(NewLogicalType(Integer), 42)
	require.NoError(t, err)
	assert.Equal(t, int32(42), v.Any())

	_, err = NewValue(NewLogicalType(TinyInt), 300)
	assert.Error(t, err)

	v, err = NewValue(NewLogicalType(Double), int64(3))
	require.NoError(t, err)
	assert.Equal(t, 3.0, v.Any())

	v, err = NewValue(NewLogicalType(Varchar), nil)
	require.NoError(t, err)
	assert.True(t, v.IsNull())
	assert.Equal(t, "NULL", v.String())

	_, err = NewValue(NewLogicalType(Boolean), "true")
	assert.Error(t, err)

	_, err = NewValue(LogicalType{}, 1)
	assert.Error(t, err)
}

func TestValueDecimal(t *testing.T) {
	dec, err := NewDecimalType(10, 2)
	require.NoError(t, err)
	v, err := NewValue(dec, "12.34")
	require.NoError(t, err)
	assert.Equal(t, "12.34", v.String())
	f, err := v.Float64()
	require.NoError(t, err)
	assert.InDelta(t, 12.34, f, 1e-9)
}

func TestValueDecimalPrecision(t *testing.T) {
	dec, err := NewDecimalType(4, 2)
	require.NoError(t, err)

	tests := []struct {
		name string
		in   any
		ok   bool
	}{
		{"integer fits", 99, true},
		{"integer too wide", 1000000, false},
		{"integer just too wide", 100, false},
		{"string fits", "-99.99", true},
		{"string too wide", "123.4", false},
		{"float fits", 12.5, true},
		{"float too wide", 1234.5, false},
		{"raw num too wide", decimal128.FromI64(123456), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewValue(dec, tt.in)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestValueFloatRange(t *testing.T) {
	_, err := NewValue(NewLogicalType(Float), 1e300)
	assert.Error(t, err)
	_, err = NewValue(NewLogicalType(Float), -1e300)
	assert.Error(t, err)

	v, err := NewValue(NewLogicalType(Float), math.Inf(1))
	require.NoError(t, err)
	assert.Equal(t, float32(math.Inf(1)), v.Any())

	v, err = NewValue(NewLogicalType(Float), 3.5)
	require.NoError(t, err)
	assert.Equal(t, float32(3.5), v.Any())
}

func TestValueTime(t *testing.T) {
	ts := time.Date(2024, 5, 6, 7, 8, 9, 123456789, time.UTC)
	d, err := NewValue(NewLogicalType(Date), ts)
	require.NoError(t, err)
	assert.Equal(t, "2024-05-06", d.String())

	v, err := NewValue(NewLogicalType(Timestamp), ts)
	require.NoError(t, err)
	got, err := v.Time()
	require.NoError(t, err)
	assert.Equal(t, ts.Truncate(time.Microsecond), got)
}

func TestCastTo(t *testing.T) {
	tests := []struct {
		name string
		from Value
		to   LogicalType
		ok   bool
	}{
		{"same type", Int64Value(1), NewLogicalType(BigInt), true},
		{"widen integer", Int32Value(1), NewLogicalType(BigInt), true},
		{"narrow integer", Int64Value(1), NewLogicalType(Integer), false},
		{"integer to double", Int32Value(7), NewLogicalType(Double), true},
		{"float to double", mustValue(t, NewLogicalType(Float), float32(1.5)), NewLogicalType(Double), true},
		{"double to float", Float64Value(1.5), NewLogicalType(Float), false},
		{"string to integer", StringValue("1"), NewLogicalType(Integer), false},
		{"integer to string", Int32Value(1), NewLogicalType(Varchar), false},
		{"null to anything", Value{}, NewLogicalType(Varchar), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.from.castTo(tt.to)
			require.Equal(t, tt.ok, ok)
			if ok {
				assert.Equal(t, tt.to, got.Type())
			}
		})
	}
}

func mustValue(t *testing.T, lt LogicalType, v any) Value {
	t.Helper()
	val, err := NewValue(lt, v)
	require.NoError(t, err)
	return val
}

func TestParseValue(t *testing.T) {
	v, err := ParseValue(NewLogicalType(BigInt), "-12")
	require.NoError(t, err)
	n, err := v.Int64()
	require.NoError(t, err)
	assert.Equal(t, int64(-12), n)

	v, err = ParseValue(NewLogicalType(Boolean), "true")
	require.NoError(t, err)
	b, err := v.Bool()
	require.NoError(t, err)
	assert.True(t, b)

	v, err = ParseValue(NewLogicalType(Date), "2024-01-31")
	require.NoError(t, err)
	assert.Equal(t, "2024-01-31", v.String())

	v, err = ParseValue(NewLogicalType(Varchar), "null")
	require.NoError(t, err)
	assert.True(t, v.IsNull())

	_, err = ParseValue(NewLogicalType(SmallInt), "70000")
	assert.Error(t, err)
	_, err = ParseValue(NewLogicalType(Double), "pi")
	assert.Error(t, err)
}

func TestValueAccessorsRejectWrongKinds(t *testing.T) {
	_, err := StringValue("x").Int64()
	assert.Error(t, err)
	_, err = Int64Value(1).Bool()
	assert.Error(t, err)
	_, err = Value{}.Time()
	assert.Error(t, err)
	b, err := BlobValue([]byte{0xde, 0xad}).Bytes()
	require.NoError(t, err)
	assert.Equal(t, []byte{0xde, 0xad}, b)
	assert.Equal(t, `\xdead`, BlobValue([]byte{0xde, 0xad}).String())
}
