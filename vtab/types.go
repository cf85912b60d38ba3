// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package vtab

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
)

// TypeID is the closed set of column and parameter kinds understood by
// both providers and hosts.
type TypeID uint8

const (
	// Invalid is the zero TypeID. It is never accepted in a signature or a
	// column declaration.
	Invalid TypeID = iota
	Boolean
	TinyInt
	SmallInt
	Integer
	BigInt
	Float
	Double
	Varchar
	Blob
	Date
	Timestamp
	Decimal
)

var typeNames = [...]string{
	Invalid:   "INVALID",
	Boolean:   "BOOLEAN",
	TinyInt:   "TINYINT",
	SmallInt:  "SMALLINT",
	Integer:   "INTEGER",
	BigInt:    "BIGINT",
	Float:     "FLOAT",
	Double:    "DOUBLE",
	Varchar:   "VARCHAR",
	Blob:      "BLOB",
	Date:      "DATE",
	Timestamp: "TIMESTAMP",
	Decimal:   "DECIMAL",
}

func (id TypeID) String() string {
	if int(id) < len(typeNames) {
		return typeNames[id]
	}
	return fmt.Sprintf("TypeID(%d)", uint8(id))
}

// MaxDecimalWidth is the widest decimal a LogicalType can describe.
const MaxDecimalWidth = 38

// LogicalType describes the data type of a column or parameter. It is an
// immutable value type; two LogicalTypes are equal when their kind and
// parameters are equal, so they can be compared with ==.
type LogicalType struct {
	id    TypeID
	width uint8
	scale uint8
}

// NewLogicalType returns the LogicalType for a parameterless kind. Use
// [NewDecimalType] for decimals; NewLogicalType(Decimal) yields
// DECIMAL(18,3), the customary default.
func NewLogicalType(id TypeID) LogicalType {
	if id == Decimal {
		return LogicalType{id: Decimal, width: 18, scale: 3}
	}
	if int(id) >= len(typeNames) {
		return LogicalType{}
	}
	return LogicalType{id: id}
}

// NewDecimalType returns DECIMAL(width, scale).
func NewDecimalType(width, scale uint8) (LogicalType, error) {
	if width == 0 || width > MaxDecimalWidth {
		return LogicalType{}, fmt.Errorf("decimal width %d out of range [1, %d]", width, MaxDecimalWidth)
	}
	if scale > width {
		return LogicalType{}, fmt.Errorf("decimal scale %d exceeds width %d", scale, width)
	}
	return LogicalType{id: Decimal, width: width, scale: scale}, nil
}

// ID returns the kind tag.
func (t LogicalType) ID() TypeID { return t.id }

// Width returns the decimal width, or 0 for other kinds.
func (t LogicalType) Width() uint8 { return t.width }

// Scale returns the decimal scale, or 0 for other kinds.
func (t LogicalType) Scale() uint8 { return t.scale }

// Valid reports whether t is a usable type.
func (t LogicalType) Valid() bool { return t.id != Invalid && int(t.id) < len(typeNames) }

func (t LogicalType) String() string {
	if t.id == Decimal {
		return fmt.Sprintf("DECIMAL(%d,%d)", t.width, t.scale)
	}
	return t.id.String()
}

// isInteger reports whether t is one of the signed integer kinds.
func (t LogicalType) isInteger() bool {
	switch t.id {
	case TinyInt, SmallInt, Integer, BigInt:
		return true
	}
	return false
}

// ArrowType returns the Arrow data type hosts use to carry values of t.
func (t LogicalType) ArrowType() arrow.DataType {
	switch t.id {
	case Boolean:
		return arrow.FixedWidthTypes.Boolean
	case TinyInt:
		return arrow.PrimitiveTypes.Int8
	case SmallInt:
		return arrow.PrimitiveTypes.Int16
	case Integer:
		return arrow.PrimitiveTypes.Int32
	case BigInt:
		return arrow.PrimitiveTypes.Int64
	case Float:
		return arrow.PrimitiveTypes.Float32
	case Double:
		return arrow.PrimitiveTypes.Float64
	case Varchar:
		return arrow.BinaryTypes.String
	case Blob:
		return arrow.BinaryTypes.Binary
	case Date:
		return arrow.FixedWidthTypes.Date32
	case Timestamp:
		return arrow.FixedWidthTypes.Timestamp_us
	case Decimal:
		return &arrow.Decimal128Type{Precision: int32(t.width), Scale: int32(t.scale)}
	default:
		return arrow.Null
	}
}

// LogicalTypeFromArrow maps an Arrow data type back to a LogicalType.
// Dictionary-encoded strings map to Varchar.
func LogicalTypeFromArrow(dt arrow.DataType) (LogicalType, error) {
	switch dt.ID() {
	case arrow.BOOL:
		return NewLogicalType(Boolean), nil
	case arrow.INT8:
		return NewLogicalType(TinyInt), nil
	case arrow.INT16:
		return NewLogicalType(SmallInt), nil
	case arrow.INT32:
		return NewLogicalType(Integer), nil
	case arrow.INT64:
		return NewLogicalType(BigInt), nil
	case arrow.FLOAT32:
		return NewLogicalType(Float), nil
	case arrow.FLOAT64:
		return NewLogicalType(Double), nil
	case arrow.STRING, arrow.LARGE_STRING:
		return NewLogicalType(Varchar), nil
	case arrow.BINARY, arrow.LARGE_BINARY:
		return NewLogicalType(Blob), nil
	case arrow.DATE32:
		return NewLogicalType(Date), nil
	case arrow.TIMESTAMP:
		return NewLogicalType(Timestamp), nil
	case arrow.DECIMAL128:
		d := dt.(*arrow.Decimal128Type)
		return NewDecimalType(uint8(d.Precision), uint8(d.Scale))
	case arrow.DICTIONARY:
		if dict := dt.(*arrow.DictionaryType); dict.ValueType.ID() == arrow.STRING {
			return NewLogicalType(Varchar), nil
		}
	}
	return LogicalType{}, fmt.Errorf("no logical type for arrow type %s", dt)
}

// Column is one declared output column.
type Column struct {
	Name string
	Type LogicalType
}

// columnsSchema builds the Arrow schema for a column list. All columns are
// nullable because providers may leave rows unset.
func columnsSchema(cols []Column) *arrow.Schema {
	fields := make([]arrow.Field, len(cols))
	for i, c := range cols {
		fields[i] = arrow.Field{Name: c.Name, Type: c.Type.ArrowType(), Nullable: true}
	}
	return arrow.NewSchema(fields, nil)
}
