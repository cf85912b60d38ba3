// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package vtab

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strconv"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

var describeSchema = arrow.NewSchema([]arrow.Field{
	{Name: "name", Type: arrow.BinaryTypes.String},
	{Name: "parameter_types_json", Type: arrow.BinaryTypes.String},
	{Name: "named_parameter_types_json", Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: "params_schema_ipc", Type: arrow.BinaryTypes.Binary},
}, nil)

// Describe metadata keys.
const (
	MetaProtocolName    = "vtab.protocol_name"
	MetaDescribeVersion = "vtab.describe_version"
	DescribeVersion     = "1"
)

// ParamsSchema returns the Arrow schema of a request calling fn: one field
// per positional parameter named arg0, arg1, ..., then one field per named
// parameter in name order marked with MetaNamed.
func (fn Function) ParamsSchema() *arrow.Schema {
	fields := make([]arrow.Field, 0, len(fn.Parameters)+len(fn.NamedParameters))
	for i, t := range fn.Parameters {
		fields = append(fields, arrow.Field{Name: "arg" + strconv.Itoa(i), Type: t.ArrowType(), Nullable: true})
	}
	for _, k := range sortedKeys(fn.NamedParameters) {
		fields = append(fields, arrow.Field{
			Name:     k,
			Type:     fn.NamedParameters[k].ArrowType(),
			Nullable: true,
			Metadata: arrow.NewMetadata([]string{MetaNamed}, []string{"true"}),
		})
	}
	return arrow.NewSchema(fields, nil)
}

// serializeSchema serializes an Arrow schema to IPC format bytes.
func serializeSchema(schema *arrow.Schema) []byte {
	var buf bytes.Buffer
	w := ipc.NewWriter(&buf, ipc.WithSchema(schema))
	w.Close()
	return buf.Bytes()
}

// Describe builds the catalog batch: one row per registered function with
// its parameter types. The caller owns the batch.
func (s *Session) Describe() (arrow.RecordBatch, arrow.Metadata) {
	mem := memory.NewGoAllocator()
	functions := s.Functions()

	nameBuilder := array.NewStringBuilder(mem)
	defer nameBuilder.Release()

	paramTypesBuilder := array.NewStringBuilder(mem)
	defer paramTypesBuilder.Release()

	namedTypesBuilder := array.NewStringBuilder(mem)
	defer namedTypesBuilder.Release()

	paramsSchemaBuilder := array.NewBinaryBuilder(mem, arrow.BinaryTypes.Binary)
	defer paramsSchemaBuilder.Release()

	for _, fn := range functions {
		nameBuilder.Append(fn.Name)

		types := make([]string, len(fn.Parameters))
		for i, t := range fn.Parameters {
			types[i] = t.String()
		}
		ptJSON, err := json.Marshal(types)
		if err != nil {
			slog.Error("vtab: failed to marshal parameter types", "function", fn.Name, "err", err)
			ptJSON = []byte("[]")
		}
		paramTypesBuilder.Append(string(ptJSON))

		if len(fn.NamedParameters) > 0 {
			named := make(map[string]string, len(fn.NamedParameters))
			for k, t := range fn.NamedParameters {
				named[k] = t.String()
			}
			ntJSON, err := json.Marshal(named)
			if err != nil {
				slog.Error("vtab: failed to marshal named parameter types", "function", fn.Name, "err", err)
				namedTypesBuilder.AppendNull()
			} else {
				namedTypesBuilder.Append(string(ntJSON))
			}
		} else {
			namedTypesBuilder.AppendNull()
		}

		paramsSchemaBuilder.Append(serializeSchema(fn.ParamsSchema()))
	}

	cols := []arrow.Array{
		nameBuilder.NewArray(),
		paramTypesBuilder.NewArray(),
		namedTypesBuilder.NewArray(),
		paramsSchemaBuilder.NewArray(),
	}
	for _, c := range cols {
		defer c.Release()
	}
	batch := array.NewRecordBatch(describeSchema, cols, int64(len(functions)))

	keys := []string{MetaProtocolName, MetaRequestVersion, MetaDescribeVersion, MetaSessionID}
	vals := []string{"GoVtabServer", ProtocolVersion, DescribeVersion, s.ID()}
	return batch, arrow.NewMetadata(keys, vals)
}
