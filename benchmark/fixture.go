// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Package benchmark holds throughput fixtures for the vtab scan path.
package benchmark

import (
	"strconv"

	"github.com/Query-farm/vgi-vtab/vtab"
)

// GenerateBind holds the requested row count.
type GenerateBind struct {
	Count int64
}

// GenerateState is the next row index of one scan.
type GenerateState struct {
	Current int64
}

// Generate produces Count rows of {i, value} where value = i * 10.
type Generate struct{}

func (Generate) Parameters() []vtab.LogicalType {
	return []vtab.LogicalType{vtab.NewLogicalType(vtab.BigInt)}
}

func (Generate) Bind(info *vtab.BindInfo) (*GenerateBind, error) {
	for _, name := range []string{"i", "value"} {
		if err := info.AddResultColumn(name, vtab.NewLogicalType(vtab.BigInt)); err != nil {
			return nil, err
		}
	}
	count, err := info.Parameter(0)
	if err != nil {
		return nil, err
	}
	n, err := count.Int64()
	if err != nil {
		return nil, err
	}
	return &GenerateBind{Count: n}, nil
}

func (Generate) Init(*vtab.InitInfo[GenerateBind]) (*GenerateState, error) {
	return &GenerateState{}, nil
}

func (Generate) Produce(info *vtab.FunctionInfo[GenerateBind, GenerateState], out *vtab.DataChunk) error {
	st, count := info.InitData(), info.BindData().Count
	iv, _ := out.Vector(0)
	vv, _ := out.Vector(1)
	n := 0
	for ; n < out.Capacity() && st.Current < count; n++ {
		if err := iv.SetInt64(n, st.Current); err != nil {
			return err
		}
		if err := vv.SetInt64(n, st.Current*10); err != nil {
			return err
		}
		st.Current++
	}
	return out.SetSize(n)
}

// Wide produces Count rows with a VARCHAR, a DOUBLE and a BOOLEAN column.
type Wide struct{}

func (Wide) Parameters() []vtab.LogicalType { return Generate{}.Parameters() }

func (Wide) Bind(info *vtab.BindInfo) (*GenerateBind, error) {
	cols := []vtab.Column{
		{Name: "label", Type: vtab.NewLogicalType(vtab.Varchar)},
		{Name: "score", Type: vtab.NewLogicalType(vtab.Double)},
		{Name: "even", Type: vtab.NewLogicalType(vtab.Boolean)},
	}
	for _, c := range cols {
		if err := info.AddResultColumn(c.Name, c.Type); err != nil {
			return nil, err
		}
	}
	count, err := info.Parameter(0)
	if err != nil {
		return nil, err
	}
	n, err := count.Int64()
	if err != nil {
		return nil, err
	}
	return &GenerateBind{Count: n}, nil
}

func (Wide) Init(*vtab.InitInfo[GenerateBind]) (*GenerateState, error) {
	return &GenerateState{}, nil
}

func (Wide) Produce(info *vtab.FunctionInfo[GenerateBind, GenerateState], out *vtab.DataChunk) error {
	st, count := info.InitData(), info.BindData().Count
	n := 0
	for ; n < out.Capacity() && st.Current < count; n++ {
		i := st.Current
		if err := out.SetValue(0, n, "row-"+strconv.FormatInt(i, 10)); err != nil {
			return err
		}
		if err := out.SetValue(1, n, float64(i)/3); err != nil {
			return err
		}
		if err := out.SetValue(2, n, i%2 == 0); err != nil {
			return err
		}
		st.Current++
	}
	return out.SetSize(n)
}

// RegisterFunctions registers the benchmark fixture functions on session.
func RegisterFunctions(session *vtab.Session) error {
	if err := vtab.Register[GenerateBind, GenerateState](session, "generate", Generate{}); err != nil {
		return err
	}
	return vtab.Register[GenerateBind, GenerateState](session, "wide", Wide{})
}
