// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package vtab

import (
	"context"
	"io"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

// counters observes the life cycle of seq bind and init data.
type counters struct {
	bindClosed atomic.Int32
	initClosed atomic.Int32
	produced   atomic.Int32
}

type seqBind struct {
	n int64
	c *counters
}

func (b *seqBind) Close() error {
	b.c.bindClosed.Add(1)
	return nil
}

type seqInit struct {
	next int64
	c    *counters
}

func (i *seqInit) Close() error {
	i.c.initClosed.Add(1)
	return nil
}

// seq(n BIGINT) emits 0..n-1 in column "n", filling chunks to capacity.
type seq struct {
	c *counters
}

func (seq) Parameters() []LogicalType { return []LogicalType{NewLogicalType(BigInt)} }

func (p seq) Bind(info *BindInfo) (*seqBind, error) {
	if err := info.AddResultColumn("n", NewLogicalType(BigInt)); err != nil {
		return nil, err
	}
	v, err := info.Parameter(0)
	if err != nil {
		return nil, err
	}
	n, err := v.Int64()
	if err != nil {
		return nil, err
	}
	return &seqBind{n: n, c: p.c}, nil
}

func (p seq) Init(info *InitInfo[seqBind]) (*seqInit, error) {
	return &seqInit{c: p.c}, nil
}

func (p seq) Produce(info *FunctionInfo[seqBind, seqInit], out *DataChunk) error {
	p.c.produced.Add(1)
	st := info.InitData()
	n := 0
	for ; n < out.Capacity() && st.next < info.BindData().n; n++ {
		if err := out.SetValue(0, n, st.next); err != nil {
			return err
		}
		st.next++
	}
	return out.SetSize(n)
}

// fn is a provider assembled from closures. Nil callbacks declare a single
// INTEGER column "x", return empty data and end the stream immediately.
type fn struct {
	params  []LogicalType
	bind    func(*BindInfo) (*struct{}, error)
	init    func(*InitInfo[struct{}]) (*struct{}, error)
	produce func(*FunctionInfo[struct{}, struct{}], *DataChunk) error
}

func (f fn) Parameters() []LogicalType { return f.params }

func (f fn) Bind(info *BindInfo) (*struct{}, error) {
	if f.bind != nil {
		return f.bind(info)
	}
	return nil, info.AddResultColumn("x", NewLogicalType(Integer))
}

func (f fn) Init(info *InitInfo[struct{}]) (*struct{}, error) {
	if f.init != nil {
		return f.init(info)
	}
	return nil, nil
}

func (f fn) Produce(info *FunctionInfo[struct{}, struct{}], out *DataChunk) error {
	if f.produce != nil {
		return f.produce(info, out)
	}
	return out.SetSize(0)
}

func newTestSession(t *testing.T) *Session {
	t.Helper()
	s := NewSession()
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// collect drains a scan with NextChunk and returns column 0 as int64s.
func collect(t *testing.T, sc *Scan) (sizes []int, values []int64) {
	t.Helper()
	ctx := context.Background()
	for {
		chunk, err := sc.NextChunk(ctx)
		if err == io.EOF {
			return sizes, values
		}
		require.NoError(t, err)
		sizes = append(sizes, chunk.Size())
		for row := 0; row < chunk.Size(); row++ {
			v, err := chunk.Value(0, row)
			require.NoError(t, err)
			n, err := v.Int64()
			require.NoError(t, err)
			values = append(values, n)
		}
	}
}
