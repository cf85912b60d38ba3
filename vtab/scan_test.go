// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package vtab

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bindSeq(t *testing.T, s *Session, c *counters, n int64) *BoundFunction {
	t.Helper()
	if _, ok := s.Lookup("seq"); !ok {
		require.NoError(t, Register[seqBind, seqInit](s, "seq", seq{c: c}))
	}
	bound, err := s.Bind(context.Background(), "seq", []Value{Int64Value(n)}, nil)
	require.NoError(t, err)
	return bound
}

func TestScanChunksAndEndOfStream(t *testing.T) {
	s := newTestSession(t)
	s.SetChunkCapacity(4)
	c := &counters{}
	bound := bindSeq(t, s, c, 10)
	defer bound.Close()

	sc, err := bound.NewScan(context.Background())
	require.NoError(t, err)
	defer sc.Close()
	assert.Equal(t, ScanNotStarted, sc.State())

	sizes, values := collect(t, sc)
	assert.Equal(t, []int{4, 4, 2}, sizes)
	assert.Equal(t, []int64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, values)
	assert.Equal(t, ScanExhausted, sc.State())
	assert.Equal(t, int32(4), c.produced.Load())

	// Produce is never called again after the zero-row chunk.
	for i := 0; i < 3; i++ {
		_, err := sc.NextChunk(context.Background())
		assert.ErrorIs(t, err, io.EOF)
	}
	assert.Equal(t, int32(4), c.produced.Load())

	st := sc.Stats()
	assert.Equal(t, int64(3), st.Chunks)
	assert.Equal(t, int64(10), st.Rows)
}

func TestScanWidensArguments(t *testing.T) {
	s := newTestSession(t)
	require.NoError(t, Register[seqBind, seqInit](s, "seq", seq{c: &counters{}}))
	bound, err := s.Bind(context.Background(), "seq", []Value{Int32Value(2)}, nil)
	require.NoError(t, err)
	defer bound.Close()

	sc, err := bound.NewScan(context.Background())
	require.NoError(t, err)
	defer sc.Close()
	_, values := collect(t, sc)
	assert.Equal(t, []int64{0, 1}, values)
}

func TestBindArgumentErrors(t *testing.T) {
	s := newTestSession(t)
	require.NoError(t, Register[seqBind, seqInit](s, "seq", seq{c: &counters{}}))
	ctx := context.Background()

	_, err := s.Bind(ctx, "seq", nil, nil)
	assert.ErrorIs(t, err, ErrArity)
	_, err = s.Bind(ctx, "seq", []Value{StringValue("3")}, nil)
	assert.ErrorIs(t, err, ErrParameterType)
	_, err = s.Bind(ctx, "seq", []Value{Int64Value(3)}, map[string]Value{"x": Int64Value(1)})
	assert.ErrorIs(t, err, ErrUnknownParameter)

	var verr *Error
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, PhaseBind, verr.Phase)
	assert.Equal(t, "seq", verr.Function)
}

func TestBindInfoOutsideBind(t *testing.T) {
	s := newTestSession(t)
	var kept *BindInfo
	require.NoError(t, Register[struct{}, struct{}](s, "f", fn{
		bind: func(info *BindInfo) (*struct{}, error) {
			kept = info
			_, err := info.Parameter(0)
			assert.ErrorIs(t, err, ErrParameterIndex)
			return nil, info.AddResultColumn("x", NewLogicalType(Integer))
		},
	}))
	bound, err := s.Bind(context.Background(), "f", nil, nil)
	require.NoError(t, err)
	defer bound.Close()

	assert.ErrorIs(t, kept.AddResultColumn("late", NewLogicalType(Integer)), ErrBindClosed)
	assert.Len(t, bound.Columns(), 1)
}

func TestBindRequiresColumns(t *testing.T) {
	s := newTestSession(t)
	require.NoError(t, Register[struct{}, struct{}](s, "f", fn{
		bind: func(*BindInfo) (*struct{}, error) { return nil, nil },
	}))
	_, err := s.Bind(context.Background(), "f", nil, nil)
	assert.ErrorIs(t, err, ErrNoColumns)
}

func TestBindRejectsDuplicateColumns(t *testing.T) {
	s := newTestSession(t)
	require.NoError(t, Register[struct{}, struct{}](s, "f", fn{
		bind: func(info *BindInfo) (*struct{}, error) {
			if err := info.AddResultColumn("x", NewLogicalType(Integer)); err != nil {
				return nil, err
			}
			return nil, info.AddResultColumn("x", NewLogicalType(Integer))
		},
	}))
	_, err := s.Bind(context.Background(), "f", nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "declared twice")
}

func TestProducePanicIsContained(t *testing.T) {
	s := newTestSession(t)
	require.NoError(t, Register[struct{}, struct{}](s, "boom", fn{
		produce: func(*FunctionInfo[struct{}, struct{}], *DataChunk) error {
			var m map[string]int
			m["x"] = 1
			return nil
		},
	}))
	bound, err := s.Bind(context.Background(), "boom", nil, nil)
	require.NoError(t, err)
	defer bound.Close()
	sc, err := bound.NewScan(context.Background())
	require.NoError(t, err)
	defer sc.Close()

	_, err = sc.NextChunk(context.Background())
	assert.ErrorIs(t, err, ErrProviderPanic)
	assert.Equal(t, ScanFailed, sc.State())

	// A failed scan stays failed.
	_, err2 := sc.NextChunk(context.Background())
	assert.Same(t, err, err2)
}

func TestProduceErrorDiscardsChunk(t *testing.T) {
	s := newTestSession(t)
	cause := errors.New("source went away")
	require.NoError(t, Register[struct{}, struct{}](s, "partial", fn{
		produce: func(_ *FunctionInfo[struct{}, struct{}], out *DataChunk) error {
			if err := out.SetValue(0, 0, int32(1)); err != nil {
				return err
			}
			if err := out.SetSize(1); err != nil {
				return err
			}
			return cause
		},
	}))
	bound, err := s.Bind(context.Background(), "partial", nil, nil)
	require.NoError(t, err)
	defer bound.Close()
	sc, err := bound.NewScan(context.Background())
	require.NoError(t, err)
	defer sc.Close()

	chunk, err := sc.NextChunk(context.Background())
	assert.Nil(t, chunk)
	assert.ErrorIs(t, err, cause)
	var verr *Error
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, PhaseProduce, verr.Phase)
	assert.Zero(t, sc.Stats().Rows)
}

func TestChunkNotWritableAfterProduce(t *testing.T) {
	s := newTestSession(t)
	var kept *DataChunk
	require.NoError(t, Register[struct{}, struct{}](s, "leak", fn{
		produce: func(_ *FunctionInfo[struct{}, struct{}], out *DataChunk) error {
			kept = out
			return out.SetSize(0)
		},
	}))
	bound, err := s.Bind(context.Background(), "leak", nil, nil)
	require.NoError(t, err)
	defer bound.Close()
	sc, err := bound.NewScan(context.Background())
	require.NoError(t, err)
	defer sc.Close()

	_, err = sc.NextChunk(context.Background())
	require.ErrorIs(t, err, io.EOF)
	assert.ErrorIs(t, kept.SetValue(0, 0, int32(1)), ErrChunkReleased)
}

func TestScanCancelledContext(t *testing.T) {
	s := newTestSession(t)
	bound := bindSeq(t, s, &counters{}, 10)
	defer bound.Close()
	sc, err := bound.NewScan(context.Background())
	require.NoError(t, err)
	defer sc.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = sc.NextChunk(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, ScanFailed, sc.State())
}

func TestScanClose(t *testing.T) {
	s := newTestSession(t)
	c := &counters{}
	bound := bindSeq(t, s, c, 10)
	sc, err := bound.NewScan(context.Background())
	require.NoError(t, err)

	require.NoError(t, sc.Close())
	require.NoError(t, sc.Close())
	assert.Equal(t, ScanClosed, sc.State())
	_, err = sc.NextChunk(context.Background())
	assert.ErrorIs(t, err, ErrScanClosed)
	assert.Equal(t, int32(1), c.initClosed.Load())

	require.NoError(t, bound.Close())
	assert.Equal(t, int32(1), c.bindClosed.Load())
	_, err = bound.NewScan(context.Background())
	assert.ErrorIs(t, err, ErrFunctionClosed)
}

func TestBindDataOutlivesClosedBoundFunction(t *testing.T) {
	s := newTestSession(t)
	c := &counters{}
	bound := bindSeq(t, s, c, 3)
	sc, err := bound.NewScan(context.Background())
	require.NoError(t, err)

	require.NoError(t, bound.Close())
	assert.Zero(t, c.bindClosed.Load())

	_, values := collect(t, sc)
	assert.Equal(t, []int64{0, 1, 2}, values)
	require.NoError(t, sc.Close())
	assert.Equal(t, int32(1), c.bindClosed.Load())
}

func TestScansShareBindDataOnly(t *testing.T) {
	s := newTestSession(t)
	c := &counters{}
	bound := bindSeq(t, s, c, 5)
	defer bound.Close()

	a, err := bound.NewScan(context.Background())
	require.NoError(t, err)
	defer a.Close()
	b, err := bound.NewScan(context.Background())
	require.NoError(t, err)
	defer b.Close()
	assert.NotEqual(t, a.ID(), b.ID())

	_, va := collect(t, a)
	_, vb := collect(t, b)
	assert.Equal(t, va, vb)
}

func TestProjection(t *testing.T) {
	s := newTestSession(t)
	var seen []int
	require.NoError(t, Register[struct{}, struct{}](s, "p", fn{
		bind: func(info *BindInfo) (*struct{}, error) {
			for _, name := range []string{"a", "b", "c"} {
				if err := info.AddResultColumn(name, NewLogicalType(Integer)); err != nil {
					return nil, err
				}
			}
			return nil, nil
		},
		init: func(info *InitInfo[struct{}]) (*struct{}, error) {
			seen = info.Projection()
			assert.Len(t, info.Columns(), 3)
			return nil, nil
		},
	}))
	bound, err := s.Bind(context.Background(), "p", nil, nil)
	require.NoError(t, err)
	defer bound.Close()

	sc, err := bound.NewScan(context.Background(), WithProjection(2, 0))
	require.NoError(t, err)
	require.NoError(t, sc.Close())
	assert.Equal(t, []int{2, 0}, seen)

	_, err = bound.NewScan(context.Background(), WithProjection(3))
	assert.Error(t, err)
	_, err = bound.NewScan(context.Background(), WithProjection(1, 1))
	assert.Error(t, err)
}

func TestInitFailureReleasesScan(t *testing.T) {
	s := newTestSession(t)
	require.NoError(t, Register[struct{}, struct{}](s, "f", fn{
		init: func(info *InitInfo[struct{}]) (*struct{}, error) {
			info.ClientLog(LogWarn, "giving up")
			return nil, errors.New("no init")
		},
	}))
	bound, err := s.Bind(context.Background(), "f", nil, nil)
	require.NoError(t, err)

	_, err = bound.NewScan(context.Background())
	var verr *Error
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, PhaseInit, verr.Phase)
	require.Len(t, verr.Logs, 1)
	assert.Equal(t, "giving up", verr.Logs[0].Message)

	// The failed scan does not keep the bound function open.
	require.NoError(t, bound.Close())
	bound.mu.Lock()
	assert.Zero(t, bound.open)
	assert.True(t, bound.released)
	bound.mu.Unlock()
}

type panickyData struct{}

func (*panickyData) Close() error { panic("close exploded") }

// panicky fails in the configured phase after returning data whose Close
// panics.
type panicky struct{ failInit bool }

func (panicky) Parameters() []LogicalType { return nil }

func (p panicky) Bind(info *BindInfo) (*panickyData, error) {
	if p.failInit {
		return &panickyData{}, info.AddResultColumn("x", NewLogicalType(Integer))
	}
	return &panickyData{}, errors.New("bind refused")
}

func (panicky) Init(*InitInfo[panickyData]) (*panickyData, error) {
	return &panickyData{}, errors.New("init refused")
}

func (panicky) Produce(*FunctionInfo[panickyData, panickyData], *DataChunk) error { return nil }

func TestFailedCallbackDataCloseIsContained(t *testing.T) {
	s := NewSession()
	require.NoError(t, Register[panickyData, panickyData](s, "bad_bind", panicky{}))
	require.NoError(t, Register[panickyData, panickyData](s, "bad_init", panicky{failInit: true}))

	var verr *Error
	require.NotPanics(t, func() {
		_, err := s.Bind(context.Background(), "bad_bind", nil, nil)
		require.ErrorAs(t, err, &verr)
	})
	assert.Equal(t, PhaseBind, verr.Phase)
	assert.Contains(t, verr.Error(), "bind refused")

	bound, err := s.Bind(context.Background(), "bad_init", nil, nil)
	require.NoError(t, err)
	require.NotPanics(t, func() {
		_, err := bound.NewScan(context.Background())
		require.ErrorAs(t, err, &verr)
	})
	assert.Equal(t, PhaseInit, verr.Phase)
	assert.Contains(t, verr.Error(), "init refused")
}

func TestClientLogLevels(t *testing.T) {
	s := newTestSession(t)
	require.NoError(t, Register[struct{}, struct{}](s, "logs", fn{
		bind: func(info *BindInfo) (*struct{}, error) {
			info.ClientLog(LogInfo, "bind info", KV{Key: "k", Value: "v"})
			info.ClientLog(LogDebug, "bind debug")
			return nil, info.AddResultColumn("x", NewLogicalType(Integer))
		},
		produce: func(info *FunctionInfo[struct{}, struct{}], out *DataChunk) error {
			info.ClientLog(LogError, "produce error")
			info.ClientLog(LogTrace, "produce trace")
			return out.SetSize(0)
		},
	}))
	ctx := WithLogLevel(context.Background(), LogInfo)
	bound, err := s.Bind(ctx, "logs", nil, nil)
	require.NoError(t, err)
	defer bound.Close()

	logs := bound.DrainLogs()
	require.Len(t, logs, 1)
	assert.Equal(t, LogMessage{Level: LogInfo, Message: "bind info", Extras: map[string]string{"k": "v"}}, logs[0])
	assert.Empty(t, bound.DrainLogs())

	sc, err := bound.NewScan(ctx)
	require.NoError(t, err)
	defer sc.Close()
	_, err = sc.NextChunk(ctx)
	require.ErrorIs(t, err, io.EOF)
	logs = sc.DrainLogs()
	require.Len(t, logs, 1)
	assert.Equal(t, "produce error", logs[0].Message)
}

func TestScanArrowBatches(t *testing.T) {
	s := newTestSession(t)
	s.SetChunkCapacity(3)
	bound := bindSeq(t, s, &counters{}, 5)
	defer bound.Close()
	sc, err := bound.NewScan(context.Background())
	require.NoError(t, err)
	defer sc.Close()

	var rows []int64
	for {
		batch, err := sc.Next(context.Background())
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		assert.True(t, batch.Schema().Equal(sc.Schema()))
		rows = append(rows, batch.NumRows())
		batch.Release()
	}
	assert.Equal(t, []int64{3, 2}, rows)
	assert.Positive(t, sc.Stats().Bytes)
}
