// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package vtab

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type namedSeq struct{ seq }

func (namedSeq) NamedParameters() map[string]LogicalType {
	return map[string]LogicalType{"label": NewLogicalType(Varchar)}
}

func newTestServer(t *testing.T) (*Server, *Session) {
	t.Helper()
	s := newTestSession(t)
	s.SetChunkCapacity(4)
	require.NoError(t, Register[seqBind, seqInit](s, "seq", namedSeq{seq{c: &counters{}}}))
	require.NoError(t, Register[struct{}, struct{}](s, "noisy", fn{
		bind: func(info *BindInfo) (*struct{}, error) {
			info.ClientLog(LogInfo, "binding")
			return nil, info.AddResultColumn("x", NewLogicalType(Integer))
		},
		produce: func(info *FunctionInfo[struct{}, struct{}], out *DataChunk) error {
			info.ClientLog(LogWarn, "producing")
			return errors.New("produce exploded")
		},
	}))
	require.NoError(t, Register[struct{}, struct{}](s, "badinit", fn{
		init: func(*InitInfo[struct{}]) (*struct{}, error) { return nil, errors.New("init exploded") },
	}))
	srv := NewServer(s)
	srv.SetServerID("srv-1")
	return srv, s
}

func roundTrip(t *testing.T, srv *Server, req *ScanRequest) (*ScanResponse, error) {
	t.Helper()
	var in, out bytes.Buffer
	require.NoError(t, WriteScanRequest(&in, req))
	srv.Serve(&in, &out)
	return ReadScanResponse(&out)
}

func TestRequestRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	req := &ScanRequest{
		Function:   "seq",
		RequestID:  "req-1",
		LogLevel:   LogDebug,
		Args:       []Value{Int64Value(3), Null(NewLogicalType(Varchar))},
		Named:      map[string]Value{"label": StringValue("x")},
		Projection: []int{0},
	}
	require.NoError(t, WriteScanRequest(&buf, req))

	got, err := ReadRequest(&buf)
	require.NoError(t, err)
	assert.Equal(t, "seq", got.Function)
	assert.Equal(t, ProtocolVersion, got.Version)
	assert.Equal(t, "req-1", got.RequestID)
	assert.Equal(t, LogDebug, got.LogLevel)
	assert.Equal(t, []int{0}, got.Projection)
	require.Len(t, got.Args, 2)
	assert.Equal(t, int64(3), got.Args[0].Any())
	assert.True(t, got.Args[1].IsNull())
	assert.Equal(t, "x", got.Named["label"].String())
}

func TestReadRequestRejectsMalformed(t *testing.T) {
	write := func(meta map[string]string, rows int64) *bytes.Buffer {
		schema := arrow.NewSchema([]arrow.Field{{Name: "a", Type: arrow.PrimitiveTypes.Int64}}, nil)
		b := array.NewInt64Builder(memory.DefaultAllocator)
		defer b.Release()
		for i := int64(0); i < rows; i++ {
			b.Append(i)
		}
		col := b.NewArray()
		defer col.Release()
		batch := array.NewRecordBatchWithMetadata(schema, []arrow.Array{col}, rows, arrow.MetadataFrom(meta))
		defer batch.Release()
		var buf bytes.Buffer
		w := ipc.NewWriter(&buf, ipc.WithSchema(schema))
		require.NoError(t, w.Write(batch))
		require.NoError(t, w.Close())
		return &buf
	}

	tests := []struct {
		name string
		meta map[string]string
		rows int64
		typ  string
	}{
		{"missing function", map[string]string{MetaRequestVersion: "1"}, 1, "ProtocolError"},
		{"missing version", map[string]string{MetaFunction: "seq"}, 1, "VersionError"},
		{"bad version", map[string]string{MetaFunction: "seq", MetaRequestVersion: "9"}, 1, "VersionError"},
		{"two rows", map[string]string{MetaFunction: "seq", MetaRequestVersion: "1"}, 2, "ProtocolError"},
		{"bad projection", map[string]string{MetaFunction: "seq", MetaRequestVersion: "1", MetaProjection: "a,b"}, 1, "ProtocolError"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadRequest(write(tt.meta, tt.rows))
			var perr *ProtocolError
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, tt.typ, perr.Type)
		})
	}
}

func TestServeScan(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := roundTrip(t, srv, &ScanRequest{Function: "seq", Args: []Value{Int64Value(10)}})
	require.NoError(t, err)
	defer resp.Release()

	assert.Equal(t, int64(10), resp.NumRows())
	require.Len(t, resp.Batches, 3)
	assert.Equal(t, "n", resp.Schema.Field(0).Name)
	assert.Empty(t, resp.Logs)
	assert.NotEmpty(t, resp.Metadata[MetaScanID])
	assert.Equal(t, "srv-1", resp.Metadata[MetaServerID])
}

func TestServeManyRequestsOnOneStream(t *testing.T) {
	srv, _ := newTestServer(t)
	var in, out bytes.Buffer
	for _, n := range []int64{1, 2, 3} {
		require.NoError(t, WriteScanRequest(&in, &ScanRequest{Function: "seq", Args: []Value{Int64Value(n)}}))
	}
	srv.Serve(&in, &out)
	for _, n := range []int64{1, 2, 3} {
		resp, err := ReadScanResponse(&out)
		require.NoError(t, err)
		assert.Equal(t, n, resp.NumRows())
		resp.Release()
	}
}

func TestServeBindError(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := roundTrip(t, srv, &ScanRequest{Function: "seq", Args: []Value{StringValue("ten")}})
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "BindError", remote.Type)
	assert.Contains(t, remote.Message, "cannot cast VARCHAR to BIGINT")
	assert.Equal(t, 0, resp.Schema.NumFields())

	_, err = roundTrip(t, srv, &ScanRequest{Function: "missing"})
	require.ErrorAs(t, err, &remote)
	assert.Contains(t, remote.Message, "unknown table function")
}

func TestServeInitErrorUsesBoundSchema(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := roundTrip(t, srv, &ScanRequest{Function: "badinit"})
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "InitError", remote.Type)
	assert.Equal(t, "x", resp.Schema.Field(0).Name)
}

func TestServeProduceErrorAfterLogs(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := roundTrip(t, srv, &ScanRequest{Function: "noisy", RequestID: "r"})
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "ProduceError", remote.Type)
	assert.Contains(t, remote.Message, "produce exploded")

	require.Len(t, resp.Logs, 2)
	assert.Equal(t, "binding", resp.Logs[0].Message)
	assert.Equal(t, LogWarn, resp.Logs[1].Level)
}

func TestServeRequestLogLevel(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, _ := roundTrip(t, srv, &ScanRequest{Function: "noisy", LogLevel: LogWarn})
	require.Len(t, resp.Logs, 1)
	assert.Equal(t, "producing", resp.Logs[0].Message)
}

func TestServeDescribe(t *testing.T) {
	srv, s := newTestServer(t)
	resp, err := roundTrip(t, srv, &ScanRequest{Function: DescribeFunction})
	require.NoError(t, err)
	defer resp.Release()

	assert.Equal(t, int64(3), resp.NumRows())
	assert.Equal(t, "GoVtabServer", resp.Metadata[MetaProtocolName])
	assert.Equal(t, "srv-1", resp.Metadata[MetaServerID])
	assert.Equal(t, s.ID(), resp.Metadata[MetaSessionID])

	names := resp.Batches[0].Column(0).(*array.String)
	assert.Equal(t, "badinit", names.Value(0))
	assert.Equal(t, "seq", names.Value(2))

	named := resp.Batches[0].Column(2).(*array.String)
	assert.True(t, named.IsNull(0))
	assert.JSONEq(t, `{"label":"VARCHAR"}`, named.Value(2))

	schemaBytes := resp.Batches[0].Column(3).(*array.Binary).Value(2)
	r, err := ipc.NewReader(bytes.NewReader(schemaBytes))
	require.NoError(t, err)
	defer r.Release()
	assert.Equal(t, 2, r.Schema().NumFields())
	v, _ := r.Schema().Field(1).Metadata.GetValue(MetaNamed)
	assert.Equal(t, "true", v)
}

func TestServeProtocolError(t *testing.T) {
	srv, _ := newTestServer(t)
	schema := arrow.NewSchema(nil, nil)
	var in, out bytes.Buffer
	w := ipc.NewWriter(&in, ipc.WithSchema(schema))
	batch := array.NewRecordBatch(schema, nil, 0)
	require.NoError(t, w.Write(batch))
	batch.Release()
	require.NoError(t, w.Close())

	srv.Serve(&in, &out)
	_, err := ReadScanResponse(&out)
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "ProtocolError", remote.Type)
}

func TestServeStopsOnCancelledContext(t *testing.T) {
	srv, _ := newTestServer(t)
	var in, out bytes.Buffer
	require.NoError(t, WriteScanRequest(&in, &ScanRequest{Function: "seq", Args: []Value{Int64Value(1)}}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	srv.ServeWithContext(ctx, &in, &out)
	assert.Zero(t, out.Len())
}

func TestServeRequestContext(t *testing.T) {
	s := newTestSession(t)
	var got RequestInfo
	require.NoError(t, Register[struct{}, struct{}](s, "whoami", fn{
		bind: func(info *BindInfo) (*struct{}, error) {
			got, _ = RequestFromContext(info.Context())
			return nil, info.AddResultColumn("x", NewLogicalType(Integer))
		},
	}))
	srv := NewServer(s)
	srv.SetServerID("srv-2")

	resp, err := roundTrip(t, srv, &ScanRequest{Function: "whoami", RequestID: "req-9"})
	require.NoError(t, err)
	resp.Release()
	assert.Equal(t, "req-9", got.RequestID)
	assert.Equal(t, "srv-2", got.ServerID)
	assert.Equal(t, "whoami", got.Metadata[MetaFunction])

	_, ok := RequestFromContext(context.Background())
	assert.False(t, ok)
}
