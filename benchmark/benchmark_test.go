// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package benchmark

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Query-farm/vgi-vtab/vtab"
)

func newSession(b *testing.B) *vtab.Session {
	b.Helper()
	s := vtab.NewSession()
	require.NoError(b, RegisterFunctions(s))
	b.Cleanup(func() { _ = s.Close() })
	return s
}

func scanAll(ctx context.Context, s *vtab.Session, name string, rows int64, arrow bool) (int64, error) {
	bound, err := s.Bind(ctx, name, []vtab.Value{vtab.Int64Value(rows)}, nil)
	if err != nil {
		return 0, err
	}
	defer bound.Close()
	scan, err := bound.NewScan(ctx)
	if err != nil {
		return 0, err
	}
	defer scan.Close()
	var total int64
	for {
		if arrow {
			batch, err := scan.Next(ctx)
			if err == io.EOF {
				return total, nil
			}
			if err != nil {
				return total, err
			}
			total += batch.NumRows()
			batch.Release()
			continue
		}
		chunk, err := scan.NextChunk(ctx)
		if err == io.EOF {
			return total, nil
		}
		if err != nil {
			return total, err
		}
		total += int64(chunk.Size())
	}
}

func TestGenerateRowCount(t *testing.T) {
	s := vtab.NewSession()
	defer s.Close()
	require.NoError(t, RegisterFunctions(s))

	for _, name := range []string{"generate", "wide"} {
		n, err := scanAll(context.Background(), s, name, 5000, true)
		require.NoError(t, err)
		require.Equal(t, int64(5000), n, name)
	}
}

func BenchmarkGenerateChunks(b *testing.B) {
	s := newSession(b)
	ctx := context.Background()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := scanAll(ctx, s, "generate", 100_000, false); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkGenerateArrow(b *testing.B) {
	s := newSession(b)
	ctx := context.Background()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := scanAll(ctx, s, "generate", 100_000, true); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkWideArrow(b *testing.B) {
	s := newSession(b)
	ctx := context.Background()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := scanAll(ctx, s, "wide", 100_000, true); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkServerRoundTrip(b *testing.B) {
	s := newSession(b)
	server := vtab.NewServer(s)

	var req bytes.Buffer
	require.NoError(b, vtab.WriteScanRequest(&req, &vtab.ScanRequest{
		Function: "generate",
		Args:     []vtab.Value{vtab.Int64Value(10_000)},
	}))
	payload := req.Bytes()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		var out bytes.Buffer
		server.Serve(bytes.NewReader(payload), &out)
		resp, err := vtab.ReadScanResponse(&out)
		if err != nil {
			b.Fatal(err)
		}
		if resp.NumRows() != 10_000 {
			b.Fatalf("rows = %d", resp.NumRows())
		}
		resp.Release()
	}
}
