// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"golang.org/x/sync/errgroup"

	"github.com/Query-farm/vgi-vtab/vtab"
)

type benchCommand struct {
	Function    string `short:"f" long:"function" default:"generate" choice:"generate" choice:"wide" description:"fixture function"`
	Rows        int64  `short:"r" long:"rows" default:"1000000" description:"rows per scan"`
	Scans       int    `short:"s" long:"scans" default:"8" description:"total scans"`
	Concurrency int    `short:"j" long:"concurrency" default:"4" description:"scans run at once"`
	Arrow       bool   `long:"arrow" description:"convert every chunk to an Arrow record batch"`
}

func (c *benchCommand) Execute([]string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	rt, err := newRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.close(context.Background())

	res, err := runBench(context.Background(), rt.session, *c)
	if err != nil {
		return err
	}
	renderBench(stdout, *c, res)
	return nil
}

type benchResult struct {
	Rows    int64
	Chunks  int64
	Bytes   int64
	Elapsed time.Duration
}

// runBench runs c.Scans scans of the fixture with at most c.Concurrency in
// flight. The bound function is shared by every scan.
func runBench(ctx context.Context, s *vtab.Session, c benchCommand) (benchResult, error) {
	bound, err := s.Bind(ctx, c.Function, []vtab.Value{vtab.Int64Value(c.Rows)}, nil)
	if err != nil {
		return benchResult{}, err
	}
	defer bound.Close()

	var rows, chunks, bytes atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(c.Concurrency, 1))
	start := time.Now()
	for i := 0; i < c.Scans; i++ {
		g.Go(func() error {
			scan, err := bound.NewScan(gctx)
			if err != nil {
				return err
			}
			defer scan.Close()
			if err := drain(gctx, scan, c.Arrow); err != nil {
				return err
			}
			st := scan.Stats()
			rows.Add(st.Rows)
			chunks.Add(st.Chunks)
			bytes.Add(st.Bytes)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return benchResult{}, err
	}
	return benchResult{
		Rows:    rows.Load(),
		Chunks:  chunks.Load(),
		Bytes:   bytes.Load(),
		Elapsed: time.Since(start),
	}, nil
}

func drain(ctx context.Context, scan *vtab.Scan, toArrow bool) error {
	for {
		var err error
		if toArrow {
			batch, nerr := scan.Next(ctx)
			if nerr == nil {
				batch.Release()
			}
			err = nerr
		} else {
			_, err = scan.NextChunk(ctx)
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func renderBench(w io.Writer, c benchCommand, r benchResult) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.Style().Format.Header = text.FormatDefault
	t.Style().Format.Footer = text.FormatDefault
	t.AppendHeader(table.Row{"function", "scans", "rows", "chunks", "arrow bytes", "elapsed", "rows/s"})
	rate := 0.0
	if secs := r.Elapsed.Seconds(); secs > 0 {
		rate = float64(r.Rows) / secs
	}
	t.AppendRow(table.Row{c.Function, c.Scans, r.Rows, r.Chunks, r.Bytes, r.Elapsed.Round(time.Millisecond), fmt.Sprintf("%.0f", rate)})
	t.Render()
}
