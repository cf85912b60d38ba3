// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/Query-farm/vgi-vtab/vtab"
)

type queryCommand struct {
	Named    map[string]string `short:"n" long:"named" description:"named argument as name:value"`
	Limit    int               `short:"l" long:"limit" default:"100" description:"maximum rows to print (0 prints all)"`
	LogLevel string            `long:"client-log-level" description:"lowest provider log level to show"`

	Args struct {
		Function string   `positional-arg-name:"function" required:"yes"`
		Values   []string `positional-arg-name:"args"`
	} `positional-args:"yes"`
}

func (c *queryCommand) Execute([]string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	rt, err := newRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.close(context.Background())

	ctx := context.Background()
	if c.LogLevel != "" {
		ctx = vtab.WithLogLevel(ctx, vtab.LogLevel(strings.ToUpper(c.LogLevel)))
	}
	return runQuery(ctx, stdout, rt.session, c.Args.Function, c.Args.Values, c.Named, c.Limit)
}

// parseArgs converts command-line literals using the function's declared
// parameter types.
func parseArgs(fn vtab.Function, values []string, named map[string]string) ([]vtab.Value, map[string]vtab.Value, error) {
	if len(values) != len(fn.Parameters) {
		return nil, nil, fmt.Errorf("%s expects %d arguments, got %d", fn.Name, len(fn.Parameters), len(values))
	}
	args := make([]vtab.Value, len(values))
	for i, s := range values {
		v, err := vtab.ParseValue(fn.Parameters[i], s)
		if err != nil {
			return nil, nil, fmt.Errorf("argument %d: %w", i, err)
		}
		args[i] = v
	}
	var out map[string]vtab.Value
	for name, s := range named {
		t, ok := fn.NamedParameters[name]
		if !ok {
			return nil, nil, fmt.Errorf("%s has no named parameter %q", fn.Name, name)
		}
		v, err := vtab.ParseValue(t, s)
		if err != nil {
			return nil, nil, fmt.Errorf("named argument %s: %w", name, err)
		}
		if out == nil {
			out = make(map[string]vtab.Value, len(named))
		}
		out[name] = v
	}
	return args, out, nil
}

// runQuery binds and scans one function, rendering rows and provider logs
// as tables on w.
func runQuery(ctx context.Context, w io.Writer, s *vtab.Session, name string, values []string, named map[string]string, limit int) error {
	fn, ok := s.Lookup(name)
	if !ok {
		return fmt.Errorf("unknown table function %q", name)
	}
	args, namedArgs, err := parseArgs(fn, values, named)
	if err != nil {
		return err
	}

	var logs []vtab.LogMessage
	defer func() { renderLogs(w, logs) }()

	bound, err := s.Bind(ctx, name, args, namedArgs)
	if err != nil {
		var verr *vtab.Error
		if errors.As(err, &verr) {
			logs = append(logs, verr.Logs...)
		}
		return err
	}
	defer bound.Close()
	logs = append(logs, bound.DrainLogs()...)

	scan, err := bound.NewScan(ctx)
	if err != nil {
		var verr *vtab.Error
		if errors.As(err, &verr) {
			logs = append(logs, verr.Logs...)
		}
		return err
	}
	defer scan.Close()

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.Style().Format.Header = text.FormatDefault
	t.Style().Format.Footer = text.FormatDefault
	header := table.Row{}
	for _, col := range bound.Columns() {
		header = append(header, fmt.Sprintf("%s\n%s", col.Name, col.Type))
	}
	t.AppendHeader(header)

	printed, total := 0, 0
	for {
		chunk, err := scan.NextChunk(ctx)
		logs = append(logs, scan.DrainLogs()...)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Render()
			return err
		}
		for row := 0; row < chunk.Size(); row++ {
			total++
			if limit > 0 && printed >= limit {
				continue
			}
			r := make(table.Row, chunk.ColumnCount())
			for col := range r {
				v, err := chunk.Value(col, row)
				if err != nil {
					return err
				}
				r[col] = v.String()
			}
			t.AppendRow(r)
			printed++
		}
	}
	t.AppendFooter(table.Row{fmt.Sprintf("%d rows", total)})
	t.Render()
	return nil
}

func renderLogs(w io.Writer, logs []vtab.LogMessage) {
	if len(logs) == 0 {
		return
	}
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.Style().Format.Header = text.FormatDefault
	t.Style().Format.Footer = text.FormatDefault
	t.AppendHeader(table.Row{"level", "message", "extras"})
	for _, m := range logs {
		t.AppendRow(table.Row{m.Level, m.Message, formatExtras(m.Extras)})
	}
	t.Render()
}

func formatExtras(extras map[string]string) string {
	keys := make([]string, 0, len(extras))
	for k := range extras {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + extras[k]
	}
	return strings.Join(parts, " ")
}

type describeCommand struct{}

func (describeCommand) Execute([]string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	rt, err := newRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.close(context.Background())
	renderFunctions(stdout, rt.session.Functions())
	return nil
}

func renderFunctions(w io.Writer, fns []vtab.Function) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.Style().Format.Header = text.FormatDefault
	t.Style().Format.Footer = text.FormatDefault
	t.AppendHeader(table.Row{"function", "parameters", "named parameters"})
	for _, fn := range fns {
		params := make([]string, len(fn.Parameters))
		for i, p := range fn.Parameters {
			params[i] = p.String()
		}
		names := make([]string, 0, len(fn.NamedParameters))
		for name := range fn.NamedParameters {
			names = append(names, name)
		}
		sort.Strings(names)
		for i, name := range names {
			names[i] = name + " " + fn.NamedParameters[name].String()
		}
		t.AppendRow(table.Row{fn.Name, strings.Join(params, ", "), strings.Join(names, ", ")})
	}
	t.Render()
}
