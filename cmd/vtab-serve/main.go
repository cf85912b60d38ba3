// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Command vtab-serve hosts the bundled table function extensions over
// stdio, a unix socket or HTTP, and can run them locally for inspection.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/jessevdk/go-flags"

	"github.com/Query-farm/vgi-vtab/internal/config"
)

type options struct {
	Config    string `short:"c" long:"config" env:"VTAB_CONFIG" description:"YAML config file"`
	LogLevel  string `long:"log-level" description:"process log level (debug, info, warn, error)"`
	LogFormat string `long:"log-format" choice:"text" choice:"json" description:"process log format"`
	SessionID string `long:"session-id" description:"session identifier"`
	Teardown  string `long:"teardown" choice:"scan" choice:"session" description:"bind/init data teardown policy"`
	Capacity  int    `long:"chunk-capacity" description:"rows per chunk"`

	Serve    serveCommand    `command:"serve" description:"serve the loaded extensions"`
	Query    queryCommand    `command:"query" description:"run one table function and print its rows"`
	Describe describeCommand `command:"describe" description:"list the registered table functions"`
	Bench    benchCommand    `command:"bench" description:"measure scan throughput"`
}

var (
	opts   options
	stdout io.Writer = os.Stdout
)

var revision = "latest"

func main() {
	p := flags.NewParser(&opts, flags.Default)
	p.LongDescription = "vtab-serve " + revision
	if _, err := p.Parse(); err != nil {
		if fe, ok := err.(*flags.Error); ok && fe.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}
}

// loadConfig reads the config file and applies the global flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(opts.Config)
	if err != nil {
		return nil, err
	}
	if opts.LogLevel != "" {
		cfg.Log.Level = opts.LogLevel
	}
	if opts.LogFormat != "" {
		cfg.Log.Format = opts.LogFormat
	}
	if opts.SessionID != "" {
		cfg.Session.ID = opts.SessionID
	}
	if opts.Teardown != "" {
		cfg.Session.Teardown = opts.Teardown
	}
	if opts.Capacity > 0 {
		cfg.Session.ChunkCapacity = opts.Capacity
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := setupLog(cfg, os.Stderr); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setupLog installs the default slog handler. Logs go to w so stdout stays
// free for the IPC stream.
func setupLog(cfg *config.Config, w io.Writer) error {
	level, err := cfg.SlogLevel()
	if err != nil {
		return err
	}
	hopts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	switch cfg.Log.Format {
	case "json":
		h = slog.NewJSONHandler(w, hopts)
	case "text":
		h = slog.NewTextHandler(w, hopts)
	default:
		return fmt.Errorf("unknown log format %q", cfg.Log.Format)
	}
	slog.SetDefault(slog.New(h))
	return nil
}
