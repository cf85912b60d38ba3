// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Query-farm/vgi-vtab/internal/config"
	"github.com/Query-farm/vgi-vtab/vtab"
	vtabprom "github.com/Query-farm/vgi-vtab/vtab/prom"
)

type serveCommand struct {
	Transport   string `short:"t" long:"transport" choice:"stdio" choice:"unix" choice:"http" description:"transport"`
	Address     string `short:"a" long:"address" description:"unix socket path or HTTP listen address"`
	Prefix      string `long:"prefix" description:"HTTP URL prefix"`
	ServerID    string `long:"server-id" description:"server identifier sent in response metadata"`
	DebugErrors bool   `long:"debug-errors" description:"include stack frames in error responses"`
	Prometheus  bool   `long:"prometheus" description:"expose Prometheus metrics (HTTP transport)"`
	OtelStdout  bool   `long:"otel-stdout" description:"export OpenTelemetry traces and metrics to stderr"`
}

func (c *serveCommand) Execute([]string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	c.override(cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	rt, err := newRuntime(cfg)
	if err != nil {
		return err
	}
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	server := vtab.NewServer(rt.session)
	server.SetDebugErrors(cfg.Server.DebugErrors)
	if cfg.Server.ServerID != "" {
		server.SetServerID(cfg.Server.ServerID)
	}

	switch cfg.Server.Transport {
	case config.TransportUnix:
		err = serveUnix(ctx, server, cfg.Server.Address)
	case config.TransportHTTP:
		err = serveHTTP(ctx, server, rt, cfg)
	default:
		server.RunStdio()
	}

	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	if cerr := rt.close(shutdownCtx); cerr != nil {
		slog.Warn("session close", "err", cerr)
	}
	return err
}

func (c *serveCommand) override(cfg *config.Config) {
	if c.Transport != "" {
		cfg.Server.Transport = c.Transport
	}
	if c.Address != "" {
		cfg.Server.Address = c.Address
	}
	if c.Prefix != "" {
		cfg.Server.Prefix = c.Prefix
	}
	if c.ServerID != "" {
		cfg.Server.ServerID = c.ServerID
	}
	if c.DebugErrors {
		cfg.Server.DebugErrors = true
	}
	if c.Prometheus {
		cfg.Telemetry.Prometheus = true
	}
	if c.OtelStdout {
		cfg.Telemetry.OtelStdout = true
	}
}

// serveUnix accepts connections on a unix socket and serves each one on
// its own goroutine until ctx is done.
func serveUnix(ctx context.Context, server *vtab.Server, path string) error {
	_ = os.Remove(path)
	listener, err := net.Listen("unix", path)
	if err != nil {
		return fmt.Errorf("listen on unix socket: %w", err)
	}
	defer os.Remove(path)
	fmt.Fprintf(stdout, "UNIX:%s\n", path)
	slog.Info("serving", "transport", "unix", "path", path, "session", server.Session().ID())

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer conn.Close()
			server.ServeWithContext(ctx, conn, conn)
		}()
	}
}

// httpHandler mounts the vtab HTTP server and, when enabled, the metrics
// endpoint.
func httpHandler(server *vtab.Server, rt *runtime, cfg *config.Config) http.Handler {
	h := vtab.NewHttpServer(server)
	h.SetPrefix(cfg.Server.Prefix)
	h.SetTitle(cfg.Server.Title)
	h.SetCompressionLevel(cfg.Server.ZstdLevel)
	if rt.registry == nil {
		return h
	}
	mux := http.NewServeMux()
	mux.Handle(cfg.Telemetry.MetricsPath, vtabprom.Handler(rt.registry))
	mux.Handle("/", h)
	return mux
}

func serveHTTP(ctx context.Context, server *vtab.Server, rt *runtime, cfg *config.Config) error {
	listener, err := net.Listen("tcp", cfg.Server.Address)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	fmt.Fprintf(stdout, "PORT:%d\n", listener.Addr().(*net.TCPAddr).Port)
	slog.Info("serving", "transport", "http", "addr", listener.Addr().String(),
		"prefix", cfg.Server.Prefix, "session", server.Session().ID())

	srv := &http.Server{Handler: httpHandler(server, rt, cfg), ReadHeaderTimeout: 10 * time.Second}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
