// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Query-farm/vgi-vtab/vtab"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vtab.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, vtab.DefaultChunkCapacity, cfg.Session.ChunkCapacity)
	assert.Equal(t, "scan", cfg.Session.Teardown)
	assert.Equal(t, TransportStdio, cfg.Server.Transport)
	assert.Equal(t, vtab.DefaultHTTPPrefix, cfg.Server.Prefix)
	assert.Equal(t, 3, cfg.Server.ZstdLevel)
	assert.Equal(t, "/metrics", cfg.Telemetry.MetricsPath)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestLoadConfigFile(t *testing.T) {
	path := writeConfig(t, `
session:
  id: sess-1
  chunk_capacity: 512
  teardown: session
  client_log_level: warn
server:
  transport: http
  address: 127.0.0.1:9000
  debug_errors: true
telemetry:
  prometheus: true
log:
  level: debug
  format: json
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "sess-1", cfg.Session.ID)
	assert.Equal(t, 512, cfg.Session.ChunkCapacity)
	assert.Equal(t, TransportHTTP, cfg.Server.Transport)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Address)
	assert.True(t, cfg.Server.DebugErrors)
	assert.True(t, cfg.Telemetry.Prometheus)
	assert.Equal(t, "json", cfg.Log.Format)

	level, err := cfg.ClientLogLevel()
	require.NoError(t, err)
	assert.Equal(t, vtab.LogWarn, level)

	s := vtab.NewSession()
	defer s.Close()
	require.NoError(t, cfg.ApplySession(s))
	assert.Equal(t, "sess-1", s.ID())
	assert.Equal(t, 512, s.ChunkCapacity())
}

func TestLoadConfigEnvOverride(t *testing.T) {
	path := writeConfig(t, "server:\n  transport: http\n")
	t.Setenv("VTAB_SERVER_TRANSPORT", "unix")
	t.Setenv("VTAB_SERVER_ADDRESS", "/tmp/vtab.sock")
	t.Setenv("VTAB_SESSION_CHUNK_CAPACITY", "64")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, TransportUnix, cfg.Server.Transport)
	assert.Equal(t, "/tmp/vtab.sock", cfg.Server.Address)
	assert.Equal(t, 64, cfg.Session.ChunkCapacity)
}

func TestLoadConfigInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"transport", "server:\n  transport: carrier-pigeon\n"},
		{"teardown", "session:\n  teardown: never\n"},
		{"client level", "session:\n  client_log_level: loud\n"},
		{"log level", "log:\n  level: chatty\n"},
		{"log format", "log:\n  format: xml\n"},
		{"zstd", "server:\n  zstd_level: -1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.body))
			require.Error(t, err)
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
