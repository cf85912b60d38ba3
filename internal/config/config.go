// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Package config loads vtab-serve settings from YAML and VTAB_* environment
// variables.
package config

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/viper"

	"github.com/Query-farm/vgi-vtab/vtab"
)

// EnvPrefix prefixes every environment override, e.g. VTAB_SERVER_ADDRESS.
const EnvPrefix = "VTAB"

// Transports accepted by Server.Transport.
const (
	TransportStdio = "stdio"
	TransportUnix  = "unix"
	TransportHTTP  = "http"
)

type Config struct {
	Session struct {
		ID             string `mapstructure:"id"`
		ChunkCapacity  int    `mapstructure:"chunk_capacity"`
		Teardown       string `mapstructure:"teardown"`
		ClientLogLevel string `mapstructure:"client_log_level"`
	} `mapstructure:"session"`

	Server struct {
		Transport   string `mapstructure:"transport"`
		Address     string `mapstructure:"address"`
		Prefix      string `mapstructure:"prefix"`
		Title       string `mapstructure:"title"`
		ServerID    string `mapstructure:"server_id"`
		ZstdLevel   int    `mapstructure:"zstd_level"`
		DebugErrors bool   `mapstructure:"debug_errors"`
	} `mapstructure:"server"`

	Telemetry struct {
		OtelStdout  bool   `mapstructure:"otel_stdout"`
		Prometheus  bool   `mapstructure:"prometheus"`
		MetricsPath string `mapstructure:"metrics_path"`
	} `mapstructure:"telemetry"`

	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("session.id", "")
	v.SetDefault("session.chunk_capacity", vtab.DefaultChunkCapacity)
	v.SetDefault("session.teardown", vtab.TeardownPerScan.String())
	v.SetDefault("session.client_log_level", string(vtab.LogTrace))

	v.SetDefault("server.transport", TransportStdio)
	v.SetDefault("server.address", "127.0.0.1:8080")
	v.SetDefault("server.prefix", vtab.DefaultHTTPPrefix)
	v.SetDefault("server.title", "vtab")
	v.SetDefault("server.server_id", "")
	v.SetDefault("server.zstd_level", 3)
	v.SetDefault("server.debug_errors", false)

	v.SetDefault("telemetry.otel_stdout", false)
	v.SetDefault("telemetry.prometheus", false)
	v.SetDefault("telemetry.metrics_path", "/metrics")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// LoadConfig reads the YAML file at path, applies VTAB_* environment
// overrides and validates the result. An empty path yields the defaults
// plus environment.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks enumerated settings.
func (c *Config) Validate() error {
	switch c.Server.Transport {
	case TransportStdio, TransportUnix, TransportHTTP:
	default:
		return fmt.Errorf("server.transport: unknown transport %q", c.Server.Transport)
	}
	if c.Server.Transport == TransportUnix && c.Server.Address == "" {
		return fmt.Errorf("server.address: required for the unix transport")
	}
	if _, err := vtab.ParseTeardownPolicy(c.Session.Teardown); err != nil {
		return fmt.Errorf("session.teardown: %w", err)
	}
	if _, err := c.ClientLogLevel(); err != nil {
		return err
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format: expected text or json, got %q", c.Log.Format)
	}
	if c.Server.ZstdLevel < 0 {
		return fmt.Errorf("server.zstd_level: must not be negative")
	}
	return nil
}

// ClientLogLevel returns the session's provider log threshold.
func (c *Config) ClientLogLevel() (vtab.LogLevel, error) {
	level := vtab.LogLevel(strings.ToUpper(c.Session.ClientLogLevel))
	switch level {
	case vtab.LogException, vtab.LogError, vtab.LogWarn, vtab.LogInfo, vtab.LogDebug, vtab.LogTrace:
		return level, nil
	}
	return "", fmt.Errorf("session.client_log_level: unknown level %q", c.Session.ClientLogLevel)
}

// SlogLevel parses Log.Level.
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}

// ApplySession copies the session settings onto s.
func (c *Config) ApplySession(s *vtab.Session) error {
	policy, err := vtab.ParseTeardownPolicy(c.Session.Teardown)
	if err != nil {
		return err
	}
	level, err := c.ClientLogLevel()
	if err != nil {
		return err
	}
	if c.Session.ID != "" {
		s.SetSessionID(c.Session.ID)
	}
	s.SetChunkCapacity(c.Session.ChunkCapacity)
	s.SetTeardownPolicy(policy)
	s.SetLogLevel(level)
	return nil
}
