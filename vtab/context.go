// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package vtab

import "context"

type ctxKey int

const (
	logLevelKey ctxKey = iota
	requestKey
)

// RequestInfo identifies the transport request a call belongs to.
type RequestInfo struct {
	// RequestID is the client-supplied identifier, echoed in response
	// metadata.
	RequestID string
	// ServerID is the identifier set via [Server.SetServerID].
	ServerID string
	// Metadata holds the raw request metadata (IPC custom metadata or
	// HTTP headers).
	Metadata map[string]string
}

// WithLogLevel returns a context that overrides the session log level for
// binds and scans started with it.
func WithLogLevel(ctx context.Context, level LogLevel) context.Context {
	return context.WithValue(ctx, logLevelKey, level)
}

func logLevelFrom(ctx context.Context, fallback LogLevel) LogLevel {
	if ctx == nil {
		return fallback
	}
	if level, ok := ctx.Value(logLevelKey).(LogLevel); ok && level != "" {
		return level
	}
	return fallback
}

// WithRequest attaches transport request details to ctx.
func WithRequest(ctx context.Context, info RequestInfo) context.Context {
	return context.WithValue(ctx, requestKey, info)
}

// RequestFromContext returns the transport request a provider callback is
// serving, if it was started by a Server.
func RequestFromContext(ctx context.Context) (RequestInfo, bool) {
	if ctx == nil {
		return RequestInfo{}, false
	}
	info, ok := ctx.Value(requestKey).(RequestInfo)
	return info, ok
}
