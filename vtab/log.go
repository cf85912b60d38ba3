// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package vtab

// LogLevel represents the severity of a provider-directed log message.
type LogLevel string

const (
	// LogException is the most severe level, used for the error that
	// terminates a scan.
	LogException LogLevel = "EXCEPTION"
	// LogError indicates a recoverable error condition.
	LogError LogLevel = "ERROR"
	// LogWarn indicates a warning that may require attention.
	LogWarn LogLevel = "WARN"
	// LogInfo indicates a normal informational message.
	LogInfo LogLevel = "INFO"
	// LogDebug indicates a verbose diagnostic message.
	LogDebug LogLevel = "DEBUG"
	// LogTrace is the least severe level, used for fine-grained tracing.
	LogTrace LogLevel = "TRACE"
)

// logLevelPriority returns a numeric priority for log levels (lower = more severe).
func logLevelPriority(level LogLevel) int {
	switch level {
	case LogException:
		return 0
	case LogError:
		return 1
	case LogWarn:
		return 2
	case LogInfo:
		return 3
	case LogDebug:
		return 4
	case LogTrace:
		return 5
	default:
		return 6
	}
}

// KV is a key-value pair for structured log extras.
type KV struct {
	Key   string
	Value string
}

// LogMessage is a message a provider addressed to whoever drives the scan.
type LogMessage struct {
	Level   LogLevel
	Message string
	Extras  map[string]string
}

// logSink buffers provider log messages at or above a minimum level.
type logSink struct {
	level LogLevel
	logs  []LogMessage
}

func (s *logSink) add(level LogLevel, msg string, extras []KV) {
	if s == nil {
		return
	}
	if logLevelPriority(level) > logLevelPriority(s.level) {
		return
	}
	m := LogMessage{Level: level, Message: msg}
	if len(extras) > 0 {
		m.Extras = make(map[string]string, len(extras))
		for _, kv := range extras {
			m.Extras[kv.Key] = kv.Value
		}
	}
	s.logs = append(s.logs, m)
}

// drain returns and clears all accumulated log messages.
func (s *logSink) drain() []LogMessage {
	logs := s.logs
	s.logs = nil
	return logs
}
