// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package vtab

import (
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
)

// Phase names the protocol step an error was raised in.
type Phase string

const (
	PhaseRegister Phase = "register"
	PhaseBind     Phase = "bind"
	PhaseInit     Phase = "init"
	PhaseProduce  Phase = "produce"
)

// Sentinel causes, matched with errors.Is against an [*Error].
var (
	ErrDuplicateFunction = errors.New("table function already registered")
	ErrUnknownFunction   = errors.New("unknown table function")
	ErrInvalidSignature  = errors.New("invalid table function signature")
	ErrArity             = errors.New("wrong number of parameters")
	ErrParameterType     = errors.New("parameter type mismatch")
	ErrUnknownParameter  = errors.New("unknown named parameter")
	ErrParameterIndex    = errors.New("parameter index out of range")
	ErrInvalidHandle     = errors.New("invalid or released handle")
	ErrBindClosed        = errors.New("result columns can only be declared during bind")
	ErrNoColumns         = errors.New("bind declared no result columns")
	ErrChunkReleased     = errors.New("output chunk is no longer writable")
	ErrRowCount          = errors.New("row count out of range")
	ErrScanClosed        = errors.New("scan is closed")
	ErrFunctionClosed    = errors.New("bound function is closed")
	ErrSessionClosed     = errors.New("session is closed")
	ErrAlreadyLoaded     = errors.New("extension already loaded")
	ErrProviderPanic     = errors.New("table function panicked")
)

// Error is the single failure signal the protocol surfaces to a host. It
// records the phase and function that failed and wraps the cause.
type Error struct {
	Phase    Phase
	Function string
	Message  string
	Err      error

	// Logs holds the client log messages the provider emitted in the
	// failing phase before it failed.
	Logs []LogMessage
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Function == "" {
		return fmt.Sprintf("%s error: %s", e.Phase, msg)
	}
	return fmt.Sprintf("%s error in %q: %s", e.Phase, e.Function, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// newError builds an *Error whose message is the formatted text and whose
// cause is err.
func newError(phase Phase, function string, err error, format string, args ...any) *Error {
	return &Error{
		Phase:    phase,
		Function: function,
		Message:  fmt.Sprintf(format, args...),
		Err:      err,
	}
}

// asError wraps any error into an *Error for the given phase. Errors that
// already are *Error pass through unchanged.
func asError(phase Phase, function string, err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Phase: phase, Function: function, Message: err.Error(), Err: err}
}

// stackFrame represents a single frame in a Go stack trace.
type stackFrame struct {
	File     string `json:"file"`
	Line     int    `json:"line"`
	Function string `json:"function"`
}

// errorExtra is the JSON structure written to vtab.log_extra for
// EXCEPTION-level batches.
type errorExtra struct {
	ExceptionType    string       `json:"exception_type"`
	ExceptionMessage string       `json:"exception_message"`
	Phase            string       `json:"phase,omitempty"`
	Function         string       `json:"function,omitempty"`
	Traceback        string       `json:"traceback,omitempty"`
	Frames           []stackFrame `json:"frames,omitempty"`
}

// buildErrorExtra creates the JSON string for vtab.log_extra. Stack
// details are only included when debug is set.
func buildErrorExtra(err error, debug bool) string {
	extra := errorExtra{
		ExceptionType:    errorType(err),
		ExceptionMessage: err.Error(),
	}
	var e *Error
	if errors.As(err, &e) {
		extra.Phase = string(e.Phase)
		extra.Function = e.Function
	}

	if debug {
		buf := make([]byte, 4096)
		n := runtime.Stack(buf, false)
		extra.Traceback = string(buf[:n])

		pcs := make([]uintptr, 10)
		n = runtime.Callers(2, pcs)
		if n > 0 {
			frames := runtime.CallersFrames(pcs[:n])
			for count := 0; count < 5; count++ {
				frame, more := frames.Next()
				extra.Frames = append(extra.Frames, stackFrame{
					File:     frame.File,
					Line:     frame.Line,
					Function: frame.Function,
				})
				if !more {
					break
				}
			}
		}
	}

	data, _ := json.Marshal(extra)
	return string(data)
}

// errorType names an error for the wire: BindError, InitError,
// ProduceError or RegisterError for protocol errors, the Go type otherwise.
func errorType(err error) string {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe.Type
	}
	var e *Error
	if errors.As(err, &e) {
		switch e.Phase {
		case PhaseBind:
			return "BindError"
		case PhaseInit:
			return "InitError"
		case PhaseProduce:
			return "ProduceError"
		case PhaseRegister:
			return "RegisterError"
		}
	}
	return fmt.Sprintf("%T", err)
}
