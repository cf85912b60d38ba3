// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package vtab

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
)

// Server answers scan requests for the functions of one Session over an
// Arrow IPC byte stream.
type Server struct {
	session     *Session
	serverID    string
	debugErrors bool
}

// NewServer creates a server for session.
func NewServer(session *Session) *Server {
	return &Server{session: session}
}

// Session returns the served session.
func (s *Server) Session() *Session { return s.session }

// SetServerID sets a server identifier included in response metadata.
func (s *Server) SetServerID(id string) {
	s.serverID = id
}

// ServerID returns the server identifier, or empty string if not set.
func (s *Server) ServerID() string { return s.serverID }

// SetDebugErrors controls whether error responses include stack traces
// with file paths and function names. Keep it off for public-facing
// deployments.
func (s *Server) SetDebugErrors(enabled bool) {
	s.debugErrors = enabled
}

// RunStdio runs the server loop reading from stdin and writing to stdout.
func (s *Server) RunStdio() {
	// Writes to a closed pipe must return errors instead of killing the
	// process.
	signal.Ignore(syscall.SIGPIPE)

	if isTerminal(os.Stdin) || isTerminal(os.Stdout) {
		fmt.Fprintln(os.Stderr,
			"WARNING: This process communicates via Arrow IPC on stdin/stdout "+
				"and is not intended to be run interactively.")
	}
	s.Serve(os.Stdin, os.Stdout)
}

// isTerminal reports whether f is connected to a terminal.
func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

// Serve runs the server loop on the given reader/writer pair.
func (s *Server) Serve(r io.Reader, w io.Writer) {
	s.ServeWithContext(context.Background(), r, w)
}

// ServeWithContext runs the server loop until r is exhausted, ctx is done
// or the transport fails.
func (s *Server) ServeWithContext(ctx context.Context, r io.Reader, w io.Writer) {
	for {
		if ctx.Err() != nil {
			return
		}
		err := s.serveOne(ctx, r, w)
		if err != nil {
			if err == io.EOF {
				return
			}
			if !isTransportClosed(err) {
				slog.Error("serve loop error", "err", err)
			}
			return
		}
	}
}

// serveOne handles one complete request-response cycle.
func (s *Server) serveOne(ctx context.Context, r io.Reader, w io.Writer) error {
	req, err := ReadRequest(r)
	if err != nil {
		if err == io.EOF {
			return io.EOF
		}
		var perr *ProtocolError
		if errors.As(err, &perr) {
			return WriteErrorResponse(w, nil, nil, perr, s.debugErrors, s.serverID, "")
		}
		return err
	}

	if req.Function == DescribeFunction {
		return s.serveDescribe(w)
	}

	ctx = s.requestContext(ctx, req)
	bound, scan, logs, err := s.openScan(ctx, req)
	if err != nil {
		var schema *arrow.Schema
		if bound != nil {
			schema = bound.Schema()
		}
		return WriteErrorResponse(w, schema, logs, err, s.debugErrors, s.serverID, req.RequestID)
	}
	_, transportErr := s.writeScan(ctx, w, bound, scan, logs, req.RequestID)
	return transportErr
}

// requestContext attaches the request log level and identity to ctx.
func (s *Server) requestContext(ctx context.Context, req *ScanRequest) context.Context {
	level := req.LogLevel
	if level == "" {
		level = LogTrace // default: allow all, client filters
	}
	ctx = WithLogLevel(ctx, level)
	return WithRequest(ctx, RequestInfo{
		RequestID: req.RequestID,
		ServerID:  s.serverID,
		Metadata:  req.Metadata,
	})
}

// openScan runs Bind and Init for req. On failure it returns the logs that
// must precede the error; bound is non-nil when Bind succeeded and is
// already closed.
func (s *Server) openScan(ctx context.Context, req *ScanRequest) (bound *BoundFunction, scan *Scan, logs []LogMessage, err error) {
	bound, err = s.session.Bind(ctx, req.Function, req.Args, req.Named)
	if err != nil {
		return nil, nil, errorLogs(err), err
	}
	opts := []ScanOption{WithScanMetadata(req.Metadata)}
	if req.Projection != nil {
		opts = append(opts, WithProjection(req.Projection...))
	}
	scan, err = bound.NewScan(ctx, opts...)
	logs = bound.DrainLogs()
	if err != nil {
		logs = append(logs, errorLogs(err)...)
		if cerr := bound.Close(); cerr != nil {
			slog.Error("failed to release bind data", "function", req.Function, "err", cerr)
		}
		return bound, nil, logs, err
	}
	return bound, scan, logs, nil
}

// writeScan streams the scan output as one IPC stream: the pending logs,
// then each chunk preceded by its logs, then either EOS or an error batch.
// bound and scan are closed on return.
func (s *Server) writeScan(ctx context.Context, w io.Writer, bound *BoundFunction, scan *Scan, logs []LogMessage, requestID string) (handlerErr, transportErr error) {
	defer func() {
		if err := scan.Close(); err != nil {
			slog.Error("failed to release init data", "function", bound.Name(), "err", err)
		}
		if err := bound.Close(); err != nil {
			slog.Error("failed to release bind data", "function", bound.Name(), "err", err)
		}
	}()

	schema := bound.Schema()
	writer := ipc.NewWriter(w, ipc.WithSchema(schema))
	writeLogs := func(logs []LogMessage) error {
		for _, msg := range logs {
			if err := writeLogBatch(writer, schema, msg, s.serverID, requestID); err != nil {
				return fmt.Errorf("writing log batch: %w", err)
			}
		}
		return nil
	}

	if err := writeLogs(logs); err != nil {
		writer.Close()
		return nil, err
	}
	first := true
	for {
		batch, err := scan.Next(ctx)
		if lerr := writeLogs(scan.DrainLogs()); lerr != nil {
			if batch != nil {
				batch.Release()
			}
			writer.Close()
			return nil, lerr
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			handlerErr = err
			if werr := writeErrorBatch(writer, schema, err, s.debugErrors, s.serverID, requestID); werr != nil {
				slog.Error("failed to write error batch", "err", werr)
				transportErr = werr
			}
			break
		}
		if first {
			// The first data batch identifies the scan that produced it.
			first = false
			stamped := stampScan(batch, scan.ID(), s.serverID, requestID)
			batch.Release()
			batch = stamped
		}
		werr := writer.Write(batch)
		batch.Release()
		if werr != nil {
			writer.Close()
			return nil, fmt.Errorf("writing data batch: %w", werr)
		}
	}
	if err := writer.Close(); err != nil && transportErr == nil {
		transportErr = err
	}
	return handlerErr, transportErr
}

func stampScan(batch arrow.RecordBatch, scanID, serverID, requestID string) arrow.RecordBatch {
	keys := []string{MetaScanID}
	vals := []string{scanID}
	if serverID != "" {
		keys = append(keys, MetaServerID)
		vals = append(vals, serverID)
	}
	if requestID != "" {
		keys = append(keys, MetaRequestID)
		vals = append(vals, requestID)
	}
	return array.NewRecordBatchWithMetadata(batch.Schema(), batch.Columns(), batch.NumRows(), arrow.NewMetadata(keys, vals))
}

// serveDescribe handles the __describe__ introspection request.
func (s *Server) serveDescribe(w io.Writer) error {
	batch, meta := s.session.Describe()
	defer batch.Release()

	if s.serverID != "" {
		meta = arrow.MetadataFrom(withServerID(meta.ToMap(), s.serverID))
	}
	batchWithMeta := array.NewRecordBatchWithMetadata(
		describeSchema, batch.Columns(), batch.NumRows(), meta)
	defer batchWithMeta.Release()

	writer := ipc.NewWriter(w, ipc.WithSchema(describeSchema))
	if err := writer.Write(batchWithMeta); err != nil {
		writer.Close()
		return err
	}
	return writer.Close()
}

func withServerID(m map[string]string, serverID string) map[string]string {
	m[MetaServerID] = serverID
	return m
}

// errorLogs returns the logs a failing provider emitted before the error.
func errorLogs(err error) []LogMessage {
	var e *Error
	if errors.As(err, &e) {
		return e.Logs
	}
	return nil
}

// isTransportClosed returns true for errors that indicate the transport was closed normally.
func isTransportClosed(err error) bool {
	if err == io.EOF {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "EOF")
}
