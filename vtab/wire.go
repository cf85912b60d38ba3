// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package vtab

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// BatchKind classifies a received batch based on its metadata.
type BatchKind int

const (
	BatchData  BatchKind = iota // regular data batch
	BatchLog                    // client-directed log batch
	BatchError                  // error/exception batch
)

// ProtocolError reports a malformed request. It never reaches a provider.
type ProtocolError struct {
	Type    string
	Message string
}

func (e *ProtocolError) Error() string { return fmt.Sprintf("%s: %s", e.Type, e.Message) }

// RemoteError is an EXCEPTION batch received from a server.
type RemoteError struct {
	Type    string
	Message string
	Extra   string
}

func (e *RemoteError) Error() string {
	if e.Type == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ScanRequest is one table function call on the wire.
type ScanRequest struct {
	Function   string
	Version    string
	RequestID  string
	LogLevel   LogLevel
	Args       []Value
	Named      map[string]Value
	Projection []int
	Metadata   map[string]string
}

// ReadRequest reads one complete IPC stream from the reader and extracts
// the function name and arguments from its first batch.
func ReadRequest(r io.Reader) (*ScanRequest, error) {
	reader, err := ipc.NewReader(r)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("reading request IPC stream: %w", err)
	}
	defer reader.Release()

	if !reader.Next() {
		if err := reader.Err(); err != nil {
			return nil, fmt.Errorf("reading request batch: %w", err)
		}
		return nil, io.EOF
	}
	batch := reader.RecordBatch()

	var meta arrow.Metadata
	if rb, ok := batch.(arrow.RecordBatchWithMetadata); ok {
		meta = rb.Metadata()
	}
	req, perr := parseRequest(batch, meta)

	// Drain remaining batches (read to EOS)
	for reader.Next() {
		// discard
	}
	if perr != nil {
		return nil, perr
	}
	return req, nil
}

func parseRequest(batch arrow.RecordBatch, meta arrow.Metadata) (*ScanRequest, error) {
	function, ok := meta.GetValue(MetaFunction)
	if !ok || function == "" {
		return nil, &ProtocolError{Type: "ProtocolError", Message: "missing '" + MetaFunction + "' in request batch custom_metadata"}
	}
	version, ok := meta.GetValue(MetaRequestVersion)
	if !ok {
		return nil, &ProtocolError{Type: "VersionError", Message: "missing '" + MetaRequestVersion + "' in request batch custom_metadata"}
	}
	if version != ProtocolVersion {
		return nil, &ProtocolError{
			Type:    "VersionError",
			Message: fmt.Sprintf("unsupported request version %q, expected %q", version, ProtocolVersion),
		}
	}
	if batch.Schema().NumFields() > 0 && batch.NumRows() != 1 {
		return nil, &ProtocolError{
			Type:    "ProtocolError",
			Message: fmt.Sprintf("expected 1 row in request batch, got %d", batch.NumRows()),
		}
	}

	req := &ScanRequest{
		Function: function,
		Version:  version,
		Metadata: make(map[string]string, meta.Len()),
	}
	for i := range meta.Len() {
		req.Metadata[meta.Keys()[i]] = meta.Values()[i]
	}
	req.RequestID = req.Metadata[MetaRequestID]
	if lvl := req.Metadata[MetaLogLevel]; lvl != "" {
		req.LogLevel = LogLevel(strings.ToUpper(lvl))
	}
	if p := req.Metadata[MetaProjection]; p != "" {
		proj, err := parseProjection(p)
		if err != nil {
			return nil, &ProtocolError{Type: "ProtocolError", Message: err.Error()}
		}
		req.Projection = proj
	}

	for i, f := range batch.Schema().Fields() {
		t, err := LogicalTypeFromArrow(f.Type)
		if err != nil {
			return nil, &ProtocolError{Type: "TypeError", Message: fmt.Sprintf("argument %q: %v", f.Name, err)}
		}
		raw, err := valueAt(batch.Column(i), 0)
		if err != nil {
			return nil, &ProtocolError{Type: "TypeError", Message: fmt.Sprintf("argument %q: %v", f.Name, err)}
		}
		v, err := NewValue(t, raw)
		if err != nil {
			return nil, &ProtocolError{Type: "TypeError", Message: fmt.Sprintf("argument %q: %v", f.Name, err)}
		}
		if named, _ := f.Metadata.GetValue(MetaNamed); named == "true" {
			if req.Named == nil {
				req.Named = make(map[string]Value)
			}
			req.Named[f.Name] = v
			continue
		}
		req.Args = append(req.Args, v)
	}
	return req, nil
}

func parseProjection(s string) ([]int, error) {
	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("invalid projection %q: %w", s, err)
		}
		out = append(out, n)
	}
	return out, nil
}

// WriteScanRequest writes req as a complete IPC request stream.
func WriteScanRequest(w io.Writer, req *ScanRequest) error {
	mem := memory.NewGoAllocator()
	fields := make([]arrow.Field, 0, len(req.Args)+len(req.Named))
	values := make([]Value, 0, cap(fields))
	for i, v := range req.Args {
		fields = append(fields, arrow.Field{Name: "arg" + strconv.Itoa(i), Type: v.Type().ArrowType(), Nullable: true})
		values = append(values, v)
	}
	for _, k := range sortedKeys(req.Named) {
		v := req.Named[k]
		fields = append(fields, arrow.Field{
			Name:     k,
			Type:     v.Type().ArrowType(),
			Nullable: true,
			Metadata: arrow.NewMetadata([]string{MetaNamed}, []string{"true"}),
		})
		values = append(values, v)
	}
	schema := arrow.NewSchema(fields, nil)

	cols := make([]arrow.Array, len(values))
	defer func() {
		for _, c := range cols {
			if c != nil {
				c.Release()
			}
		}
	}()
	for i, v := range values {
		b := array.NewBuilder(mem, fields[i].Type)
		if v.IsNull() {
			b.AppendNull()
		} else if err := appendValue(b, v.Any()); err != nil {
			b.Release()
			return fmt.Errorf("argument %q: %w", fields[i].Name, err)
		}
		cols[i] = b.NewArray()
		b.Release()
	}
	rows := int64(0)
	if len(cols) > 0 {
		rows = 1
	}

	version := req.Version
	if version == "" {
		version = ProtocolVersion
	}
	keys := []string{MetaFunction, MetaRequestVersion}
	vals := []string{req.Function, version}
	if req.RequestID != "" {
		keys = append(keys, MetaRequestID)
		vals = append(vals, req.RequestID)
	}
	if req.LogLevel != "" {
		keys = append(keys, MetaLogLevel)
		vals = append(vals, string(req.LogLevel))
	}
	if len(req.Projection) > 0 {
		parts := make([]string, len(req.Projection))
		for i, p := range req.Projection {
			parts[i] = strconv.Itoa(p)
		}
		keys = append(keys, MetaProjection)
		vals = append(vals, strings.Join(parts, ","))
	}

	batch := array.NewRecordBatchWithMetadata(schema, cols, rows, arrow.NewMetadata(keys, vals))
	defer batch.Release()

	writer := ipc.NewWriter(w, ipc.WithSchema(schema))
	if err := writer.Write(batch); err != nil {
		writer.Close()
		return fmt.Errorf("writing request batch: %w", err)
	}
	return writer.Close()
}

// ScanResponse is a fully read response stream.
type ScanResponse struct {
	Schema   *arrow.Schema
	Batches  []arrow.RecordBatch
	Logs     []LogMessage
	Metadata map[string]string
}

// NumRows returns the total number of data rows.
func (r *ScanResponse) NumRows() int64 {
	var n int64
	for _, b := range r.Batches {
		n += b.NumRows()
	}
	return n
}

// Release releases every data batch.
func (r *ScanResponse) Release() {
	for _, b := range r.Batches {
		b.Release()
	}
	r.Batches = nil
}

// ReadScanResponse reads one response stream. Log batches are collected
// into Logs. If the stream carries an EXCEPTION batch the response read so
// far is returned together with a *RemoteError.
func ReadScanResponse(r io.Reader) (*ScanResponse, error) {
	reader, err := ipc.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("reading response IPC stream: %w", err)
	}
	defer reader.Release()

	resp := &ScanResponse{Schema: reader.Schema()}
	var remote *RemoteError
	for reader.Next() {
		batch := reader.RecordBatch()
		var meta arrow.Metadata
		if rb, ok := batch.(arrow.RecordBatchWithMetadata); ok {
			meta = rb.Metadata()
		}
		switch classifyBatch(batch, meta) {
		case BatchError:
			msg, _ := meta.GetValue(MetaLogMessage)
			extra, _ := meta.GetValue(MetaLogExtra)
			remote = &RemoteError{Message: msg, Extra: extra, Type: exceptionType(extra)}
		case BatchLog:
			resp.Logs = append(resp.Logs, logFromMetadata(meta))
		default:
			if meta.Len() > 0 && resp.Metadata == nil {
				resp.Metadata = make(map[string]string, meta.Len())
				for i := range meta.Len() {
					resp.Metadata[meta.Keys()[i]] = meta.Values()[i]
				}
			}
			batch.Retain()
			resp.Batches = append(resp.Batches, batch)
		}
	}
	if err := reader.Err(); err != nil && !errors.Is(err, io.EOF) {
		resp.Release()
		return nil, fmt.Errorf("reading response batch: %w", err)
	}
	if remote != nil {
		return resp, remote
	}
	return resp, nil
}

func classifyBatch(batch arrow.RecordBatch, meta arrow.Metadata) BatchKind {
	if batch.NumRows() != 0 {
		return BatchData
	}
	level, ok := meta.GetValue(MetaLogLevel)
	if !ok {
		return BatchData
	}
	if LogLevel(level) == LogException {
		return BatchError
	}
	return BatchLog
}

func logFromMetadata(meta arrow.Metadata) LogMessage {
	level, _ := meta.GetValue(MetaLogLevel)
	msg, _ := meta.GetValue(MetaLogMessage)
	m := LogMessage{Level: LogLevel(level), Message: msg}
	if extra, ok := meta.GetValue(MetaLogExtra); ok {
		_ = json.Unmarshal([]byte(extra), &m.Extras)
	}
	return m
}

func exceptionType(extra string) string {
	var e errorExtra
	if json.Unmarshal([]byte(extra), &e) != nil {
		return ""
	}
	return e.ExceptionType
}

// emptyBatch creates a zero-row batch with the given schema.
func emptyBatch(schema *arrow.Schema) arrow.RecordBatch {
	mem := memory.NewGoAllocator()
	cols := make([]arrow.Array, schema.NumFields())
	for i, f := range schema.Fields() {
		b := array.NewBuilder(mem, f.Type)
		cols[i] = b.NewArray()
		b.Release()
	}
	batch := array.NewRecordBatch(schema, cols, 0)
	for _, c := range cols {
		c.Release()
	}
	return batch
}

// writeMetaBatch writes a zero-row batch carrying the given metadata.
func writeMetaBatch(w *ipc.Writer, schema *arrow.Schema, keys, vals []string, serverID, requestID string) error {
	if serverID != "" {
		keys = append(keys, MetaServerID)
		vals = append(vals, serverID)
	}
	if requestID != "" {
		keys = append(keys, MetaRequestID)
		vals = append(vals, requestID)
	}
	batch := emptyBatch(schema)
	defer batch.Release()

	withMeta := array.NewRecordBatchWithMetadata(schema, batch.Columns(), 0, arrow.NewMetadata(keys, vals))
	defer withMeta.Release()
	return w.Write(withMeta)
}

// writeLogBatch writes a zero-row batch with log metadata.
func writeLogBatch(w *ipc.Writer, schema *arrow.Schema, msg LogMessage, serverID, requestID string) error {
	keys := []string{MetaLogLevel, MetaLogMessage}
	vals := []string{string(msg.Level), msg.Message}
	if len(msg.Extras) > 0 {
		extraJSON, err := json.Marshal(msg.Extras)
		if err != nil {
			extraJSON = []byte(`{}`)
		}
		keys = append(keys, MetaLogExtra)
		vals = append(vals, string(extraJSON))
	}
	return writeMetaBatch(w, schema, keys, vals, serverID, requestID)
}

// writeErrorBatch writes a zero-row batch with EXCEPTION-level metadata.
func writeErrorBatch(w *ipc.Writer, schema *arrow.Schema, err error, debug bool, serverID, requestID string) error {
	keys := []string{MetaLogLevel, MetaLogMessage, MetaLogExtra}
	vals := []string{string(LogException), err.Error(), buildErrorExtra(err, debug)}
	return writeMetaBatch(w, schema, keys, vals, serverID, requestID)
}

// WriteErrorResponse writes a complete IPC stream containing the given
// logs followed by an error batch.
func WriteErrorResponse(w io.Writer, schema *arrow.Schema, logs []LogMessage, err error, debug bool, serverID, requestID string) error {
	if schema == nil {
		schema = arrow.NewSchema(nil, nil)
	}
	writer := ipc.NewWriter(w, ipc.WithSchema(schema))
	for _, msg := range logs {
		if werr := writeLogBatch(writer, schema, msg, serverID, requestID); werr != nil {
			writer.Close()
			return fmt.Errorf("writing log batch: %w", werr)
		}
	}
	if werr := writeErrorBatch(writer, schema, err, debug, serverID, requestID); werr != nil {
		writer.Close()
		return fmt.Errorf("writing error batch: %w", werr)
	}
	return writer.Close()
}
