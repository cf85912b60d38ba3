// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package vtab

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/klauspost/compress/zstd"
)

const (
	arrowContentType = "application/vnd.apache.arrow.stream"
	zstdEncoding     = "zstd"

	// DefaultHTTPPrefix is the URL prefix used unless SetPrefix is called.
	DefaultHTTPPrefix = "/vtab"
)

// HttpServer serves scan requests over HTTP. Each POST carries one request
// stream and receives one response stream.
type HttpServer struct {
	server    *Server
	prefix    string
	title     string
	zstdLevel zstd.EncoderLevel
	mux       *http.ServeMux
}

// NewHttpServer creates a new HTTP server wrapping server.
func NewHttpServer(server *Server) *HttpServer {
	h := &HttpServer{
		server:    server,
		prefix:    DefaultHTTPPrefix,
		title:     "vtab",
		zstdLevel: zstd.SpeedDefault,
	}
	h.routes()
	return h
}

func (h *HttpServer) routes() {
	h.mux = http.NewServeMux()
	h.mux.HandleFunc(fmt.Sprintf("POST %s/{function}", h.prefix), h.handleScan)
	if h.prefix != "" {
		h.mux.HandleFunc(fmt.Sprintf("GET %s", h.prefix), h.handleLandingPage)
	}
	h.mux.HandleFunc(fmt.Sprintf("GET %s/{$}", h.prefix), h.handleLandingPage)
	h.mux.HandleFunc("/", h.handleNotFound)
}

// SetPrefix changes the URL prefix. It must be called before serving.
func (h *HttpServer) SetPrefix(prefix string) {
	h.prefix = "/" + strings.Trim(prefix, "/")
	if h.prefix == "/" {
		h.prefix = ""
	}
	h.routes()
}

// Prefix returns the URL prefix.
func (h *HttpServer) Prefix() string { return h.prefix }

// SetTitle sets the heading of the landing page.
func (h *HttpServer) SetTitle(title string) { h.title = title }

// SetCompressionLevel sets the zstd level used for compressed responses,
// on the zstd 1-22 scale.
func (h *HttpServer) SetCompressionLevel(level int) {
	h.zstdLevel = zstd.EncoderLevelFromZstd(level)
}

// ServeHTTP implements http.Handler.
func (h *HttpServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// handleScan answers POST {prefix}/{function}.
func (h *HttpServer) handleScan(w http.ResponseWriter, r *http.Request) {
	function := r.PathValue("function")

	if ct := r.Header.Get("Content-Type"); ct != arrowContentType {
		h.writeHttpError(w, r, http.StatusUnsupportedMediaType,
			&ProtocolError{Type: "ProtocolError", Message: fmt.Sprintf("unsupported content type: %s", ct)}, nil, nil, "")
		return
	}

	body, err := h.readBody(r)
	if err != nil {
		h.writeHttpError(w, r, http.StatusBadRequest, err, nil, nil, "")
		return
	}
	req, err := ReadRequest(bytes.NewReader(body))
	if err != nil {
		h.writeHttpError(w, r, http.StatusBadRequest, err, nil, nil, "")
		return
	}
	// The path names the function; the request metadata must agree.
	if req.Function != function {
		h.writeHttpError(w, r, http.StatusBadRequest, &ProtocolError{
			Type:    "ProtocolError",
			Message: fmt.Sprintf("request names %q but was posted to %q", req.Function, function),
		}, nil, nil, req.RequestID)
		return
	}
	// Headers fill in transport details; request metadata always wins.
	for k, v := range r.Header {
		key := strings.ToLower(k)
		if _, ok := req.Metadata[key]; ok || len(v) == 0 {
			continue
		}
		req.Metadata[key] = v[0]
	}

	if function == DescribeFunction {
		var buf bytes.Buffer
		if err := h.server.serveDescribe(&buf); err != nil {
			h.writeHttpError(w, r, http.StatusInternalServerError, err, nil, nil, req.RequestID)
			return
		}
		h.writeArrow(w, r, http.StatusOK, buf.Bytes())
		return
	}

	if _, err := h.server.session.lookup(function); err != nil {
		h.writeHttpError(w, r, http.StatusNotFound, err, nil, nil, req.RequestID)
		return
	}

	ctx := h.server.requestContext(r.Context(), req)
	bound, scan, logs, err := h.server.openScan(ctx, req)
	if err != nil {
		status := http.StatusBadRequest
		var schema *arrow.Schema
		if bound != nil {
			status = http.StatusInternalServerError
			schema = bound.Schema()
		}
		h.writeHttpError(w, r, status, err, schema, logs, req.RequestID)
		return
	}

	out, finish := h.responseWriter(w, r)
	w.WriteHeader(http.StatusOK)
	handlerErr, transportErr := h.server.writeScan(ctx, out, bound, scan, logs, req.RequestID)
	if err := finish(); err != nil && transportErr == nil {
		transportErr = err
	}
	if transportErr != nil && !isTransportClosed(transportErr) {
		slog.Error("http scan response error", "function", function, "err", transportErr)
	}
	if handlerErr != nil {
		slog.Debug("http scan failed", "function", function, "err", handlerErr)
	}
}

// readBody reads the request body, decoding zstd when announced.
func (h *HttpServer) readBody(r *http.Request) ([]byte, error) {
	if !strings.EqualFold(r.Header.Get("Content-Encoding"), zstdEncoding) {
		return io.ReadAll(r.Body)
	}
	dec, err := zstd.NewReader(r.Body)
	if err != nil {
		return nil, fmt.Errorf("zstd request body: %w", err)
	}
	defer dec.Close()
	body, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("zstd request body: %w", err)
	}
	return body, nil
}

// acceptsZstd reports whether the client listed zstd in Accept-Encoding.
func acceptsZstd(r *http.Request) bool {
	for _, part := range strings.Split(r.Header.Get("Accept-Encoding"), ",") {
		name, _, _ := strings.Cut(strings.TrimSpace(part), ";")
		if strings.EqualFold(name, zstdEncoding) {
			return true
		}
	}
	return false
}

// responseWriter sets the response headers and returns the body writer
// plus a function that flushes it.
func (h *HttpServer) responseWriter(w http.ResponseWriter, r *http.Request) (io.Writer, func() error) {
	w.Header().Set("Content-Type", arrowContentType)
	if !acceptsZstd(r) {
		return w, func() error { return nil }
	}
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(h.zstdLevel))
	if err != nil {
		slog.Error("zstd encoder", "err", err)
		return w, func() error { return nil }
	}
	w.Header().Set("Content-Encoding", zstdEncoding)
	w.Header().Add("Vary", "Accept-Encoding")
	return enc, enc.Close
}

// --- Helpers ---

func (h *HttpServer) writeHttpError(w http.ResponseWriter, r *http.Request, statusCode int, err error, schema *arrow.Schema, logs []LogMessage, requestID string) {
	var buf bytes.Buffer
	if werr := WriteErrorResponse(&buf, schema, logs, err, h.server.debugErrors, h.server.serverID, requestID); werr != nil {
		slog.Error("failed to write error response", "err", werr)
	}
	h.writeArrow(w, r, statusCode, buf.Bytes())
}

func (h *HttpServer) writeArrow(w http.ResponseWriter, r *http.Request, statusCode int, data []byte) {
	out, finish := h.responseWriter(w, r)
	w.WriteHeader(statusCode)
	_, err := out.Write(data)
	if ferr := finish(); err == nil {
		err = ferr
	}
	if err != nil && !errors.Is(err, io.EOF) && !isTransportClosed(err) {
		slog.Error("http response write error", "err", err)
	}
}
