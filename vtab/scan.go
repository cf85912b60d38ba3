// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package vtab

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
)

// Bind plans one call of the table function name. Positional arguments are
// checked against the registered parameter types and implicitly cast where
// allowed; named arguments must be declared by the provider. The returned
// BoundFunction owns the bind data and must be closed.
func (s *Session) Bind(ctx context.Context, name string, args []Value, named map[string]Value) (*BoundFunction, error) {
	fn, err := s.lookup(name)
	if err != nil {
		return nil, err
	}
	if len(args) != len(fn.params) {
		return nil, newError(PhaseBind, name, ErrArity,
			"%s takes %d parameter(s), got %d", name, len(fn.params), len(args))
	}
	params := make([]Value, len(args))
	for i, arg := range args {
		v, ok := arg.castTo(fn.params[i])
		if !ok {
			return nil, newError(PhaseBind, name, ErrParameterType,
				"parameter %d: cannot cast %s to %s", i, arg.Type(), fn.params[i])
		}
		params[i] = v
	}
	var namedParams map[string]Value
	if len(named) > 0 {
		namedParams = make(map[string]Value, len(named))
		for k, arg := range named {
			want, ok := fn.named[k]
			if !ok {
				return nil, newError(PhaseBind, name, ErrUnknownParameter,
					"%s has no named parameter %q, available: %v", name, k, sortedKeys(fn.named))
			}
			v, ok := arg.castTo(want)
			if !ok {
				return nil, newError(PhaseBind, name, ErrParameterType,
					"named parameter %q: cannot cast %s to %s", k, arg.Type(), want)
			}
			namedParams[k] = v
		}
	}

	capacity, teardown, level, hook, mem, sessionID := s.settings()
	logs := &logSink{level: logLevelFrom(ctx, level)}
	info := &BindInfo{
		ctx:      ctx,
		function: name,
		params:   params,
		named:    namedParams,
		logs:     logs,
	}
	handle, err := fn.bind(ctx, info)
	if err != nil {
		e := asError(PhaseBind, name, err)
		e.Logs = logs.drain()
		return nil, e
	}
	return &BoundFunction{
		session:   s,
		fn:        fn,
		handle:    handle,
		columns:   info.columns,
		schema:    columnsSchema(info.columns),
		logs:      logs,
		capacity:  capacity,
		teardown:  teardown,
		level:     level,
		hook:      hook,
		mem:       mem,
		sessionID: sessionID,
	}, nil
}

// BoundFunction is a table function call that has passed Bind. Any number
// of scans may be started from it, sequentially or concurrently; they all
// share its bind data.
type BoundFunction struct {
	session *Session
	fn      *tableFunction
	handle  Handle
	columns []Column
	schema  *arrow.Schema

	capacity  int
	teardown  TeardownPolicy
	level     LogLevel
	hook      ScanHook
	mem       memory.Allocator
	sessionID string

	mu       sync.Mutex
	logs     *logSink
	open     int
	closed   bool
	released bool
}

// Name returns the table function name.
func (b *BoundFunction) Name() string { return b.fn.name }

// Columns returns the result columns declared during Bind.
func (b *BoundFunction) Columns() []Column {
	return append([]Column(nil), b.columns...)
}

// Schema returns the Arrow schema of the result columns.
func (b *BoundFunction) Schema() *arrow.Schema { return b.schema }

// DrainLogs returns and clears the client log messages emitted during Bind.
func (b *BoundFunction) DrainLogs() []LogMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.logs.drain()
}

// ScanOption configures a scan.
type ScanOption func(*scanOptions)

type scanOptions struct {
	projection []int
	metadata   map[string]string
}

// WithProjection tells Init which column indexes the host will read.
func WithProjection(columns ...int) ScanOption {
	return func(o *scanOptions) { o.projection = append([]int(nil), columns...) }
}

// WithScanMetadata attaches transport metadata that is passed to hooks.
func WithScanMetadata(md map[string]string) ScanOption {
	return func(o *scanOptions) { o.metadata = md }
}

// NewScan runs Init for a new scan of the bound function. Each scan owns
// its own init data.
func (b *BoundFunction) NewScan(ctx context.Context, opts ...ScanOption) (*Scan, error) {
	var o scanOptions
	for _, opt := range opts {
		opt(&o)
	}
	if err := b.checkProjection(o.projection); err != nil {
		return nil, newError(PhaseInit, b.fn.name, err, "%v", err)
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, newError(PhaseInit, b.fn.name, ErrFunctionClosed, "%s", ErrFunctionClosed)
	}
	b.open++
	b.mu.Unlock()

	sc := &Scan{
		bound: b,
		id:    uuid.NewString(),
		logs:  &logSink{level: logLevelFrom(ctx, b.level)},
		hook:  b.hook,
	}
	sc.info = ScanInfo{
		Function:  b.fn.name,
		ScanID:    sc.id,
		SessionID: b.sessionID,
		Metadata:  o.metadata,
	}
	sc.ctx = ctx
	if sc.hook != nil {
		sc.ctx, sc.token, sc.hookOK = hookStart(ctx, sc.hook, sc.info)
	}

	handle, err := b.fn.init(sc.ctx, b.handle, b.Columns(), o.projection, sc.logs)
	if err != nil {
		e := asError(PhaseInit, b.fn.name, err)
		e.Logs = sc.logs.drain()
		sc.state = ScanFailed
		sc.err = e
		sc.endHook()
		b.scanDone()
		return nil, e
	}
	sc.init = handle
	sc.chunk = NewDataChunk(b.columns, b.capacity)
	return sc, nil
}

func (b *BoundFunction) checkProjection(projection []int) error {
	seen := make(map[int]bool, len(projection))
	for _, idx := range projection {
		if idx < 0 || idx >= len(b.columns) {
			return fmt.Errorf("projection index %d out of range [0, %d)", idx, len(b.columns))
		}
		if seen[idx] {
			return fmt.Errorf("projection index %d repeated", idx)
		}
		seen[idx] = true
	}
	return nil
}

// Close ends the bound function. Scans already started keep running; the
// bind data is released once the last of them is closed.
func (b *BoundFunction) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	release := b.open == 0
	b.mu.Unlock()
	if release {
		return b.releaseBind()
	}
	return nil
}

// scanDone is called once per started scan when it is closed or failed to
// initialise.
func (b *BoundFunction) scanDone() error {
	b.mu.Lock()
	b.open--
	release := b.closed && b.open == 0
	b.mu.Unlock()
	if release {
		return b.releaseBind()
	}
	return nil
}

func (b *BoundFunction) releaseBind() error {
	if b.teardown != TeardownPerScan {
		return nil
	}
	b.mu.Lock()
	if b.released {
		b.mu.Unlock()
		return nil
	}
	b.released = true
	b.mu.Unlock()
	if err := b.fn.releaseBind(b.handle); err != nil && !errors.Is(err, ErrInvalidHandle) {
		return fmt.Errorf("releasing bind data of %s: %w", b.fn.name, err)
	}
	return nil
}

// ScanState is the position of a scan in its life cycle.
type ScanState int

const (
	ScanNotStarted ScanState = iota
	ScanProducing
	ScanExhausted
	ScanFailed
	ScanClosed
)

func (s ScanState) String() string {
	switch s {
	case ScanNotStarted:
		return "not started"
	case ScanProducing:
		return "producing"
	case ScanExhausted:
		return "exhausted"
	case ScanFailed:
		return "failed"
	case ScanClosed:
		return "closed"
	default:
		return fmt.Sprintf("ScanState(%d)", int(s))
	}
}

// Scan is one execution of a bound table function. A Scan is driven by a
// single goroutine at a time; distinct scans may run concurrently.
type Scan struct {
	bound *BoundFunction
	id    string
	ctx   context.Context
	init  Handle
	chunk *DataChunk
	logs  *logSink

	hook   ScanHook
	token  HookToken
	hookOK bool
	hooked bool
	info   ScanInfo

	mu    sync.Mutex
	state ScanState
	stats ScanStatistics
	err   error
}

// ID returns the unique scan identifier.
func (sc *Scan) ID() string { return sc.id }

// Schema returns the Arrow schema of the batches returned by Next.
func (sc *Scan) Schema() *arrow.Schema { return sc.bound.schema }

// State returns the current life-cycle state.
func (sc *Scan) State() ScanState {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.state
}

// Stats returns a copy of the output counters.
func (sc *Scan) Stats() ScanStatistics {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.stats
}

// Err returns the error that failed the scan, if any.
func (sc *Scan) Err() error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.err
}

// DrainLogs returns and clears the client log messages emitted so far.
func (sc *Scan) DrainLogs() []LogMessage {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.logs.drain()
}

// NextChunk calls Produce once and returns the filled chunk. The chunk is
// read-only and valid until the next call. After the provider signals
// end-of-stream by writing zero rows, NextChunk returns io.EOF without
// calling Produce again. A failed Produce discards the chunk and fails the
// scan permanently.
func (sc *Scan) NextChunk(ctx context.Context) (*DataChunk, error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	switch sc.state {
	case ScanExhausted:
		return nil, io.EOF
	case ScanFailed:
		return nil, sc.err
	case ScanClosed:
		return nil, ErrScanClosed
	}
	if err := ctx.Err(); err != nil {
		sc.failLocked(newError(PhaseProduce, sc.bound.fn.name, err, "%v", err))
		return nil, sc.err
	}
	sc.state = ScanProducing

	sc.chunk.reset()
	err := sc.bound.fn.produce(ctx, sc.bound.handle, sc.init, sc.chunk, sc.logs)
	sc.chunk.seal()
	if err != nil {
		sc.chunk.size = 0
		sc.failLocked(err)
		return nil, sc.err
	}
	if sc.chunk.size == 0 {
		sc.state = ScanExhausted
		sc.endHookLocked()
		return nil, io.EOF
	}
	sc.stats.Chunks++
	sc.stats.Rows += int64(sc.chunk.size)
	return sc.chunk, nil
}

// Next is NextChunk converted to an Arrow record batch. The caller owns
// the returned batch and must release it.
func (sc *Scan) Next(ctx context.Context) (arrow.RecordBatch, error) {
	chunk, err := sc.NextChunk(ctx)
	if err != nil {
		return nil, err
	}
	batch, err := chunk.record(sc.bound.mem, sc.bound.schema)
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if err != nil {
		sc.failLocked(newError(PhaseProduce, sc.bound.fn.name, err, "exporting chunk: %v", err))
		return nil, sc.err
	}
	sc.stats.Bytes += batchBufferSize(batch)
	return batch, nil
}

// Close ends the scan and, under the per-scan teardown policy, releases
// its init data. Close is idempotent.
func (sc *Scan) Close() error {
	sc.mu.Lock()
	if sc.state == ScanClosed {
		sc.mu.Unlock()
		return nil
	}
	sc.state = ScanClosed
	sc.endHookLocked()
	sc.mu.Unlock()

	var result *multierror.Error
	if sc.bound.teardown == TeardownPerScan {
		if err := sc.bound.fn.releaseInit(sc.init); err != nil && !errors.Is(err, ErrInvalidHandle) {
			result = multierror.Append(result, fmt.Errorf("releasing init data of %s: %w", sc.bound.fn.name, err))
		}
	}
	if err := sc.bound.scanDone(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

func (sc *Scan) failLocked(err error) {
	sc.state = ScanFailed
	sc.err = err
	sc.endHookLocked()
}

func (sc *Scan) endHook() {
	sc.mu.Lock()
	sc.endHookLocked()
	sc.mu.Unlock()
}

// endHookLocked reports the end of the scan to the hook exactly once.
func (sc *Scan) endHookLocked() {
	if sc.hook == nil || !sc.hookOK || sc.hooked {
		return
	}
	sc.hooked = true
	stats := sc.stats
	hookEnd(sc.ctx, sc.hook, sc.token, sc.info, &stats, sc.err)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
