// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package conformance

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/apache/arrow-go/v18/arrow/decimal128"

	"github.com/Query-farm/vgi-vtab/vtab"
)

var (
	bigint  = vtab.NewLogicalType(vtab.BigInt)
	integer = vtab.NewLogicalType(vtab.Integer)
	double  = vtab.NewLogicalType(vtab.Double)
	varchar = vtab.NewLogicalType(vtab.Varchar)
)

// onceInit is init data for functions that emit a single chunk.
type onceInit struct {
	Done bool
}

// --- counter(start, stop, step := 1) ---

type counterBind struct {
	Start, Stop, Step int64
}

type counterInit struct {
	Next int64
	Done bool
}

// Counter emits the integers in [start, stop) by step, filling each chunk to
// capacity.
type Counter struct{}

func (Counter) Parameters() []vtab.LogicalType { return []vtab.LogicalType{bigint, bigint} }

func (Counter) NamedParameters() map[string]vtab.LogicalType {
	return map[string]vtab.LogicalType{"step": bigint}
}

func (Counter) Bind(info *vtab.BindInfo) (*counterBind, error) {
	if err := info.AddResultColumn("i", bigint); err != nil {
		return nil, err
	}
	b := &counterBind{Step: 1}
	for i, dst := range []*int64{&b.Start, &b.Stop} {
		v, err := info.Parameter(i)
		if err != nil {
			return nil, err
		}
		if v.IsNull() {
			return nil, fmt.Errorf("counter: parameter %d must not be NULL", i)
		}
		if *dst, err = v.Int64(); err != nil {
			return nil, err
		}
	}
	if v, ok := info.NamedParameter("step"); ok && !v.IsNull() {
		step, err := v.Int64()
		if err != nil {
			return nil, err
		}
		b.Step = step
	}
	if b.Step == 0 {
		return nil, errors.New("counter: step must not be zero")
	}
	return b, nil
}

func (Counter) Init(info *vtab.InitInfo[counterBind]) (*counterInit, error) {
	return &counterInit{Next: info.BindData().Start}, nil
}

func (Counter) Produce(info *vtab.FunctionInfo[counterBind, counterInit], output *vtab.DataChunk) error {
	b, st := info.BindData(), info.InitData()
	vec, err := output.Vector(0)
	if err != nil {
		return err
	}
	n := 0
	for n < output.Capacity() && !st.Done && (b.Step > 0 && st.Next < b.Stop || b.Step < 0 && st.Next > b.Stop) {
		if err := vec.SetInt64(n, st.Next); err != nil {
			return err
		}
		n++
		// Stop before stepping past the bound; Next+Step may not fit in
		// an int64.
		if counterRemaining(st.Next, b.Stop) <= counterRemaining(0, b.Step) {
			st.Done = true
			break
		}
		st.Next += b.Step
	}
	return output.SetSize(n)
}

// counterRemaining returns the unsigned distance between from and to.
func counterRemaining(from, to int64) uint64 {
	if to >= from {
		return uint64(to) - uint64(from)
	}
	return uint64(from) - uint64(to)
}

// --- empty() ---

// Empty declares one column and signals end-of-stream on the first call.
type Empty struct{}

func (Empty) Parameters() []vtab.LogicalType { return nil }

func (Empty) Bind(info *vtab.BindInfo) (*struct{}, error) {
	return nil, info.AddResultColumn("x", integer)
}

func (Empty) Init(*vtab.InitInfo[struct{}]) (*struct{}, error) { return nil, nil }

func (Empty) Produce(_ *vtab.FunctionInfo[struct{}, struct{}], output *vtab.DataChunk) error {
	return output.SetSize(0)
}

// --- echo(a INTEGER, b DOUBLE, c VARCHAR) ---

type echoBind struct {
	Args []vtab.Value
}

// Echo returns its arguments, after implicit casts, as one row.
type Echo struct{}

func (Echo) Parameters() []vtab.LogicalType { return []vtab.LogicalType{integer, double, varchar} }

func (Echo) Bind(info *vtab.BindInfo) (*echoBind, error) {
	b := &echoBind{}
	for i, name := range []string{"a", "b", "c"} {
		v, err := info.Parameter(i)
		if err != nil {
			return nil, err
		}
		if err := info.AddResultColumn(name, v.Type()); err != nil {
			return nil, err
		}
		b.Args = append(b.Args, v)
	}
	return b, nil
}

func (Echo) Init(*vtab.InitInfo[echoBind]) (*onceInit, error) { return &onceInit{}, nil }

func (Echo) Produce(info *vtab.FunctionInfo[echoBind, onceInit], output *vtab.DataChunk) error {
	if info.InitData().Done {
		return output.SetSize(0)
	}
	info.InitData().Done = true
	for i, v := range info.BindData().Args {
		if err := output.SetValue(i, 0, v); err != nil {
			return err
		}
	}
	return output.SetSize(1)
}

// --- all_types() ---

// AllTypesColumns lists the columns of all_types in order.
var AllTypesColumns = func() []vtab.Column {
	dec, _ := vtab.NewDecimalType(18, 3)
	return []vtab.Column{
		{Name: "bool_col", Type: vtab.NewLogicalType(vtab.Boolean)},
		{Name: "tinyint_col", Type: vtab.NewLogicalType(vtab.TinyInt)},
		{Name: "smallint_col", Type: vtab.NewLogicalType(vtab.SmallInt)},
		{Name: "int_col", Type: integer},
		{Name: "bigint_col", Type: bigint},
		{Name: "float_col", Type: vtab.NewLogicalType(vtab.Float)},
		{Name: "double_col", Type: double},
		{Name: "varchar_col", Type: varchar},
		{Name: "blob_col", Type: vtab.NewLogicalType(vtab.Blob)},
		{Name: "date_col", Type: vtab.NewLogicalType(vtab.Date)},
		{Name: "timestamp_col", Type: vtab.NewLogicalType(vtab.Timestamp)},
		{Name: "decimal_col", Type: dec},
	}
}()

// AllTypes emits three rows covering every logical type: typical values,
// extreme values, and a row left entirely NULL.
type AllTypes struct{}

func (AllTypes) Parameters() []vtab.LogicalType { return nil }

func (AllTypes) Bind(info *vtab.BindInfo) (*struct{}, error) {
	for _, c := range AllTypesColumns {
		if err := info.AddResultColumn(c.Name, c.Type); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

func (AllTypes) Init(*vtab.InitInfo[struct{}]) (*onceInit, error) { return &onceInit{}, nil }

func (AllTypes) Produce(info *vtab.FunctionInfo[struct{}, onceInit], output *vtab.DataChunk) error {
	if info.InitData().Done {
		return output.SetSize(0)
	}
	info.InitData().Done = true

	ts := time.Date(2024, 2, 29, 12, 30, 45, 123456000, time.UTC)
	rows := [][]any{
		{true, int8(42), int16(-1234), int32(123456), int64(9876543210), float32(1.5), 2.25,
			"héllo", []byte{0xde, 0xad, 0xbe, 0xef}, ts, ts, "123.456"},
		{false, int8(math.MinInt8), int16(math.MaxInt16), int32(math.MinInt32), int64(math.MaxInt64),
			float32(-0.25), math.Inf(1), "", []byte{}, time.Unix(0, 0).UTC(), time.Unix(0, 0).UTC(),
			decimal128.FromI64(-1)},
	}
	for r, row := range rows {
		for c, v := range row {
			if err := output.SetValue(c, r, v); err != nil {
				return fmt.Errorf("all_types row %d column %s: %w", r, AllTypesColumns[c].Name, err)
			}
		}
	}
	return output.SetSize(3)
}

// --- projected() ---

type projectedInit struct {
	onceInit
	Columns []int
}

// Projected declares columns a, b and c and writes only the columns named
// in the projection hint. Unwritten columns read as NULL.
type Projected struct{}

func (Projected) Parameters() []vtab.LogicalType { return nil }

func (Projected) Bind(info *vtab.BindInfo) (*struct{}, error) {
	for _, name := range []string{"a", "b", "c"} {
		if err := info.AddResultColumn(name, integer); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

func (Projected) Init(info *vtab.InitInfo[struct{}]) (*projectedInit, error) {
	cols := info.Projection()
	if cols == nil {
		cols = []int{0, 1, 2}
	}
	return &projectedInit{Columns: cols}, nil
}

func (Projected) Produce(info *vtab.FunctionInfo[struct{}, projectedInit], output *vtab.DataChunk) error {
	st := info.InitData()
	if st.Done {
		return output.SetSize(0)
	}
	st.Done = true
	for _, c := range st.Columns {
		if err := output.SetValue(c, 0, int32(c+1)); err != nil {
			return err
		}
	}
	return output.SetSize(1)
}

// --- log_levels() ---

// LogLevels emits client log messages from every phase and one row.
type LogLevels struct{}

func (LogLevels) Parameters() []vtab.LogicalType { return nil }

func (LogLevels) Bind(info *vtab.BindInfo) (*struct{}, error) {
	extras := []vtab.KV{{Key: "phase", Value: "bind"}}
	if req, ok := vtab.RequestFromContext(info.Context()); ok && req.RequestID != "" {
		extras = append(extras, vtab.KV{Key: "request_id", Value: req.RequestID})
	}
	info.ClientLog(vtab.LogInfo, "bind", extras...)
	return nil, info.AddResultColumn("ok", vtab.NewLogicalType(vtab.Boolean))
}

func (LogLevels) Init(info *vtab.InitInfo[struct{}]) (*onceInit, error) {
	info.ClientLog(vtab.LogDebug, "init")
	return &onceInit{}, nil
}

func (LogLevels) Produce(info *vtab.FunctionInfo[struct{}, onceInit], output *vtab.DataChunk) error {
	if info.InitData().Done {
		return output.SetSize(0)
	}
	info.InitData().Done = true
	info.ClientLog(vtab.LogWarn, "produce warn", vtab.KV{Key: "rows", Value: "1"})
	info.ClientLog(vtab.LogTrace, "produce trace")
	if err := output.SetValue(0, 0, true); err != nil {
		return err
	}
	return output.SetSize(1)
}

// --- fail(phase VARCHAR, after BIGINT) ---

type failBind struct {
	Phase string
	After int64
}

type failInit struct {
	Chunks int64
}

// Fail returns an error from the named phase. For "produce" it first emits
// after one-row chunks; any other phase emits after chunks and ends.
type Fail struct{}

func (Fail) Parameters() []vtab.LogicalType { return []vtab.LogicalType{varchar, bigint} }

func (Fail) Bind(info *vtab.BindInfo) (*failBind, error) {
	phase, err := info.Parameter(0)
	if err != nil {
		return nil, err
	}
	after, err := info.Parameter(1)
	if err != nil {
		return nil, err
	}
	b := &failBind{Phase: phase.String()}
	if !after.IsNull() {
		if b.After, err = after.Int64(); err != nil {
			return nil, err
		}
	}
	info.ClientLog(vtab.LogInfo, "about to bind")
	if b.Phase == "bind" {
		return nil, errors.New("bind failed on request")
	}
	return b, info.AddResultColumn("n", bigint)
}

func (Fail) Init(info *vtab.InitInfo[failBind]) (*failInit, error) {
	if info.BindData().Phase == "init" {
		return nil, errors.New("init failed on request")
	}
	return &failInit{}, nil
}

func (Fail) Produce(info *vtab.FunctionInfo[failBind, failInit], output *vtab.DataChunk) error {
	b, st := info.BindData(), info.InitData()
	if st.Chunks >= b.After {
		if b.Phase == "produce" {
			return fmt.Errorf("produce failed after %d chunks", st.Chunks)
		}
		return output.SetSize(0)
	}
	if err := output.SetValue(0, 0, st.Chunks); err != nil {
		return err
	}
	st.Chunks++
	return output.SetSize(1)
}

// --- panic(phase VARCHAR) ---

type panicBind struct {
	Phase string
}

// Panic panics in the named phase.
type Panic struct{}

func (Panic) Parameters() []vtab.LogicalType { return []vtab.LogicalType{varchar} }

func (Panic) Bind(info *vtab.BindInfo) (*panicBind, error) {
	phase, err := info.Parameter(0)
	if err != nil {
		return nil, err
	}
	if phase.String() == "bind" {
		panic("bind panicked on request")
	}
	return &panicBind{Phase: phase.String()}, info.AddResultColumn("n", bigint)
}

func (Panic) Init(info *vtab.InitInfo[panicBind]) (*onceInit, error) {
	if info.BindData().Phase == "init" {
		panic("init panicked on request")
	}
	return &onceInit{}, nil
}

func (Panic) Produce(info *vtab.FunctionInfo[panicBind, onceInit], output *vtab.DataChunk) error {
	if info.BindData().Phase == "produce" {
		var m map[string]int
		m["boom"] = 1
	}
	if info.InitData().Done {
		return output.SetSize(0)
	}
	info.InitData().Done = true
	if err := output.SetValue(0, 0, int64(1)); err != nil {
		return err
	}
	return output.SetSize(1)
}

// --- resources() ---

// Tracker counts how many bind and init values of the resources function
// were created and closed.
type Tracker struct {
	bindOpened, bindClosed atomic.Int64
	initOpened, initClosed atomic.Int64
}

// Live returns the number of bind and init values not yet closed.
func (t *Tracker) Live() (binds, inits int64) {
	return t.bindOpened.Load() - t.bindClosed.Load(), t.initOpened.Load() - t.initClosed.Load()
}

// Opened returns the number of bind and init values created so far.
func (t *Tracker) Opened() (binds, inits int64) {
	return t.bindOpened.Load(), t.initOpened.Load()
}

// ResourceBind is closeable bind data.
type ResourceBind struct {
	tracker *Tracker
	closed  bool
}

// Close implements io.Closer.
func (b *ResourceBind) Close() error {
	if b.closed {
		return errors.New("bind data closed twice")
	}
	b.closed = true
	b.tracker.bindClosed.Add(1)
	return nil
}

// ResourceInit is closeable init data.
type ResourceInit struct {
	tracker *Tracker
	closed  bool
	Done    bool
}

// Close implements io.Closer.
func (i *ResourceInit) Close() error {
	if i.closed {
		return errors.New("init data closed twice")
	}
	i.closed = true
	i.tracker.initClosed.Add(1)
	return nil
}

// Resources creates closeable bind and init data and reports each release
// to its Tracker.
type Resources struct {
	Tracker *Tracker
}

func (Resources) Parameters() []vtab.LogicalType { return nil }

func (r Resources) Bind(info *vtab.BindInfo) (*ResourceBind, error) {
	if err := info.AddResultColumn("live_inits", bigint); err != nil {
		return nil, err
	}
	r.Tracker.bindOpened.Add(1)
	return &ResourceBind{tracker: r.Tracker}, nil
}

func (r Resources) Init(*vtab.InitInfo[ResourceBind]) (*ResourceInit, error) {
	r.Tracker.initOpened.Add(1)
	return &ResourceInit{tracker: r.Tracker}, nil
}

func (r Resources) Produce(info *vtab.FunctionInfo[ResourceBind, ResourceInit], output *vtab.DataChunk) error {
	if info.InitData().Done {
		return output.SetSize(0)
	}
	info.InitData().Done = true
	_, inits := r.Tracker.Live()
	if err := output.SetValue(0, 0, inits); err != nil {
		return err
	}
	return output.SetSize(1)
}
