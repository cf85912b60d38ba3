// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package vtab

import (
	"fmt"
	"sort"
	"sync"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
)

// TeardownPolicy decides when bind and init data are released.
type TeardownPolicy int

const (
	// TeardownPerScan releases init data when its scan is closed and bind
	// data when its bound function is closed and no scan of it is open.
	TeardownPerScan TeardownPolicy = iota
	// TeardownPerSession keeps all bind and init data until the session
	// is closed.
	TeardownPerSession
)

func (p TeardownPolicy) String() string {
	switch p {
	case TeardownPerScan:
		return "scan"
	case TeardownPerSession:
		return "session"
	default:
		return fmt.Sprintf("TeardownPolicy(%d)", int(p))
	}
}

// ParseTeardownPolicy parses "scan" or "session".
func ParseTeardownPolicy(s string) (TeardownPolicy, error) {
	switch s {
	case "", "scan":
		return TeardownPerScan, nil
	case "session":
		return TeardownPerSession, nil
	}
	return 0, fmt.Errorf("unknown teardown policy %q (want scan or session)", s)
}

// Function is the host-facing signature of a registered table function.
type Function struct {
	Name            string
	Parameters      []LogicalType
	NamedParameters map[string]LogicalType
}

// Host receives every table function registered on a session. A host
// returning an error rejects the signature and the registration fails.
type Host interface {
	RegisterTableFunction(fn Function) error
}

// EntryPoint is the well-known initialisation function of an extension. It
// is called once per session and performs all registrations.
type EntryPoint func(s *Session) error

// Session is the table-function catalog of one host session. Every
// registration, bind and scan goes through it, so separate sessions never
// share state. A Session is safe for concurrent use.
type Session struct {
	mu        sync.RWMutex
	id        string
	functions map[string]*tableFunction
	loaded    map[string]struct{}
	host      Host
	hook      ScanHook
	capacity  int
	teardown  TeardownPolicy
	logLevel  LogLevel
	mem       memory.Allocator
	closed    bool
}

// NewSession creates an empty session with default settings.
func NewSession() *Session {
	return &Session{
		id:        uuid.NewString(),
		functions: make(map[string]*tableFunction),
		loaded:    make(map[string]struct{}),
		capacity:  DefaultChunkCapacity,
		teardown:  TeardownPerScan,
		logLevel:  LogTrace,
		mem:       memory.NewGoAllocator(),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id
}

// SetSessionID overrides the generated session identifier.
func (s *Session) SetSessionID(id string) {
	s.mu.Lock()
	s.id = id
	s.mu.Unlock()
}

// SetChunkCapacity sets the row capacity of chunks handed to Produce.
// Values below 1 restore the default.
func (s *Session) SetChunkCapacity(n int) {
	if n < 1 {
		n = DefaultChunkCapacity
	}
	s.mu.Lock()
	s.capacity = n
	s.mu.Unlock()
}

// ChunkCapacity returns the configured chunk capacity.
func (s *Session) ChunkCapacity() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.capacity
}

// SetTeardownPolicy selects when bind and init data are released.
func (s *Session) SetTeardownPolicy(p TeardownPolicy) {
	s.mu.Lock()
	s.teardown = p
	s.mu.Unlock()
}

// SetScanHook registers a hook that is called around each scan.
func (s *Session) SetScanHook(hook ScanHook) {
	s.mu.Lock()
	s.hook = hook
	s.mu.Unlock()
}

// SetLogLevel sets the minimum level of provider log messages kept.
func (s *Session) SetLogLevel(level LogLevel) {
	s.mu.Lock()
	s.logLevel = level
	s.mu.Unlock()
}

// SetAllocator sets the Arrow allocator used for output batches.
func (s *Session) SetAllocator(mem memory.Allocator) {
	s.mu.Lock()
	s.mem = mem
	s.mu.Unlock()
}

// SetHost attaches a host. Functions registered before the call are
// forwarded immediately; the first rejection is returned.
func (s *Session) SetHost(h Host) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.host = h
	if h == nil {
		return nil
	}
	for _, name := range s.sortedNames() {
		if err := h.RegisterTableFunction(s.functions[name].describe()); err != nil {
			return newError(PhaseRegister, name, ErrInvalidSignature, "host rejected signature: %v", err)
		}
	}
	return nil
}

// Load runs an extension entry point once. Loading the same name twice
// fails with ErrAlreadyLoaded. If the entry point fails, the functions it
// registered are removed from the session so the load can be retried; a
// host that already accepted them keeps its own copy.
func (s *Session) Load(name string, ep EntryPoint) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if _, ok := s.loaded[name]; ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyLoaded, name)
	}
	s.loaded[name] = struct{}{}
	before := make(map[string]struct{}, len(s.functions))
	for fn := range s.functions {
		before[fn] = struct{}{}
	}
	s.mu.Unlock()

	if err := ep(s); err != nil {
		var result *multierror.Error
		result = multierror.Append(result, fmt.Errorf("loading extension %s: %w", name, err))

		s.mu.Lock()
		delete(s.loaded, name)
		var added []*tableFunction
		for fn, tf := range s.functions {
			if _, ok := before[fn]; !ok {
				added = append(added, tf)
				delete(s.functions, fn)
			}
		}
		s.mu.Unlock()

		for _, tf := range added {
			if rerr := tf.releaseAll(); rerr != nil {
				result = multierror.Append(result, fmt.Errorf("%s: %w", tf.name, rerr))
			}
		}
		if len(result.Errors) == 1 {
			return result.Errors[0]
		}
		return result
	}
	return nil
}

// Register makes provider p callable under name in session s. It fails if
// the name is taken, the signature is invalid, or the attached host
// rejects it.
func Register[B any, I any](s *Session, name string, p Provider[B, I]) error {
	if p == nil {
		return newError(PhaseRegister, name, ErrInvalidSignature, "nil provider")
	}
	if err := validateName(name); err != nil {
		return newError(PhaseRegister, name, ErrInvalidSignature, "%v", err)
	}

	params := append([]LogicalType(nil), p.Parameters()...)
	for i, t := range params {
		if !t.Valid() {
			return newError(PhaseRegister, name, ErrInvalidSignature, "parameter %d has invalid type %s", i, t)
		}
	}
	var named map[string]LogicalType
	if np, ok := any(p).(NamedParameterProvider); ok {
		for k, t := range np.NamedParameters() {
			if k == "" || !t.Valid() {
				return newError(PhaseRegister, name, ErrInvalidSignature, "named parameter %q has invalid type %s", k, t)
			}
			if named == nil {
				named = make(map[string]LogicalType)
			}
			named[k] = t
		}
	}

	fn := newTableFunction(name, p, params, named)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if _, ok := s.functions[name]; ok {
		return newError(PhaseRegister, name, ErrDuplicateFunction, "%s", ErrDuplicateFunction)
	}
	if s.host != nil {
		if err := s.host.RegisterTableFunction(fn.describe()); err != nil {
			return newError(PhaseRegister, name, ErrInvalidSignature, "host rejected signature: %v", err)
		}
	}
	s.functions[name] = fn
	return nil
}

// Functions returns the registered signatures sorted by name.
func (s *Session) Functions() []Function {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := s.sortedNames()
	out := make([]Function, len(names))
	for i, name := range names {
		out[i] = s.functions[name].describe()
	}
	return out
}

// Lookup returns the signature registered under name.
func (s *Session) Lookup(name string) (Function, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn, ok := s.functions[name]
	if !ok {
		return Function{}, false
	}
	return fn.describe(), true
}

// Close releases every bind and init data still held by the session.
// Further registrations and binds fail with ErrSessionClosed.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	functions := s.functions
	s.mu.Unlock()

	var result *multierror.Error
	for name, fn := range functions {
		if err := fn.releaseAll(); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", name, err))
		}
	}
	return result.ErrorOrNil()
}

func (s *Session) lookup(name string) (*tableFunction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrSessionClosed
	}
	fn, ok := s.functions[name]
	if !ok {
		return nil, newError(PhaseBind, name, ErrUnknownFunction,
			"unknown table function %q, available: %v", name, s.sortedNames())
	}
	return fn, nil
}

// settings returns a consistent snapshot of the scan settings.
func (s *Session) settings() (capacity int, teardown TeardownPolicy, level LogLevel, hook ScanHook, mem memory.Allocator, id string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.capacity, s.teardown, s.logLevel, s.hook, s.mem, s.id
}

func (s *Session) sortedNames() []string {
	names := make([]string, 0, len(s.functions))
	for name := range s.functions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// validateName accepts SQL identifiers: a letter or underscore followed by
// letters, digits and underscores. Names starting with two underscores are
// reserved for introspection.
func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("empty function name")
	}
	if len(name) >= 2 && name[:2] == "__" {
		return fmt.Errorf("function name %q is reserved", name)
	}
	for i, r := range name {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return fmt.Errorf("function name %q is not an identifier", name)
		}
	}
	return nil
}
