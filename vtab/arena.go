// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package vtab

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-multierror"
)

// Handle is the opaque token a host holds for provider-owned bind or init
// data. It is only meaningful to the arena that issued it, and the zero
// Handle is never issued.
type Handle uint64

var handleSeq atomic.Uint64

// arena owns the bind or init data of one registration. Entries are only
// reachable through handles issued by the arena, so a stale or foreign
// handle is detected instead of dereferenced.
type arena[T any] struct {
	mu      sync.Mutex
	entries map[Handle]*T
}

func newArena[T any]() *arena[T] {
	return &arena[T]{entries: make(map[Handle]*T)}
}

// put stores v and returns its handle. Handles are drawn from a
// process-wide sequence so they never collide across arenas.
func (a *arena[T]) put(v *T) Handle {
	h := Handle(handleSeq.Add(1))
	a.mu.Lock()
	a.entries[h] = v
	a.mu.Unlock()
	return h
}

// get resolves a handle.
func (a *arena[T]) get(h Handle) (*T, error) {
	a.mu.Lock()
	v, ok := a.entries[h]
	a.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrInvalidHandle, h)
	}
	return v, nil
}

// release drops the entry and closes it if it implements io.Closer.
func (a *arena[T]) release(h Handle) error {
	a.mu.Lock()
	v, ok := a.entries[h]
	delete(a.entries, h)
	a.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %d", ErrInvalidHandle, h)
	}
	return closeData(v)
}

// len returns the number of live entries.
func (a *arena[T]) len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries)
}

// closeData closes provider data that holds resources. Both *T and T are
// checked so value-receiver Close methods are honoured.
func closeData[T any](v *T) error {
	if v == nil {
		return nil
	}
	if c, ok := any(v).(io.Closer); ok {
		return c.Close()
	}
	if c, ok := any(*v).(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// releaseAll drops every live entry and returns the aggregated close
// errors.
func (a *arena[T]) releaseAll() error {
	a.mu.Lock()
	entries := a.entries
	a.entries = make(map[Handle]*T)
	a.mu.Unlock()

	var result *multierror.Error
	for h, v := range entries {
		if err := closeData(v); err != nil {
			result = multierror.Append(result, fmt.Errorf("closing handle %d: %w", h, err))
		}
	}
	return result.ErrorOrNil()
}
