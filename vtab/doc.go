// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Package vtab implements the provider side of a table-function extension
// protocol: external code registers a named, vectorized, streaming data
// source that a columnar host engine drives through a three-phase
// callback life cycle.
//
// # Life cycle
//
// For every query that references a registered name the host calls:
//
//   - Bind once, at plan time. The provider reads the call-site
//     parameters from [BindInfo], declares its output columns with
//     [BindInfo.AddResultColumn] and returns its bind data.
//   - Init once per physical scan. The provider returns init data, the
//     only state that may change from one Produce call to the next.
//   - Produce repeatedly. Each call fills at most [DataChunk.Capacity]
//     rows and declares the row count with [DataChunk.SetSize]. A row
//     count of zero is the end-of-stream signal; the host never calls
//     Produce again for that scan.
//
// # Providers
//
// A provider implements [Provider] for its own bind data type B and init
// data type I and is registered under a name with [Register]:
//
//	type helloBind struct{ name string }
//	type helloInit struct{ done bool }
//
//	vtab.Register[helloBind, helloInit](session, "hello", HelloProvider{})
//
// Register generates type-specific trampolines that park bind and init
// data in arenas owned by the registration. The host only ever holds an
// opaque [Handle]; it is validated against the arena before every
// dereference. Every callback runs behind a guard that turns returned
// errors and recovered panics into a single [*Error].
//
// # Host side
//
// [Session] is the per-session catalog. [Session.Bind], [BoundFunction.NewScan]
// and [Scan.Next] drive the protocol and enforce its sequencing rules, so
// both in-process hosts and the transports in this package share one
// implementation of the state machine.
//
// # Transports
//
// [Server] exposes a session over Arrow IPC streams on an
// io.Reader/io.Writer pair (stdio, unix sockets). [HttpServer] exposes the
// same protocol over HTTP with optional zstd compression. Requests carry
// the function name and arguments in a single one-row batch; responses are
// a stream of data batches, one per chunk, interleaved with log batches.
package vtab
