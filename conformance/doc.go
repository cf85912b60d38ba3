// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Package conformance provides table functions that exercise every part of
// the vtab protocol: chunked output, end-of-stream, named parameters,
// implicit casts, every logical type, projection hints, client-directed
// logging, error propagation from each phase, recovered panics, and the
// release of closeable bind and init data.
//
// The entry point intended for external use is [RegisterFunctions], which
// registers all conformance functions on a [vtab.Session].
package conformance
