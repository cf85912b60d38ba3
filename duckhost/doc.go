// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Package duckhost runs vtab table functions inside DuckDB. Attach turns a
// DuckDB connection into the host of a [vtab.Session]: every function the
// session registers becomes a DuckDB table function on that connection,
// and each query drives the Bind, Init and Produce phases through the
// session.
//
//	session := vtab.NewSession()
//	conn, _ := db.Conn(ctx)
//	if _, err := duckhost.Attach(ctx, conn, session); err != nil { ... }
//	if err := session.Load("hello", hello.ExtInit); err != nil { ... }
//	rows, _ := conn.QueryContext(ctx, "SELECT * FROM hello('World')")
//
// The package requires cgo.
package duckhost
