// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package vtab

// Provider is a pluggable table function. B is the provider's bind data
// and I its per-scan init data; both are opaque to the host.
//
// Bind data is created once per query reference and shared by every scan
// of it, so it should only hold state derived from the parameters. Init
// data is created once per scan and is the place to track progress.
type Provider[B any, I any] interface {
	// Parameters lists the required positional parameter types. The host
	// type-checks call-site arguments against it before Bind runs.
	Parameters() []LogicalType

	// Bind reads the parameters, declares the result columns and returns
	// the bind data.
	Bind(info *BindInfo) (*B, error)

	// Init prepares one scan and returns its init data.
	Init(info *InitInfo[B]) (*I, error)

	// Produce fills output with up to output.Capacity() rows and sets the
	// row count. A row count of zero ends the scan.
	Produce(info *FunctionInfo[B, I], output *DataChunk) error
}

// NamedParameterProvider is implemented by providers that accept named
// parameters (name => value) in addition to the positional ones. Named
// parameters are optional at the call site.
type NamedParameterProvider interface {
	NamedParameters() map[string]LogicalType
}
