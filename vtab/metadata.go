// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package vtab

// Well-known metadata keys used by the vtab wire protocol. They appear as
// custom_metadata on Arrow IPC RecordBatch messages, or as field metadata
// where noted.
const (
	MetaFunction       = "vtab.function"
	MetaRequestVersion = "vtab.request_version"
	MetaRequestID      = "vtab.request_id"
	MetaLogLevel       = "vtab.log_level"
	MetaLogMessage     = "vtab.log_message"
	MetaLogExtra       = "vtab.log_extra"
	MetaServerID       = "vtab.server_id"
	MetaSessionID      = "vtab.session_id"
	MetaScanID         = "vtab.scan_id"
	MetaProjection     = "vtab.projection"

	// MetaNamed marks a request field as a named argument (field metadata).
	MetaNamed = "vtab.named"

	ProtocolVersion = "1"

	// DescribeFunction is the reserved function name that returns the
	// catalog instead of running a scan.
	DescribeFunction = "__describe__"
)
