// Package export writes the persisted event log as a download.
//
// # HTTP API
//
// Endpoint: GET /export (requires a bearer token with the "export" scope)
// Query parameters:
//   - limit: keep only the N newest events, 1..10000 (default: all)
//   - format: "csv" or "json" (default: csv)
//   - start, end: optional RFC3339 bounds
//
// Example:
//
//	curl -H "Authorization: Bearer $TOKEN" \
//	  "http://localhost:8080/export?limit=500" -OJ
//
// The response carries Content-Disposition with a file name of the form
// tracking-events-2025-03-01T12-00-00-000Z.csv.
//
// # Formats
//
// CSV has one header row and the columns component, variant, action,
// timestamp, metadata. Timestamps use millisecond ISO-8601 in UTC, metadata
// is the JSON encoding of the event's metadata or empty.
//
// JSON wraps the events with export metadata:
//
//	{
//	  "metadata": {
//	    "exported_at": "2025-03-01T12:00:00Z",
//	    "event_count": 2,
//	    "format": "json",
//	    "version": "1.0"
//	  },
//	  "events": [
//	    {"id": "...", "component": "Button", "variant": "primary", "action": "click", "timestamp": "..."}
//	  ]
//	}
//
// Rows are ordered newest first in both formats.
package export
