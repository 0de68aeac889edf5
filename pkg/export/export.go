package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/nicktill/tinytrack/pkg/event"
	"github.com/nicktill/tinytrack/pkg/storage"
)

// Supported formats
const (
	FormatCSV  = "csv"
	FormatJSON = "json"
)

// Version of the JSON export layout
const Version = "1.0"

// csvHeader is the column order of CSV exports.
var csvHeader = []string{"component", "variant", "action", "timestamp", "metadata"}

// Exporter writes the persisted event log in a downloadable format.
type Exporter struct {
	storage storage.Storage
	now     func() time.Time
}

// NewExporter creates a new exporter
func NewExporter(store storage.Storage) *Exporter {
	return &Exporter{storage: store, now: time.Now}
}

// Options configures one export.
type Options struct {
	// Limit keeps only the Limit newest events (0 = all)
	Limit int

	// Optional time range, inclusive
	Start time.Time
	End   time.Time

	// Format: "csv" or "json"
	Format string
}

// Result describes a finished export.
type Result struct {
	EventsExported int       `json:"events_exported"`
	Format         string    `json:"format"`
	ExportedAt     time.Time `json:"exported_at"`
}

// Document is the JSON export layout.
type Document struct {
	Metadata struct {
		ExportedAt time.Time `json:"exported_at"`
		EventCount int       `json:"event_count"`
		Limit      int       `json:"limit,omitempty"`
		Format     string    `json:"format"`
		Version    string    `json:"version"`
	} `json:"metadata"`
	Events []event.Persisted `json:"events"`
}

// Export writes the newest events to w, newest first.
func (e *Exporter) Export(ctx context.Context, w io.Writer, opts Options) (*Result, error) {
	events, err := e.storage.Query(ctx, storage.QueryRequest{
		Start: opts.Start,
		End:   opts.End,
		Limit: opts.Limit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}

	exportedAt := e.now().UTC()
	switch opts.Format {
	case FormatJSON:
		err = writeJSON(w, events, opts, exportedAt)
	case FormatCSV, "":
		opts.Format = FormatCSV
		err = writeCSV(w, events)
	default:
		return nil, fmt.Errorf("unsupported format %q", opts.Format)
	}
	if err != nil {
		return nil, err
	}

	return &Result{
		EventsExported: len(events),
		Format:         opts.Format,
		ExportedAt:     exportedAt,
	}, nil
}

func writeJSON(w io.Writer, events []event.Persisted, opts Options, exportedAt time.Time) error {
	doc := Document{Events: events}
	if doc.Events == nil {
		doc.Events = []event.Persisted{}
	}
	doc.Metadata.ExportedAt = exportedAt
	doc.Metadata.EventCount = len(events)
	doc.Metadata.Limit = opts.Limit
	doc.Metadata.Format = FormatJSON
	doc.Metadata.Version = Version

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(doc); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}

func writeCSV(w io.Writer, events []event.Persisted) error {
	writer := csv.NewWriter(w)

	if err := writer.Write(csvHeader); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, e := range events {
		metadata := ""
		if len(e.Metadata) > 0 {
			encoded, err := json.Marshal(e.Metadata)
			if err != nil {
				return fmt.Errorf("failed to encode metadata of %s: %w", e.ID, err)
			}
			metadata = string(encoded)
		}

		row := []string{
			e.Component,
			e.Variant,
			e.Action,
			event.FormatTimestamp(e.Timestamp),
			metadata,
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	return writer.Error()
}
