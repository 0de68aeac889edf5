package export

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nicktill/tinytrack/pkg/config"
	"github.com/nicktill/tinytrack/pkg/httpx"
)

// Handler serves GET /export. Authorization is applied by the router.
type Handler struct {
	exporter *Exporter
	log      *zap.Logger
}

// NewHandler creates a new export handler
func NewHandler(exporter *Exporter, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{exporter: exporter, log: log.Named("export")}
}

// HandleExport handles GET /export
// Query params:
//   - limit: keep only the N newest events, 1..10000 (default: all)
//   - format: "csv" or "json" (default: csv)
//   - start, end: RFC3339 bounds (optional)
func (h *Handler) HandleExport(w http.ResponseWriter, r *http.Request) {
	opts, err := parseOptions(r)
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, httpx.CodeValidation, err)
		return
	}

	stamp := strings.NewReplacer(":", "-", ".", "-").Replace(h.exporter.now().UTC().Format("2006-01-02T15:04:05.000Z"))
	filename := fmt.Sprintf("tracking-events-%s.%s", stamp, opts.Format)
	if opts.Format == FormatJSON {
		w.Header().Set("Content-Type", "application/json")
	} else {
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))

	ctx, cancel := context.WithTimeout(r.Context(), config.ExportTimeout)
	defer cancel()

	sw := &streamWriter{w: w}
	result, err := h.exporter.Export(ctx, sw, opts)
	switch {
	case err != nil && !sw.started:
		h.log.Error("export failed", zap.Error(err))
		w.Header().Del("Content-Disposition")
		httpx.RespondErrorString(w, http.StatusInternalServerError, httpx.CodeInternal, "export failed")
		return
	case err != nil:
		h.log.Warn("export interrupted", zap.Error(err))
		return
	}

	h.log.Info("exported events",
		zap.Int("count", result.EventsExported),
		zap.String("format", result.Format),
		zap.Int("limit", opts.Limit),
	)
}

// streamWriter commits a 200 on the first byte written, so failures before
// any output can still become a JSON error response.
type streamWriter struct {
	w       http.ResponseWriter
	started bool
}

func (s *streamWriter) Write(p []byte) (int, error) {
	if !s.started {
		s.started = true
		s.w.WriteHeader(http.StatusOK)
	}
	return s.w.Write(p)
}

func parseOptions(r *http.Request) (Options, error) {
	query := r.URL.Query()
	opts := Options{Format: FormatCSV}

	if raw := query.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > config.MaxExportLimit {
			return opts, fmt.Errorf("limit must be an integer between 1 and %d", config.MaxExportLimit)
		}
		opts.Limit = n
	}

	switch f := query.Get("format"); f {
	case "", FormatCSV:
	case FormatJSON:
		opts.Format = FormatJSON
	default:
		return opts, fmt.Errorf("invalid format %q, must be csv or json", f)
	}

	var err error
	if opts.Start, err = parseTimeParam(query.Get("start")); err != nil {
		return opts, fmt.Errorf("start: %w", err)
	}
	if opts.End, err = parseTimeParam(query.Get("end")); err != nil {
		return opts, fmt.Errorf("end: %w", err)
	}
	if !opts.Start.IsZero() && !opts.End.IsZero() && opts.End.Before(opts.Start) {
		return opts, fmt.Errorf("start must not be after end")
	}
	return opts, nil
}

func parseTimeParam(param string) (time.Time, error) {
	if param == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, param)
	if err != nil {
		return time.Time{}, fmt.Errorf("expected RFC3339 timestamp, got %q", param)
	}
	return t, nil
}
