// Package ingest implements POST /events: validate one event, stamp it with
// the server clock and append it to the log.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/coder/quartz"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nicktill/tinytrack/pkg/config"
	"github.com/nicktill/tinytrack/pkg/event"
	"github.com/nicktill/tinytrack/pkg/httpx"
	"github.com/nicktill/tinytrack/pkg/publish"
	"github.com/nicktill/tinytrack/pkg/sdk/sanitize"
	"github.com/nicktill/tinytrack/pkg/storage"
)

// Outcomes passed to Recorder.
const (
	OutcomeAccepted    = "accepted"
	OutcomeInvalid     = "invalid"
	OutcomeRateLimited = "rate_limited"
	OutcomeCardinality = "cardinality"
	OutcomeStorageFull = "storage_full"
	OutcomeError       = "error"
)

// StorageChecker reports disk usage against a limit.
type StorageChecker interface {
	GetUsage() (int64, error)
	GetLimit() int64
}

// WriteRecorder is told about every storage write.
type WriteRecorder interface {
	RecordSuccess()
	RecordFailure(err error)
}

// Recorder receives the outcome of every request.
type Recorder interface {
	RecordIngest(outcome string)
}

// EventResponse is the 201 body.
type EventResponse struct {
	Event event.Persisted `json:"event"`
}

// Handler handles event ingestion
type Handler struct {
	store       storage.Storage
	log         *zap.Logger
	clock       quartz.Clock
	cardinality *CardinalityTracker

	limiter        *SessionLimiter
	storageChecker StorageChecker
	writes         WriteRecorder
	publisher      publish.Publisher
	recorder       Recorder
}

// NewHandler creates an ingest handler writing to store.
func NewHandler(store storage.Storage, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		store:       store,
		log:         log.Named("ingest"),
		clock:       quartz.NewReal(),
		cardinality: NewCardinalityTracker(config.MaxValuesPerFacet),
		publisher:   publish.Nop{},
	}
}

// SetLimiter enables per-session rate limiting.
func (h *Handler) SetLimiter(l *SessionLimiter) { h.limiter = l }

// SetStorageChecker enables the storage limit.
func (h *Handler) SetStorageChecker(c StorageChecker) { h.storageChecker = c }

// SetWriteRecorder reports write outcomes to r.
func (h *Handler) SetWriteRecorder(r WriteRecorder) { h.writes = r }

// SetPublisher forwards persisted events to p.
func (h *Handler) SetPublisher(p publish.Publisher) { h.publisher = p }

// SetRecorder reports request outcomes to r.
func (h *Handler) SetRecorder(r Recorder) { h.recorder = r }

// SetClock replaces the clock used for server timestamps.
func (h *Handler) SetClock(c quartz.Clock) { h.clock = c }

// Cardinality exposes the facet tracker, for seeding and health reporting.
func (h *Handler) Cardinality() *CardinalityTracker { return h.cardinality }

// HandleEvent handles POST /events.
func (h *Handler) HandleEvent(w http.ResponseWriter, r *http.Request) {
	in, err := decodeInput(w, r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.reject(w, http.StatusRequestEntityTooLarge, httpx.CodePayloadTooLarge, OutcomeInvalid,
				fmt.Errorf("request body exceeds %d bytes", event.MaxRequestBodyLen))
			return
		}
		h.reject(w, http.StatusBadRequest, httpx.CodeValidation, OutcomeInvalid, fmt.Errorf("invalid JSON: %w", err))
		return
	}

	if err := event.Validate(in); err != nil {
		h.reject(w, http.StatusBadRequest, httpx.CodeValidation, OutcomeInvalid, err)
		return
	}

	if h.limiter != nil && !h.limiter.Allow(sessionKey(in, r)) {
		w.Header().Set("Retry-After", "1")
		h.reject(w, http.StatusTooManyRequests, httpx.CodeRateLimited, OutcomeRateLimited, ErrRateLimited)
		return
	}

	if err := h.checkStorage(); err != nil {
		if errors.Is(err, ErrStorageFull) {
			h.reject(w, http.StatusInsufficientStorage, httpx.CodeStorageFull, OutcomeStorageFull, err)
			return
		}
		// Usage unknown; don't block ingestion on a monitoring failure.
		h.log.Warn("storage usage check failed", zap.Error(err))
	}

	if err := h.cardinality.Admit(in); err != nil {
		h.reject(w, http.StatusUnprocessableEntity, httpx.CodeCardinality, OutcomeCardinality, err)
		return
	}

	ev := event.Persisted{
		ID:        uuid.NewString(),
		Component: in.Component,
		Variant:   in.Variant,
		Action:    in.Action,
		Timestamp: h.clock.Now().UTC(),
		Metadata:  scrub(in.Metadata),
	}

	ctx, cancel := context.WithTimeout(r.Context(), config.IngestTimeout)
	defer cancel()

	if err := h.store.Write(ctx, []event.Persisted{ev}); err != nil {
		if h.writes != nil {
			h.writes.RecordFailure(err)
		}
		h.log.Error("failed to persist event",
			zap.String("component", ev.Component),
			zap.String("action", ev.Action),
			zap.Error(err))
		h.reject(w, http.StatusInternalServerError, httpx.CodeInternal, OutcomeError, errors.New("failed to store event"))
		return
	}
	if h.writes != nil {
		h.writes.RecordSuccess()
	}

	if err := h.publisher.Publish(ctx, ev); err != nil {
		h.log.Warn("failed to publish event", zap.String("id", ev.ID), zap.Error(err))
	}

	h.record(OutcomeAccepted)
	httpx.RespondJSON(w, http.StatusCreated, EventResponse{Event: ev})
}

func decodeInput(w http.ResponseWriter, r *http.Request) (event.Input, error) {
	var in event.Input
	body := http.MaxBytesReader(w, r.Body, event.MaxRequestBodyLen)
	if err := json.NewDecoder(body).Decode(&in); err != nil {
		return event.Input{}, err
	}
	return in, nil
}

func (h *Handler) checkStorage() error {
	if h.storageChecker == nil {
		return nil
	}
	usage, err := h.storageChecker.GetUsage()
	if err != nil {
		return fmt.Errorf("check storage usage: %w", err)
	}
	if limit := h.storageChecker.GetLimit(); limit > 0 && usage >= limit {
		return fmt.Errorf("%w (%d of %d bytes used)", ErrStorageFull, usage, limit)
	}
	return nil
}

func (h *Handler) reject(w http.ResponseWriter, status int, code, outcome string, err error) {
	h.record(outcome)
	if status >= http.StatusInternalServerError {
		h.log.Warn("event rejected", zap.Int("status", status), zap.Error(err))
	} else {
		h.log.Debug("event rejected", zap.Int("status", status), zap.Error(err))
	}
	httpx.RespondError(w, status, code, err)
}

func (h *Handler) record(outcome string) {
	if h.recorder != nil {
		h.recorder.RecordIngest(outcome)
	}
}

// sessionKey picks the rate-limit bucket: the tracking session if the
// client sent one, otherwise the remote host.
func sessionKey(in event.Input, r *http.Request) string {
	if id := event.SessionOf(in.Metadata); id != "" {
		return "session:" + id
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "addr:" + host
}

// scrub drops sensitive keys at every depth. Well-behaved clients already
// sanitize, but the log must stay clean even when they don't.
func scrub(md map[string]any) map[string]any {
	if md == nil {
		return nil
	}
	out := make(map[string]any, len(md))
	for k, v := range md {
		if sanitize.IsSensitiveKey(k) {
			continue
		}
		out[k] = scrubValue(v)
	}
	return out
}

func scrubValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return scrub(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = scrubValue(e)
		}
		return out
	default:
		return v
	}
}
