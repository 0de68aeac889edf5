package server

import (
	"io"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/nicktill/tinytrack/pkg/auth"
	"github.com/nicktill/tinytrack/pkg/httpx"
	"github.com/nicktill/tinytrack/pkg/ingest"
	"github.com/nicktill/tinytrack/pkg/server/monitor"
)

// Version reported by /health.
const Version = "1.0.0"

var startTime = time.Now()

// StorageUsage represents current storage usage stats.
type StorageUsage struct {
	UsedBytes int64 `json:"used_bytes"`
	MaxBytes  int64 `json:"max_bytes"`
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status      string                  `json:"status"`
	Version     string                  `json:"version"`
	Uptime      string                  `json:"uptime"`
	Storage     string                  `json:"storage"`
	Writes      monitor.WriteStatus     `json:"writes"`
	Cardinality ingest.CardinalityStats `json:"cardinality"`
}

// handleHealth reports degraded (503) once writes keep failing.
func handleHealth(backend string, writes *monitor.WriteMonitor, cardinality *ingest.CardinalityTracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, code := "healthy", http.StatusOK
		if !writes.IsHealthy() {
			status, code = "degraded", http.StatusServiceUnavailable
		}

		httpx.RespondJSON(w, code, HealthResponse{
			Status:      status,
			Version:     Version,
			Uptime:      time.Since(startTime).Round(time.Second).String(),
			Storage:     backend,
			Writes:      writes.Status(),
			Cardinality: cardinality.Stats(),
		})
	}
}

// handleStorageUsage returns current storage usage.
func handleStorageUsage(m *monitor.StorageMonitor, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if m == nil {
			httpx.RespondErrorString(w, http.StatusNotFound, httpx.CodeNotFound, "storage usage is not tracked for this backend")
			return
		}
		usedBytes, err := m.GetUsage()
		if err != nil {
			log.Error("failed to calculate storage usage", zap.Error(err))
			httpx.RespondErrorString(w, http.StatusInternalServerError, httpx.CodeInternal, "failed to calculate storage usage")
			return
		}

		httpx.RespondJSON(w, http.StatusOK, StorageUsage{
			UsedBytes: usedBytes,
			MaxBytes:  m.GetLimit(),
		})
	}
}

// Router builds the HTTP handler for every route, wrapped in CORS.
func (a *App) Router() http.Handler {
	router := mux.NewRouter()
	router.Use(accessLog(a.Log.Named("http"), a.Metrics))

	router.HandleFunc("/events", a.Ingest.HandleEvent).Methods(http.MethodPost)
	router.HandleFunc("/stats", a.Stats.HandleStats).Methods(http.MethodGet)
	router.Handle("/export", a.Auth.Require(auth.ScopeExport)(http.HandlerFunc(a.Export.HandleExport))).Methods(http.MethodGet)

	router.HandleFunc("/health", handleHealth(a.Config.Storage, a.WriteMonitor, a.Ingest.Cardinality())).Methods(http.MethodGet)
	router.HandleFunc("/storage", handleStorageUsage(a.StorageMonitor, a.Log)).Methods(http.MethodGet)
	router.Handle("/metrics", a.Metrics.Handler()).Methods(http.MethodGet)

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpx.RespondErrorString(w, http.StatusNotFound, httpx.CodeNotFound, "no route for "+r.Method+" "+r.URL.Path)
	})

	return handlers.CORS(
		handlers.AllowedOrigins(a.Config.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
	)(router)
}

// accessLog logs one line per request and feeds the HTTP metrics.
func accessLog(log *zap.Logger, m *Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return handlers.CustomLoggingHandler(io.Discard, next, func(_ io.Writer, p handlers.LogFormatterParams) {
			d := time.Since(p.TimeStamp)
			route := p.URL.Path
			if cur := mux.CurrentRoute(p.Request); cur != nil {
				if tpl, err := cur.GetPathTemplate(); err == nil {
					route = tpl
				}
			}
			m.ObserveRequest(route, p.Request.Method, p.StatusCode, d)

			fields := []zap.Field{
				zap.String("method", p.Request.Method),
				zap.String("path", p.URL.Path),
				zap.Int("status", p.StatusCode),
				zap.Int("size", p.Size),
				zap.Duration("duration", d),
				zap.String("ip", p.Request.RemoteAddr),
			}
			if p.StatusCode >= http.StatusInternalServerError {
				log.Warn("request", fields...)
				return
			}
			log.Info("request", fields...)
		})
	}
}
