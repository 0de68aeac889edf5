package httpx

import (
	"net/http"
	"regexp"

	"github.com/nicktill/tinytrack/pkg/event"
	"github.com/nicktill/tinytrack/pkg/sdk"
)

var (
	numericSegment = regexp.MustCompile(`/\d+`)
	uuidSegment    = regexp.MustCompile(`/[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`)
)

type options struct {
	pageViews bool
}

// Option configures Middleware.
type Option func(*options)

// WithPageViews records a Page/<path>/view event for every successful GET.
func WithPageViews() Option {
	return func(o *options) { o.pageViews = true }
}

// Middleware attaches client to every request context so handlers can call
// sdk.FromContext(r.Context()).Track(...).
//
// Usage:
//
//	client, _ := sdk.New(sdk.Config{...})
//	client.Start(ctx)
//	defer client.Stop()
//
//	handler := httpx.Middleware(client)(mux)
//	http.ListenAndServe(":8000", handler)
func Middleware(client *sdk.Client, opts ...Option) func(http.Handler) http.Handler {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r = r.WithContext(sdk.WithClient(r.Context(), client))
			if !o.pageViews || r.Method != http.MethodGet {
				next.ServeHTTP(w, r)
				return
			}

			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rw, r)

			if rw.statusCode < 200 || rw.statusCode >= 300 {
				return
			}
			client.Track(event.Input{
				Component: "Page",
				Variant:   normalizePath(r.URL.Path),
				Action:    "view",
			})
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// normalizePath keeps page variants low-cardinality.
//   - /products/123 → /products/{id}
//   - /orders/6ba7b810-9dad-11d1-80b4-00c04fd430c8 → /orders/{id}
func normalizePath(path string) string {
	path = uuidSegment.ReplaceAllString(path, "/{id}")
	return numericSegment.ReplaceAllString(path, "/{id}")
}
