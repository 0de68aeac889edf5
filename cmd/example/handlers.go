package main

import (
	"encoding/json"
	"net/http"
	"slices"
	"time"

	"github.com/nicktill/tinytrack/pkg/event"
	"github.com/nicktill/tinytrack/pkg/sdk"
	"github.com/nicktill/tinytrack/pkg/sdk/poller"
)

// widget describes one simulated UI component and what users can do with it.
type widget struct {
	Component string
	Variants  []string
	Actions   []string
}

var widgets = []widget{
	{Component: "Button", Variants: []string{"primary", "secondary", "ghost"}, Actions: []string{"click"}},
	{Component: "Input", Variants: []string{"default", "search"}, Actions: []string{"focus", "blur", "change"}},
	{Component: "Card", Variants: []string{"outlined", "elevated"}, Actions: []string{"click", "hover"}},
	{Component: "Modal", Variants: []string{"default", "confirm"}, Actions: []string{"open", "close"}},
}

func findWidget(component string) (widget, bool) {
	for _, w := range widgets {
		if w.Component == component {
			return w, true
		}
	}
	return widget{}, false
}

// setupHandlers configures all HTTP handlers
func setupHandlers(mux *http.ServeMux, dashboard *poller.Poller) {
	mux.HandleFunc("POST /widgets/{component}/{variant}/{action}", handleInteraction)
	mux.HandleFunc("GET /dashboard", handleDashboard(dashboard))
	mux.HandleFunc("GET /health", handleHealth)
}

// handleInteraction reports one widget interaction through the request's tracker.
// The body, if any, becomes the event metadata.
func handleInteraction(w http.ResponseWriter, r *http.Request) {
	in := event.Input{
		Component: r.PathValue("component"),
		Variant:   r.PathValue("variant"),
		Action:    r.PathValue("action"),
	}
	wd, ok := findWidget(in.Component)
	if !ok || !slices.Contains(wd.Variants, in.Variant) || !slices.Contains(wd.Actions, in.Action) {
		http.Error(w, "unknown widget interaction", http.StatusNotFound)
		return
	}

	if r.ContentLength > 0 {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&in.Metadata); err != nil {
			http.Error(w, "metadata must be a JSON object", http.StatusBadRequest)
			return
		}
	}

	sdk.FromContext(r.Context()).Track(in)
	w.WriteHeader(http.StatusAccepted)
}

// handleDashboard returns the last snapshot the poller received.
func handleDashboard(dashboard *poller.Poller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, updated := dashboard.Last()
		if snap == nil {
			http.Error(w, "no snapshot yet", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(struct {
			UpdatedAt time.Time       `json:"updatedAt"`
			Snapshot  *event.Snapshot `json:"snapshot"`
		}{updated, snap})
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	status := sdk.FromContext(r.Context()).Status()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":   "healthy",
		"uptime":   time.Since(startTime).Round(time.Second).String(),
		"tracking": status.Enabled,
		"pending":  status.Pending,
		"dropped":  status.Dropped,
	})
}
