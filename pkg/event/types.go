package event

import "time"

// TimestampLayout is the wire format for client timestamps (ISO-8601, millisecond precision).
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// TrackingKey is the metadata key carrying session correlation.
const TrackingKey = "__tracking"

// Input is what a widget hands to the tracker.
type Input struct {
	Component string         `json:"component"`
	Variant   string         `json:"variant"`
	Action    string         `json:"action"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Tracked is a client-side event waiting for delivery. It is never mutated after creation.
type Tracked struct {
	Component string         `json:"component"`
	Variant   string         `json:"variant"`
	Action    string         `json:"action"`
	Timestamp string         `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Persisted is a stored event. Timestamp is assigned by the server at receipt.
type Persisted struct {
	ID        string         `json:"id"`
	Component string         `json:"component"`
	Variant   string         `json:"variant"`
	Action    string         `json:"action"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Recent is the projection of a Persisted event used in snapshots (no identifier).
type Recent struct {
	Component string         `json:"component"`
	Variant   string         `json:"variant"`
	Action    string         `json:"action"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Project drops the identifier.
func (p Persisted) Project() Recent {
	return Recent{
		Component: p.Component,
		Variant:   p.Variant,
		Action:    p.Action,
		Timestamp: p.Timestamp,
		Metadata:  p.Metadata,
	}
}

// Snapshot is a point-in-time aggregate over the persisted log.
// All fields come from one consistent read.
type Snapshot struct {
	TotalEvents       int64            `json:"totalEvents"`
	TotalsByComponent map[string]int64 `json:"totalsByComponent"`
	TotalsByVariant   map[string]int64 `json:"totalsByVariant"`
	TotalsByAction    map[string]int64 `json:"totalsByAction"`
	RecentEvents      []Recent         `json:"recentEvents"`
}

// NewSnapshot returns an empty snapshot with non-nil maps, so it encodes as {} rather than null.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		TotalsByComponent: make(map[string]int64),
		TotalsByVariant:   make(map[string]int64),
		TotalsByAction:    make(map[string]int64),
		RecentEvents:      []Recent{},
	}
}

// Count adds one event to the total and the three group-by facets.
func (s *Snapshot) Count(component, variant, action string) {
	s.TotalEvents++
	s.TotalsByComponent[component]++
	s.TotalsByVariant[variant]++
	s.TotalsByAction[action]++
}

// Context identifies the tracking session an event belongs to.
type Context struct {
	SessionID string
	AppID     string
}

// FormatTimestamp renders t the way clients send timestamps.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// SessionOf extracts __tracking.sessionId from metadata, if present.
func SessionOf(metadata map[string]any) string {
	tracking, ok := metadata[TrackingKey].(map[string]any)
	if !ok {
		return ""
	}
	id, _ := tracking["sessionId"].(string)
	return id
}
