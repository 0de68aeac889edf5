package ingest

import (
	"errors"
	"fmt"
	"sync"

	"github.com/nicktill/tinytrack/pkg/event"
)

// ErrCardinalityLimit is returned when an event would add a facet value past the per-facet limit
var ErrCardinalityLimit = errors.New("cardinality limit exceeded")

// Facet names
const (
	FacetComponent = "component"
	FacetVariant   = "variant"
	FacetAction    = "action"
)

// CardinalityTracker bounds the number of distinct values each facet may
// take. Every stored value becomes a key in the /stats maps, so an unbounded
// facet means an unbounded response.
type CardinalityTracker struct {
	mu          sync.Mutex
	maxPerFacet int
	seen        map[string]map[string]struct{}
}

// NewCardinalityTracker creates a tracker allowing maxPerFacet values per facet.
func NewCardinalityTracker(maxPerFacet int) *CardinalityTracker {
	return &CardinalityTracker{
		maxPerFacet: maxPerFacet,
		seen: map[string]map[string]struct{}{
			FacetComponent: {},
			FacetVariant:   {},
			FacetAction:    {},
		},
	}
}

// Admit checks in against the limits and, if it passes, records its values.
// Check and record happen under one lock so concurrent requests cannot
// overshoot the limit together.
func (c *CardinalityTracker) Admit(in event.Input) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	values := facetValues(in)
	for facet, v := range values {
		set := c.seen[facet]
		if _, ok := set[v]; ok {
			continue
		}
		if len(set) >= c.maxPerFacet {
			return fmt.Errorf("%w: %s already has %d distinct values, %q is new", ErrCardinalityLimit, facet, len(set), v)
		}
	}
	for facet, v := range values {
		c.seen[facet][v] = struct{}{}
	}
	return nil
}

// Seed records the values already present in the log, typically from a
// snapshot taken at startup. Seeding ignores the limit.
func (c *CardinalityTracker) Seed(snap *event.Snapshot) {
	if snap == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	for facet, totals := range map[string]map[string]int64{
		FacetComponent: snap.TotalsByComponent,
		FacetVariant:   snap.TotalsByVariant,
		FacetAction:    snap.TotalsByAction,
	} {
		for v := range totals {
			c.seen[facet][v] = struct{}{}
		}
	}
}

// CardinalityStats provides cardinality usage information
type CardinalityStats struct {
	Components     int     `json:"components"`
	Variants       int     `json:"variants"`
	Actions        int     `json:"actions"`
	PerFacetLimit  int     `json:"per_facet_limit"`
	UtilizationPct float64 `json:"utilization_percent"`
}

// Stats returns current cardinality statistics. Utilization is that of the fullest facet.
func (c *CardinalityTracker) Stats() CardinalityStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := CardinalityStats{
		Components:    len(c.seen[FacetComponent]),
		Variants:      len(c.seen[FacetVariant]),
		Actions:       len(c.seen[FacetAction]),
		PerFacetLimit: c.maxPerFacet,
	}
	fullest := max(stats.Components, stats.Variants, stats.Actions)
	if c.maxPerFacet > 0 {
		stats.UtilizationPct = float64(fullest) / float64(c.maxPerFacet) * 100
	}
	return stats
}

func facetValues(in event.Input) map[string]string {
	return map[string]string{
		FacetComponent: in.Component,
		FacetVariant:   in.Variant,
		FacetAction:    in.Action,
	}
}
