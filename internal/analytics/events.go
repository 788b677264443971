// Package analytics tracks search traffic: an asynchronous collector
// publishes per-request events to Kafka, and an event store persists them
// in PostgreSQL for offline analysis.
package analytics

import "time"

// EventType classifies a search event.
type EventType string

const (
	EventSearch     EventType = "search"
	EventZeroResult EventType = "zero_result"
	EventTimeout    EventType = "timeout"
)

// SearchEvent describes one executed search request.
type SearchEvent struct {
	Type           EventType `json:"type"`
	Query          string    `json:"query"`
	Filter         string    `json:"filter,omitempty"`
	Strategy       string    `json:"strategy,omitempty"`
	Hits           int       `json:"hits"`
	EstimatedTotal uint64    `json:"estimated_total"`
	LatencyMs      int64     `json:"latency_ms"`
	CacheHit       bool      `json:"cache_hit"`
	// Resolutions and ResolutionCacheHits count condition docids work done
	// by the ranking pipeline for this request.
	Resolutions         uint64    `json:"resolutions"`
	ResolutionCacheHits uint64    `json:"resolution_cache_hits"`
	Timestamp           time.Time `json:"timestamp"`
	RequestID           string    `json:"request_id,omitempty"`
}
