package model

import (
	"time"

	"github.com/google/uuid"
)

// BBox is a geographic bounding box in WGS84 degrees.
type BBox struct {
	MinLon float64 `json:"min_lon"`
	MinLat float64 `json:"min_lat"`
	MaxLon float64 `json:"max_lon"`
	MaxLat float64 `json:"max_lat"`
}

// Valid reports whether b lies within WGS84 bounds.
func (b BBox) Valid() bool {
	return b.MinLon >= -180 && b.MaxLon <= 180 &&
		b.MinLat >= -90 && b.MaxLat <= 90 &&
		b.MinLon <= b.MaxLon && b.MinLat <= b.MaxLat
}

// LonSpan returns the east-west extent of the box in degrees.
func (b BBox) LonSpan() float64 { return b.MaxLon - b.MinLon }

// LatSpan returns the north-south extent of the box in degrees.
func (b BBox) LatSpan() float64 { return b.MaxLat - b.MinLat }

// Artifact is an immutable, content-addressed boundary payload. Once
// inserted it is never mutated; re-inserting the same (MuniID, ContentSHA256)
// pair is idempotent.
type Artifact struct {
	ID            uuid.UUID `json:"id"`
	MuniID        string    `json:"muni_id"`
	ContentSHA256 string    `json:"content_sha256"`
	RecordCount   int       `json:"record_count"`
	BBox          *BBox     `json:"bbox,omitempty"`
	ETag          *string   `json:"etag,omitempty"`
	LastModified  *time.Time `json:"last_modified,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Head points at the current Artifact for a municipality. There is exactly
// zero or one Head per MuniID; updating it is the commit point for a
// boundary refresh.
type Head struct {
	MuniID     string    `json:"muni_id"`
	ArtifactID uuid.UUID `json:"artifact_id"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// EventKind enumerates the acquisition-pipeline event types recorded against
// a run.
type EventKind string

const (
	EventDiscover EventKind = "DISCOVER"
	EventSelect   EventKind = "SELECT"
	EventFetch    EventKind = "FETCH"
	EventUpdate   EventKind = "UPDATE"
	EventError    EventKind = "ERROR"
	EventSkip     EventKind = "SKIP"
)

// AcquisitionEvent is an append-only record of a single step in the
// acquisition pipeline, scoped to a run and optionally a municipality.
type AcquisitionEvent struct {
	ID         uuid.UUID      `json:"id"`
	RunID      string         `json:"run_id"`
	MuniID     *string        `json:"muni_id,omitempty"`
	Kind       EventKind      `json:"kind"`
	Payload    map[string]any `json:"payload"`
	DurationMs *int64         `json:"duration_ms,omitempty"`
	Error      *string        `json:"error,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}
