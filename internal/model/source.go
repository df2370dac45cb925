package model

import (
	"strconv"
	"strings"
	"time"
)

// TriggerKind is the tag of an UpdateTrigger sum type.
type TriggerKind string

const (
	TriggerAnnual        TriggerKind = "annual"
	TriggerRedistricting TriggerKind = "redistricting"
	TriggerCensus        TriggerKind = "census"
	TriggerEvent         TriggerKind = "event"
	TriggerManual        TriggerKind = "manual"
)

// UpdateTrigger is a tagged variant describing when a source is expected to
// publish a new version. Exactly the fields relevant to Kind are populated;
// callers must switch on Kind rather than inspect fields directly.
type UpdateTrigger struct {
	Kind TriggerKind

	// TriggerAnnual
	Month time.Month

	// TriggerRedistricting
	Years map[int]struct{}

	// TriggerCensus
	Year int

	// TriggerEvent
	Description string
}

// SourceDescriptor is the static, registry-defined description of a single
// source: what it is, who runs it, and where to find it. SourceDescriptors
// are assembled once at registry construction and never mutated afterward.
type SourceDescriptor struct {
	ID             string
	Kind           SourceKind
	AuthorityLevel AuthorityLevel
	// PreferenceRank orders same-kind sources for a boundary type; 1 is most
	// preferred.
	PreferenceRank int
	BoundaryType   BoundaryType
	Jurisdiction   Jurisdiction
	Entity         string
	LegalBasis     string

	// Exactly one of URL or URLTemplate is set. URLTemplate must contain the
	// literal substring "{YEAR}".
	URL         string
	URLTemplate string

	PublishScheduleHints []UpdateTrigger
	MachineReadable      bool
	Format               string

	// MuniID is the municipality/jurisdiction identity this source resolves
	// to in the storage layer. Set at registry construction time; the
	// orchestrator treats it as an opaque lookup key rather than deriving it.
	MuniID string
}

// ResolvedURL substitutes the literal {YEAR} token in URLTemplate, or returns
// URL unchanged if this descriptor uses a fixed URL.
func (d SourceDescriptor) ResolvedURL(year int) string {
	if d.URLTemplate == "" {
		return d.URL
	}
	return strings.ReplaceAll(d.URLTemplate, "{YEAR}", strconv.Itoa(year))
}

// CanonicalSource is the dynamic, per-entry tracking record the change
// detector and orchestrator maintain for a registered source over time.
type CanonicalSource struct {
	ID                 string
	MuniID             string
	URL                string
	BoundaryType       BoundaryType
	LastChecksum       *string
	LastChecked        *time.Time
	NextScheduledCheck time.Time
	UpdateTriggers     []UpdateTrigger
}

// Selection is the storage layer's durable record of which source won the
// most recent conflict resolution for a municipality.
type Selection struct {
	MuniID       string    `json:"muni_id"`
	SourceID     string    `json:"source_id"`
	SelectedAt   time.Time `json:"selected_at"`
	Reason       string    `json:"reason"`
	ManualOverride bool    `json:"manual_override"`
}

// Municipality is the minimal lookup-table row backing listMunicipalities.
type Municipality struct {
	MuniID string `json:"muni_id"`
	Name   string `json:"name"`
	State  string `json:"state"`
}
