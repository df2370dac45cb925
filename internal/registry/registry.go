// Package registry holds the process-wide, read-only catalog of boundary
// authorities and their sources. The registry is assembled once at startup
// from a static table and never mutated afterward; every accessor returns
// deep-immutable views so callers cannot corrupt shared state.
package registry

import (
	"fmt"
	"sort"

	"github.com/shadow-atlas/acquisition/internal/model"
)

// Authority is the catalog entry for one boundary type: who publishes it,
// under what legal basis, and with what expected lag between real-world
// change and republication.
type Authority struct {
	BoundaryType      model.BoundaryType
	PrimarySources    []model.SourceDescriptor
	AggregatorSources []model.SourceDescriptor
	UpdateTriggers    []model.UpdateTrigger
	ExpectedLag       int // days
	AuthorityEntity   string
	LegalBasis        string
}

// Registry is the in-memory authority/source catalog. The zero value is not
// usable; construct with New.
type Registry struct {
	byBoundary  map[model.BoundaryType]Authority
	byJuris     map[model.Jurisdiction][]model.SourceDescriptor
	descriptors map[string]model.SourceDescriptor
}

// New builds a Registry from a flat list of source descriptors, grouping
// them by boundary type and jurisdiction. descriptors is consumed entirely
// at construction time; Registry never reads from it again.
func New(descriptors []model.SourceDescriptor) (*Registry, error) {
	r := &Registry{
		byBoundary:  make(map[model.BoundaryType]Authority),
		byJuris:     make(map[model.Jurisdiction][]model.SourceDescriptor),
		descriptors: make(map[string]model.SourceDescriptor, len(descriptors)),
	}

	for _, bt := range model.AllBoundaryTypes {
		r.byBoundary[bt] = Authority{BoundaryType: bt}
	}

	for _, d := range descriptors {
		if !d.BoundaryType.Valid() {
			return nil, fmt.Errorf("registry: unknown boundary type %q for source %q", d.BoundaryType, d.ID)
		}
		if d.URLTemplate != "" && !containsYearToken(d.URLTemplate) {
			return nil, fmt.Errorf("registry: aggregator %q urlTemplate missing literal {YEAR}", d.ID)
		}
		if _, exists := r.descriptors[d.ID]; exists {
			return nil, fmt.Errorf("registry: duplicate source id %q", d.ID)
		}
		r.descriptors[d.ID] = d

		a := r.byBoundary[d.BoundaryType]
		switch d.Kind {
		case model.SourceKindPrimary:
			a.PrimarySources = append(a.PrimarySources, d)
		case model.SourceKindAggregator:
			a.AggregatorSources = append(a.AggregatorSources, d)
		default:
			return nil, fmt.Errorf("registry: unknown source kind %q for %q", d.Kind, d.ID)
		}
		a.UpdateTriggers = append(a.UpdateTriggers, d.PublishScheduleHints...)
		r.byBoundary[d.BoundaryType] = a

		if d.Jurisdiction != model.JurisdictionWildcard {
			r.byJuris[d.Jurisdiction] = append(r.byJuris[d.Jurisdiction], d)
		}
	}

	for bt, a := range r.byBoundary {
		sort.Slice(a.AggregatorSources, func(i, j int) bool {
			return a.AggregatorSources[i].PreferenceRank < a.AggregatorSources[j].PreferenceRank
		})
		sort.Slice(a.PrimarySources, func(i, j int) bool {
			return a.PrimarySources[i].PreferenceRank < a.PrimarySources[j].PreferenceRank
		})
		r.byBoundary[bt] = a
	}

	return r, nil
}

func containsYearToken(tmpl string) bool {
	const token = "{YEAR}"
	for i := 0; i+len(token) <= len(tmpl); i++ {
		if tmpl[i:i+len(token)] == token {
			return true
		}
	}
	return false
}

// GetAuthority returns the catalog entry for bt. It panics if bt is not one
// of the known boundary types — the registry is total over the enumeration
// by construction (every type is seeded in New, even with empty source
// lists), so an unknown type here indicates caller error, not missing data.
func (r *Registry) GetAuthority(bt model.BoundaryType) Authority {
	a, ok := r.byBoundary[bt]
	if !ok {
		panic(fmt.Sprintf("registry: unknown boundary type %q", bt))
	}
	return cloneAuthority(a)
}

func cloneAuthority(a Authority) Authority {
	out := a
	out.PrimarySources = append([]model.SourceDescriptor(nil), a.PrimarySources...)
	out.AggregatorSources = append([]model.SourceDescriptor(nil), a.AggregatorSources...)
	out.UpdateTriggers = append([]model.UpdateTrigger(nil), a.UpdateTriggers...)
	return out
}

// GetPrimarySourcesForState returns the primary sources registered under the
// given (case-sensitive, uppercase) state code. Unknown codes yield an empty
// slice, never an error.
func (r *Registry) GetPrimarySourcesForState(code string) []model.SourceDescriptor {
	var out []model.SourceDescriptor
	for _, d := range r.byJuris[model.Jurisdiction(code)] {
		if d.Kind == model.SourceKindPrimary {
			out = append(out, d)
		}
	}
	return out
}

// GetAggregatorSources returns the aggregator sources for bt, ordered by
// PreferenceRank ascending (most preferred first).
func (r *Registry) GetAggregatorSources(bt model.BoundaryType) []model.SourceDescriptor {
	return cloneAuthority(r.byBoundary[bt]).AggregatorSources
}

// HasPrimarySources reports whether bt has at least one registered primary
// source anywhere.
func (r *Registry) HasPrimarySources(bt model.BoundaryType) bool {
	return len(r.byBoundary[bt].PrimarySources) > 0
}

// GetStatesWithPrimarySources returns every state code that has at least
// one primary source registered, sorted and de-duplicated, excluding the
// wildcard jurisdiction.
func (r *Registry) GetStatesWithPrimarySources() []string {
	seen := make(map[string]struct{})
	for j, descs := range r.byJuris {
		if j == model.JurisdictionWildcard {
			continue
		}
		for _, d := range descs {
			if d.Kind == model.SourceKindPrimary {
				seen[string(j)] = struct{}{}
				break
			}
		}
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// IsRedistrictingWindow reports whether year is one of the two years
// immediately following a census year (year mod 10 in {1, 2}), during which
// legislative boundaries are subject to redistricting.
func IsRedistrictingWindow(year int) bool {
	m := ((year % 10) + 10) % 10
	return m == 1 || m == 2
}

// Lookup returns the descriptor for a registered source id.
func (r *Registry) Lookup(sourceID string) (model.SourceDescriptor, bool) {
	d, ok := r.descriptors[sourceID]
	return d, ok
}
