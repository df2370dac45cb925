// Package gap knows the decennial redistricting cycle: which years are
// census years, which are redistricting years, when the federal aggregator
// falls behind newly-finalized state maps, and which states have finalized
// their maps in the current cycle. The per-state finalization table is
// loaded as configuration data rather than compiled in.
package gap

import (
	_ "embed"
	"fmt"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/shadow-atlas/acquisition/internal/model"
)

//go:embed finalization.yaml
var defaultFinalizationYAML []byte

// FinalizationInfo describes when a state's redistricting cycle concluded.
type FinalizationInfo struct {
	FinalizedDate   time.Time
	EffectiveDate   time.Time
	CourtChallenges bool
	Notes           string
}

type rawFinalization struct {
	FinalizedDate   string `yaml:"finalized_date"`
	EffectiveDate   string `yaml:"effective_date"`
	CourtChallenges bool   `yaml:"court_challenges"`
	Notes           string `yaml:"notes"`
}

// Detector answers gap/cycle questions given a per-state finalization table.
type Detector struct {
	finalization map[string]FinalizationInfo
}

// New builds a Detector from the embedded default finalization table.
func New() (*Detector, error) {
	return Load(defaultFinalizationYAML)
}

// Load builds a Detector from a YAML document shaped like finalization.yaml.
func Load(data []byte) (*Detector, error) {
	var raw map[string]rawFinalization
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("gap: parse finalization table: %w", err)
	}
	out := make(map[string]FinalizationInfo, len(raw))
	for state, r := range raw {
		fd, err := time.Parse("2006-01-02", r.FinalizedDate)
		if err != nil {
			return nil, fmt.Errorf("gap: %s: finalized_date: %w", state, err)
		}
		ed, err := time.Parse("2006-01-02", r.EffectiveDate)
		if err != nil {
			return nil, fmt.Errorf("gap: %s: effective_date: %w", state, err)
		}
		out[state] = FinalizationInfo{
			FinalizedDate:   fd,
			EffectiveDate:   ed,
			CourtChallenges: r.CourtChallenges,
			Notes:           r.Notes,
		}
	}
	return &Detector{finalization: out}, nil
}

// IsInGap reports whether asOf falls in the redistricting gap: Jan-Jun of a
// year congruent to 2 mod 10.
func IsInGap(asOf time.Time) bool {
	return yearMod10(asOf.Year()) == 2 && asOf.Month() <= time.June
}

// CycleInfo describes the currently-active redistricting cycle, if any.
type CycleInfo struct {
	CensusYear             int
	FirstRedistrictingYear int
	GapStart               time.Time
	GapEnd                 time.Time
	GraceEnd               time.Time
}

// GetCurrentCycle returns the active cycle metadata during a redistricting
// or grace period, or nil if asOf is not within either.
func (d *Detector) GetCurrentCycle(asOf time.Time) *CycleInfo {
	y := asOf.Year()
	switch yearMod10(y) {
	case 1:
		return &CycleInfo{
			CensusYear:             y - 1,
			FirstRedistrictingYear: y,
			GapStart:               time.Date(y+1, time.January, 1, 0, 0, 0, 0, time.UTC),
			GapEnd:                 julyFirst(y + 1),
			GraceEnd:               julyFirst(y + 1).AddDate(0, 18, 0),
		}
	case 2:
		return &CycleInfo{
			CensusYear:             y - 2,
			FirstRedistrictingYear: y - 1,
			GapStart:               time.Date(y, time.January, 1, 0, 0, 0, 0, time.UTC),
			GapEnd:                 julyFirst(y),
			GraceEnd:               julyFirst(y).AddDate(0, 18, 0),
		}
	default:
		gy, ok := nearestPastGapYear(y)
		if !ok {
			return nil
		}
		graceEnd := julyFirst(gy).AddDate(0, 18, 0)
		if !asOf.Before(graceEnd) {
			return nil
		}
		return &CycleInfo{
			CensusYear:             gy - 2,
			FirstRedistrictingYear: gy - 1,
			GapStart:               time.Date(gy, time.January, 1, 0, 0, 0, 0, time.UTC),
			GapEnd:                 julyFirst(gy),
			GraceEnd:               graceEnd,
		}
	}
}

// GapType classifies where a boundary type/state pair sits in the
// finalization lifecycle.
type GapType string

const (
	GapNone                     GapType = "none"
	GapPreFinalization          GapType = "pre-finalization"
	GapPostFinalizationPreTiger GapType = "post-finalization-pre-tiger"
	GapPostTiger                GapType = "post-tiger"
)

// Recommendation is which family of source to prefer.
type Recommendation string

const (
	RecommendUseTiger   Recommendation = "use-tiger"
	RecommendUsePrimary Recommendation = "use-primary"
)

// GapCheckResult is the outcome of CheckBoundaryGap.
type GapCheckResult struct {
	InGap            bool
	GapType          GapType
	Recommendation   Recommendation
	Reasoning        string
	FinalizationInfo *FinalizationInfo
}

// CheckBoundaryGap reports the redistricting-gap status of a boundary type
// in a given state as of asOf. Non-legislative boundary types are never in
// a gap; unknown states during an active cycle default to pre-finalization.
func (d *Detector) CheckBoundaryGap(bt model.BoundaryType, state string, asOf time.Time) GapCheckResult {
	if !model.IsLegislative(bt) {
		return GapCheckResult{
			GapType:        GapNone,
			Recommendation: RecommendUseTiger,
			Reasoning:      "non-legislative boundary types are not subject to redistricting gaps",
		}
	}

	cycle := d.GetCurrentCycle(asOf)
	if cycle == nil {
		return GapCheckResult{
			GapType:        GapNone,
			Recommendation: RecommendUseTiger,
			Reasoning:      "outside any active redistricting cycle",
		}
	}

	info, known := d.finalization[state]
	switch {
	case !known:
		return GapCheckResult{
			InGap:          true,
			GapType:        GapPreFinalization,
			Recommendation: RecommendUseTiger,
			Reasoning:      fmt.Sprintf("no finalization record for %q during an active redistricting cycle; defaulting to the aggregator", state),
		}
	case asOf.Before(info.FinalizedDate):
		return GapCheckResult{
			InGap:            true,
			GapType:          GapPreFinalization,
			Recommendation:   RecommendUseTiger,
			Reasoning:        "state has not yet finalized new maps",
			FinalizationInfo: &info,
		}
	case asOf.Before(cycle.GapEnd):
		return GapCheckResult{
			InGap:            true,
			GapType:          GapPostFinalizationPreTiger,
			Recommendation:   RecommendUsePrimary,
			Reasoning:        "state finalized new maps but the aggregator has not yet republished",
			FinalizationInfo: &info,
		}
	default:
		return GapCheckResult{
			InGap:            true,
			GapType:          GapPostTiger,
			Recommendation:   RecommendUseTiger,
			Reasoning:        "aggregator has republished post-redistricting",
			FinalizationInfo: &info,
		}
	}
}

// StateGapStatus is one row of GetStatesInGap's result.
type StateGapStatus struct {
	StateCode      string
	GapDays        int
	Recommendation Recommendation
}

// GetStatesInGap returns every state whose maps have taken effect (asOf >=
// EffectiveDate) during the current cycle, sorted by days-since-effective
// descending — states whose new maps have been waiting longest for the
// aggregator to catch up sort first.
func (d *Detector) GetStatesInGap(asOf time.Time) []StateGapStatus {
	if d.GetCurrentCycle(asOf) == nil {
		return nil
	}
	var out []StateGapStatus
	for state, info := range d.finalization {
		if asOf.Before(info.EffectiveDate) {
			continue
		}
		check := d.CheckBoundaryGap(model.BoundaryCongressional, state, asOf)
		out = append(out, StateGapStatus{
			StateCode:      state,
			GapDays:        int(asOf.Sub(info.EffectiveDate).Hours() / 24),
			Recommendation: check.Recommendation,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].GapDays != out[j].GapDays {
			return out[i].GapDays > out[j].GapDays
		}
		return out[i].StateCode < out[j].StateCode
	})
	return out
}

func nearestPastGapYear(y int) (int, bool) {
	if yearMod10(y) == 2 {
		return y, true
	}
	if yearMod10(y-1) == 2 {
		return y - 1, true
	}
	return 0, false
}

func yearMod10(y int) int {
	return ((y % 10) + 10) % 10
}

func julyFirst(year int) time.Time {
	return time.Date(year, time.July, 1, 0, 0, 0, 0, time.UTC)
}
