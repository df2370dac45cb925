// Package validity computes how much confidence to place in a source's
// published data as a function of how old it is relative to its publication
// cycle, with redistricting-cycle-aware overrides for legislative boundary
// types.
package validity

import (
	"fmt"
	"time"

	"github.com/shadow-atlas/acquisition/internal/model"
)

// ComputeConfidence returns a value in [0,1] describing how much to trust a
// source's data as of asOf. Primary sources are trusted fully for their
// entire (indefinite) nominal window — they remain the legal boundary until
// superseded. Aggregator confidence follows the annual TIGER release cycle
// (vintage releaseYear, released every July), with overrides during and
// around a redistricting cycle for legislative boundary types.
func ComputeConfidence(kind model.SourceKind, bt model.BoundaryType, releaseYear int, asOf time.Time) float64 {
	if kind == model.SourceKindPrimary {
		return 1.0
	}

	if conf, matched := legislativeOverride(bt, asOf); matched {
		return conf
	}

	base := aggregatorWindowConfidence(releaseYear, asOf)
	if inGracePeriod(bt, asOf) && base > 0.7 {
		return 0.7
	}
	return base
}

func aggregatorWindowConfidence(releaseYear int, asOf time.Time) float64 {
	validFrom := julyFirst(releaseYear)
	validUntil := julyFirst(releaseYear + 1)
	if asOf.Before(validFrom) || !asOf.Before(validUntil) {
		return 0.0
	}

	windowLen := validUntil.Sub(validFrom)
	elapsed := asOf.Sub(validFrom)
	threshold := time.Duration(float64(windowLen) * 0.75)
	if elapsed <= threshold {
		return 1.0
	}

	decayWindow := windowLen - threshold
	frac := float64(elapsed-threshold) / float64(decayWindow)
	return 1.0 - frac*0.6
}

// legislativeOverride returns the forced confidence for the exact
// redistricting sub-periods the spec calls out by name, for legislative
// boundary types only. matched is false outside those periods or for
// non-legislative types, meaning the caller should fall back to the normal
// window calculation (and grace-period cap).
func legislativeOverride(bt model.BoundaryType, asOf time.Time) (conf float64, matched bool) {
	if !model.IsLegislative(bt) {
		return 0, false
	}
	mod := yearMod10(asOf.Year())
	switch {
	case mod == 1:
		return 0.5, true
	case mod == 2 && asOf.Month() <= time.June:
		return GapConfidenceFactor(bt), true
	case mod == 2 && asOf.Month() > time.June:
		return 0.9, true
	default:
		return 0, false
	}
}

// GapConfidenceFactor returns the per-boundary-type confidence multiplier
// applied while a redistricting gap is active.
func GapConfidenceFactor(bt model.BoundaryType) float64 {
	switch bt {
	case model.BoundaryCongressional, model.BoundaryStateSenate, model.BoundaryStateHouse:
		return 0.3
	case model.BoundaryVotingPrecinct:
		return 0.6
	case model.BoundaryCounty:
		return 0.8
	default:
		return 1.0
	}
}

// inGracePeriod reports whether asOf falls in the 18-month grace window that
// follows a redistricting gap for legislative boundary types: [gapEnd,
// gapEnd+18mo).
func inGracePeriod(bt model.BoundaryType, asOf time.Time) bool {
	if !model.IsLegislative(bt) {
		return false
	}
	gapYear, ok := nearestPastGapYear(asOf.Year())
	if !ok {
		return false
	}
	gapEnd := julyFirst(gapYear)
	graceEnd := gapEnd.AddDate(0, 18, 0)
	return !asOf.Before(gapEnd) && asOf.Before(graceEnd)
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

// GetExpirationWarning returns a human-readable warning iff asOf is within
// 30 days before the expiration of the given TIGER vintage year's validity
// window (0 < daysUntilExpiration <= 30). It returns "" otherwise.
func GetExpirationWarning(year int, asOf time.Time) string {
	validUntil := julyFirst(year + 1)
	days := int(validUntil.Sub(asOf).Hours() / 24)
	if days > 0 && days <= 30 {
		return fmt.Sprintf("TIGER %d vintage expires in %d day(s) on %s", year, days, validUntil.Format("2006-01-02"))
	}
	return ""
}
