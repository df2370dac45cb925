// Package model defines the core data structures shared across the
// acquisition, provenance, and change-detection pipeline.
package model

// BoundaryType is the closed set of geographic boundary categories this
// system acquires. PrecisionRank orders them from finest civic grain (0) to
// coarsest (17); the ordering is total, contiguous, and exhaustive.
type BoundaryType string

const (
	BoundaryCongressional   BoundaryType = "congressional"
	BoundaryStateSenate     BoundaryType = "state_senate"
	BoundaryStateHouse      BoundaryType = "state_house"
	BoundaryCounty          BoundaryType = "county"
	BoundaryPlace           BoundaryType = "place"
	BoundaryCityCouncil     BoundaryType = "city_council"
	BoundaryCityCouncilWard BoundaryType = "city_council_ward"
	BoundaryCDP             BoundaryType = "CDP"
	BoundarySchoolUnified   BoundaryType = "school_unified"
	BoundarySchoolElem      BoundaryType = "school_elementary"
	BoundarySchoolSecondary BoundaryType = "school_secondary"
	BoundaryFire            BoundaryType = "fire"
	BoundaryLibrary         BoundaryType = "library"
	BoundaryHospital        BoundaryType = "hospital"
	BoundaryWater           BoundaryType = "water"
	BoundaryUtility         BoundaryType = "utility"
	BoundaryTransit         BoundaryType = "transit"
	BoundaryVotingPrecinct  BoundaryType = "voting_precinct"
)

// AllBoundaryTypes lists every boundary type in PRECISION_RANK order, index
// 0 is rank 0 (finest).
var AllBoundaryTypes = []BoundaryType{
	BoundaryVotingPrecinct,
	BoundaryCityCouncilWard,
	BoundaryCityCouncil,
	BoundaryCDP,
	BoundaryPlace,
	BoundarySchoolElem,
	BoundarySchoolSecondary,
	BoundarySchoolUnified,
	BoundaryStateHouse,
	BoundaryStateSenate,
	BoundaryCongressional,
	BoundaryCounty,
	BoundaryFire,
	BoundaryLibrary,
	BoundaryHospital,
	BoundaryWater,
	BoundaryUtility,
	BoundaryTransit,
}

var precisionRank = func() map[BoundaryType]int {
	m := make(map[BoundaryType]int, len(AllBoundaryTypes))
	for i, bt := range AllBoundaryTypes {
		m[bt] = i
	}
	return m
}()

// PrecisionRank returns the fixed precision rank for a boundary type, or -1
// if bt is not a recognized boundary type.
func PrecisionRank(bt BoundaryType) int {
	if r, ok := precisionRank[bt]; ok {
		return r
	}
	return -1
}

// IsLegislative reports whether bt is one of the redistricting-cycle-driven
// legislative boundary types (congressional, state senate, state house).
func IsLegislative(bt BoundaryType) bool {
	switch bt {
	case BoundaryCongressional, BoundaryStateSenate, BoundaryStateHouse:
		return true
	default:
		return false
	}
}

// Valid reports whether bt is one of the known boundary types.
func (bt BoundaryType) Valid() bool {
	_, ok := precisionRank[bt]
	return ok
}

// Jurisdiction is an opaque identifier for a jurisdiction: a two-letter
// uppercase state code ("CA"), a scoped sub-state identifier
// ("ca-los_angeles"), or the wildcard "*".
type Jurisdiction string

// JurisdictionWildcard matches any jurisdiction in registry lookups.
const JurisdictionWildcard Jurisdiction = "*"

// SourceKind distinguishes an authority with legal standing over a boundary
// from a republishing aggregator.
type SourceKind string

const (
	SourceKindPrimary    SourceKind = "primary"
	SourceKindAggregator SourceKind = "aggregator"
)

// AuthorityLevel is a fixed 0-5 rank of legal standing. It never changes
// based on freshness; it is assigned once per source descriptor.
type AuthorityLevel int

const (
	AuthorityUnknown        AuthorityLevel = 0
	AuthorityLocal          AuthorityLevel = 1
	AuthorityCounty         AuthorityLevel = 2
	AuthorityState          AuthorityLevel = 3
	AuthorityStateMandate   AuthorityLevel = 4
	AuthorityFederalMandate AuthorityLevel = 5
)
