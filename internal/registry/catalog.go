package registry

import (
	"github.com/shadow-atlas/acquisition/internal/model"
)

// DefaultDescriptors returns the built-in seed catalog: a small but
// representative cross-section of primary and aggregator sources across
// boundary types and jurisdictions. Its fixed-URL entries feed the
// municipal-portal and OSM workers; it carries no search queries, strategies
// or layer lists for the ArcGIS Portal, state GIS or map-server workers.
// Operators are expected to extend this list (or load an
// equivalent one from their own configuration store) before running against
// the full set of U.S. municipalities; this seed exists so the pipeline has
// somewhere to start.
func DefaultDescriptors() []model.SourceDescriptor {
	return []model.SourceDescriptor{
		{
			ID: "tiger-congressional", Kind: model.SourceKindAggregator, AuthorityLevel: model.AuthorityFederalMandate,
			PreferenceRank: 1, BoundaryType: model.BoundaryCongressional, Jurisdiction: model.JurisdictionWildcard,
			Entity: "U.S. Census Bureau TIGER/Line", LegalBasis: "13 U.S.C. § 141",
			URLTemplate: "https://www2.census.gov/geo/tiger/TIGER{YEAR}/CD/", MachineReadable: true, Format: "shapefile",
		},
		{
			ID: "ca-redistricting-congressional", Kind: model.SourceKindPrimary, AuthorityLevel: model.AuthorityStateMandate,
			PreferenceRank: 1, BoundaryType: model.BoundaryCongressional, Jurisdiction: "CA",
			Entity: "California Citizens Redistricting Commission", LegalBasis: "Cal. Const. art. XXI",
			URL: "https://www.wedrawthelines.ca.gov/maps/", MachineReadable: true, Format: "geojson",
		},
		{
			ID: "ca-sos-state-senate", Kind: model.SourceKindPrimary, AuthorityLevel: model.AuthorityState,
			PreferenceRank: 1, BoundaryType: model.BoundaryStateSenate, Jurisdiction: "CA",
			Entity: "California Secretary of State", LegalBasis: "Cal. Elec. Code § 2500 et seq.",
			URL: "https://gis.data.ca.gov/datasets/state-senate-districts", MachineReadable: true, Format: "arcgis",
		},
		{
			ID: "src-us-ca-alameda-county", Kind: model.SourceKindPrimary, AuthorityLevel: model.AuthorityCounty,
			PreferenceRank: 1, BoundaryType: model.BoundaryCounty, Jurisdiction: "us-ca-alameda",
			Entity: "Alameda County GIS", URL: "https://data.acgov.org/datasets/county-boundary",
			MachineReadable: true, Format: "arcgis", MuniID: "us-ca-alameda",
		},
		{
			ID: "src-us-ca-oakland-city-council", Kind: model.SourceKindPrimary, AuthorityLevel: model.AuthorityLocal,
			PreferenceRank: 1, BoundaryType: model.BoundaryCityCouncil, Jurisdiction: "us-ca-oakland",
			Entity: "City of Oakland GIS", URL: "https://data.oaklandca.gov/datasets/council-districts",
			MachineReadable: true, Format: "arcgis", MuniID: "us-ca-oakland",
		},
		{
			ID: "src-us-ca-oakland-place", Kind: model.SourceKindAggregator, AuthorityLevel: model.AuthorityFederalMandate,
			PreferenceRank: 2, BoundaryType: model.BoundaryPlace, Jurisdiction: "us-ca-oakland",
			Entity: "U.S. Census Bureau TIGER/Line", URLTemplate: "https://www2.census.gov/geo/tiger/TIGER{YEAR}/PLACE/06/",
			MachineReadable: true, Format: "shapefile", MuniID: "us-ca-oakland",
		},
		{
			ID: "src-us-wa-king-county", Kind: model.SourceKindPrimary, AuthorityLevel: model.AuthorityCounty,
			PreferenceRank: 1, BoundaryType: model.BoundaryCounty, Jurisdiction: "us-wa-king",
			Entity: "King County GIS Center", URL: "https://gis-kingcounty.opendata.arcgis.com/datasets/county-boundary",
			MachineReadable: true, Format: "arcgis", MuniID: "us-wa-king",
		},
		{
			ID: "src-us-wa-seattle-school-unified", Kind: model.SourceKindPrimary, AuthorityLevel: model.AuthorityLocal,
			PreferenceRank: 1, BoundaryType: model.BoundarySchoolUnified, Jurisdiction: "us-wa-seattle",
			Entity: "Seattle Public Schools", URL: "https://data-seattleschools.opendata.arcgis.com/datasets/boundaries",
			MachineReadable: true, Format: "arcgis", MuniID: "us-wa-seattle",
		},
		{
			ID: "osm-us-or-portland-transit", Kind: model.SourceKindAggregator, AuthorityLevel: model.AuthorityLocal,
			PreferenceRank: 3, BoundaryType: model.BoundaryTransit, Jurisdiction: "us-or-portland",
			Entity: "OpenStreetMap contributors", URL: "https://overpass-api.de/api/interpreter",
			MachineReadable: true, Format: "osm", MuniID: "us-or-portland",
		},
	}
}
