package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shadow-atlas/acquisition/internal/model"
)

func sourceFixtures() []model.SourceDescriptor {
	return []model.SourceDescriptor{
		{
			ID:             "ca-commission-2022",
			Kind:           model.SourceKindPrimary,
			AuthorityLevel: model.AuthorityState,
			PreferenceRank: 1,
			BoundaryType:   model.BoundaryCongressional,
			Jurisdiction:   "CA",
			Entity:         "California Citizens Redistricting Commission",
			MuniID:         "us-ca-06",
		},
		{
			ID:             "census-tiger-2024",
			Kind:           model.SourceKindAggregator,
			AuthorityLevel: model.AuthorityFederalMandate,
			PreferenceRank: 1,
			BoundaryType:   model.BoundaryCongressional,
			Jurisdiction:   model.JurisdictionWildcard,
			Entity:         "US Census Bureau",
			URLTemplate:    "https://www2.census.gov/geo/tiger/TIGER{YEAR}/CD/tl_{YEAR}_us_cd.zip",
			MachineReadable: true,
		},
	}
}

func TestNew_RejectsMissingYearToken(t *testing.T) {
	bad := []model.SourceDescriptor{{
		ID:           "bad-aggregator",
		Kind:         model.SourceKindAggregator,
		BoundaryType: model.BoundaryCounty,
		Jurisdiction: model.JurisdictionWildcard,
		URLTemplate:  "https://example.com/no-year-here.zip",
	}}
	_, err := New(bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "{YEAR}")
}

func TestNew_RejectsUnknownBoundaryType(t *testing.T) {
	bad := []model.SourceDescriptor{{
		ID:           "weird",
		Kind:         model.SourceKindPrimary,
		BoundaryType: "not_a_real_type",
		Jurisdiction: "CA",
	}}
	_, err := New(bad)
	require.Error(t, err)
}

func TestNew_RejectsDuplicateID(t *testing.T) {
	descs := sourceFixtures()
	descs = append(descs, descs[0])
	_, err := New(descs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestGetAuthority_TotalOverEnumeration(t *testing.T) {
	r, err := New(sourceFixtures())
	require.NoError(t, err)
	for _, bt := range model.AllBoundaryTypes {
		assert.NotPanics(t, func() { r.GetAuthority(bt) })
	}
}

func TestGetAuthority_PanicsOnUnknown(t *testing.T) {
	r, err := New(sourceFixtures())
	require.NoError(t, err)
	assert.Panics(t, func() { r.GetAuthority("nonsense") })
}

func TestGetAuthority_ReturnsImmutableCopy(t *testing.T) {
	r, err := New(sourceFixtures())
	require.NoError(t, err)
	a := r.GetAuthority(model.BoundaryCongressional)
	a.PrimarySources[0].ID = "mutated"
	a2 := r.GetAuthority(model.BoundaryCongressional)
	assert.Equal(t, "ca-commission-2022", a2.PrimarySources[0].ID)
}

func TestGetPrimarySourcesForState_CaseSensitive(t *testing.T) {
	r, err := New(sourceFixtures())
	require.NoError(t, err)
	assert.Len(t, r.GetPrimarySourcesForState("CA"), 1)
	assert.Empty(t, r.GetPrimarySourcesForState("ca"))
	assert.Empty(t, r.GetPrimarySourcesForState("ZZ"))
}

func TestGetAggregatorSources_OrderedByPreferenceRank(t *testing.T) {
	descs := sourceFixtures()
	descs = append(descs, model.SourceDescriptor{
		ID:              "secondary-aggregator",
		Kind:            model.SourceKindAggregator,
		BoundaryType:    model.BoundaryCongressional,
		Jurisdiction:    model.JurisdictionWildcard,
		URLTemplate:     "https://example.com/{YEAR}/alt.zip",
		PreferenceRank:  2,
		MachineReadable: true,
	})
	r, err := New(descs)
	require.NoError(t, err)
	sources := r.GetAggregatorSources(model.BoundaryCongressional)
	require.Len(t, sources, 2)
	assert.Equal(t, "census-tiger-2024", sources[0].ID)
	assert.Equal(t, "secondary-aggregator", sources[1].ID)
}

func TestHasPrimarySources(t *testing.T) {
	r, err := New(sourceFixtures())
	require.NoError(t, err)
	assert.True(t, r.HasPrimarySources(model.BoundaryCongressional))
	assert.False(t, r.HasPrimarySources(model.BoundaryTransit))
}

func TestGetStatesWithPrimarySources_SortedDedupedExcludesWildcard(t *testing.T) {
	descs := sourceFixtures()
	descs = append(descs, model.SourceDescriptor{
		ID:           "ca-commission-senate-2022",
		Kind:         model.SourceKindPrimary,
		BoundaryType: model.BoundaryStateSenate,
		Jurisdiction: "CA",
	}, model.SourceDescriptor{
		ID:           "ny-commission-2022",
		Kind:         model.SourceKindPrimary,
		BoundaryType: model.BoundaryCongressional,
		Jurisdiction: "NY",
	})
	r, err := New(descs)
	require.NoError(t, err)
	assert.Equal(t, []string{"CA", "NY"}, r.GetStatesWithPrimarySources())
}

func TestIsRedistrictingWindow(t *testing.T) {
	assert.True(t, IsRedistrictingWindow(2021))
	assert.True(t, IsRedistrictingWindow(2022))
	assert.False(t, IsRedistrictingWindow(2020))
	assert.False(t, IsRedistrictingWindow(2025))
}

func TestLookup(t *testing.T) {
	r, err := New(sourceFixtures())
	require.NoError(t, err)
	d, ok := r.Lookup("ca-commission-2022")
	require.True(t, ok)
	assert.Equal(t, "us-ca-06", d.MuniID)

	_, ok = r.Lookup("missing")
	assert.False(t, ok)
}
