package conflicts

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shadow-atlas/acquisition/internal/errkind"
	"github.com/shadow-atlas/acquisition/internal/model"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestResolveConflict_EmptyClaimsIsConflictEmpty(t *testing.T) {
	r := NewResolver()
	_, err := r.ResolveConflict("us-ca-06", nil)
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.ConflictEmpty))
}

func TestResolveConflict_SingleClaimWinsOutright(t *testing.T) {
	r := NewResolver()
	r.Now = fixedClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	claim := model.SourceClaim{SourceID: "only", Kind: model.SourceKindPrimary, LastModified: time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)}
	d, err := r.ResolveConflict("us-ca-06", []model.SourceClaim{claim})
	require.NoError(t, err)
	assert.Equal(t, "only", d.WinnerSourceID)
	assert.Equal(t, 100, d.Confidence)
	assert.Equal(t, 0, d.AlternativesCounted)
}

// TestResolveConflict_PrimaryBeatsNewerAggregator directly encodes the
// us-ca-06 scenario: a primary source loses on raw recency to an aggregator
// but still wins the resolution.
func TestResolveConflict_PrimaryBeatsNewerAggregator(t *testing.T) {
	r := NewResolver()
	r.Now = fixedClock(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))

	primary := model.SourceClaim{
		SourceID:       "ca-redistricting-commission",
		Kind:           model.SourceKindPrimary,
		AuthorityLevel: model.AuthorityState,
		LastModified:   time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC),
	}
	aggregator := model.SourceClaim{
		SourceID:       "census-tiger",
		Kind:           model.SourceKindAggregator,
		AuthorityLevel: model.AuthorityLocal,
		LastModified:   time.Date(2024, 2, 15, 0, 0, 0, 0, time.UTC), // newer than primary
	}

	d, err := r.ResolveConflict("us-ca-06", []model.SourceClaim{aggregator, primary})
	require.NoError(t, err)
	assert.Equal(t, "ca-redistricting-commission", d.WinnerSourceID)
	require.Len(t, d.Rejected, 1)
	assert.Equal(t, "census-tiger", d.Rejected[0].SourceID)
	assert.Equal(t, "Aggregator loses to primary authority", d.Rejected[0].Reason)
	assert.Negative(t, d.Rejected[0].FreshnessGapMs) // winner is older than the rejected claim
}

func TestResolveConflict_EqualFreshnessAndAuthorityTieBreaksOnSourceID(t *testing.T) {
	r := NewResolver()
	r.Now = fixedClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	sameTime := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)

	a := model.SourceClaim{SourceID: "b-source", Kind: model.SourceKindAggregator, AuthorityLevel: model.AuthorityLocal, LastModified: sameTime}
	b := model.SourceClaim{SourceID: "a-source", Kind: model.SourceKindAggregator, AuthorityLevel: model.AuthorityLocal, LastModified: sameTime}

	d, err := r.ResolveConflict("x", []model.SourceClaim{a, b})
	require.NoError(t, err)
	assert.Equal(t, "a-source", d.WinnerSourceID) // lexicographically smaller id wins the tie
}

func TestComputeConfidence_AgeAndCompetitionPenalize(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	fresh := model.SourceClaim{Kind: model.SourceKindPrimary, LastModified: now}
	assert.Equal(t, 90, computeConfidence(fresh, now, 0))

	old := model.SourceClaim{Kind: model.SourceKindPrimary, LastModified: now.AddDate(0, 0, -900)}
	assert.Equal(t, 80, computeConfidence(old, now, 0)) // 900 days / 90 = 10 day-penalty, 90-10=80

	veryOld := model.SourceClaim{Kind: model.SourceKindPrimary, LastModified: now.AddDate(-10, 0, 0)}
	assert.Equal(t, 70, computeConfidence(veryOld, now, 0)) // age penalty capped at 20

	competed := model.SourceClaim{Kind: model.SourceKindAggregator, LastModified: now}
	assert.Equal(t, 65, computeConfidence(competed, now, 1))
}

func TestValidateResolution_RejectsLowConfidenceAndStaleWinner(t *testing.T) {
	asOf := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	good := model.ResolutionDecision{Confidence: 90, Freshness: asOf.AddDate(0, -1, 0), AlternativesCounted: 1}
	assert.NoError(t, ValidateResolution(good, asOf))

	lowConfidence := model.ResolutionDecision{Confidence: 10, Freshness: asOf, AlternativesCounted: 0}
	assert.Error(t, ValidateResolution(lowConfidence, asOf))

	stale := model.ResolutionDecision{Confidence: 90, Freshness: asOf.AddDate(-3, 0, 0), AlternativesCounted: 0}
	assert.Error(t, ValidateResolution(stale, asOf))
}

func TestCreateManualOverride_SetsFixedConfidenceAndPrefix(t *testing.T) {
	r := NewResolver()
	r.Now = fixedClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	claims := []model.SourceClaim{
		{SourceID: "a", LastModified: time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)},
		{SourceID: "b", LastModified: time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)},
	}
	d, err := r.CreateManualOverride("x", "a", claims, "operator confirmed by phone")
	require.NoError(t, err)
	assert.Equal(t, "a", d.WinnerSourceID)
	assert.Equal(t, 75, d.Confidence)
	assert.True(t, d.ManualOverride)
	assert.Equal(t, "MANUAL OVERRIDE: operator confirmed by phone", d.Reason)
	require.Len(t, d.Rejected, 1)
	assert.Equal(t, "b", d.Rejected[0].SourceID)
}

func TestCreateManualOverride_UnknownSourceErrors(t *testing.T) {
	r := NewResolver()
	_, err := r.CreateManualOverride("x", "missing", []model.SourceClaim{{SourceID: "a"}}, "why")
	assert.Error(t, err)
}

func TestResolveBatch_ResolvesAllIndependently(t *testing.T) {
	r := NewResolver()
	r.Now = fixedClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	batches := map[string][]model.SourceClaim{
		"a": {{SourceID: "a1", Kind: model.SourceKindPrimary, LastModified: time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)}},
		"b": {{SourceID: "b1", Kind: model.SourceKindAggregator, LastModified: time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)}},
	}
	out, err := r.ResolveBatch(context.Background(), batches, 2)
	require.NoError(t, err)
	assert.Equal(t, "a1", out["a"].WinnerSourceID)
	assert.Equal(t, "b1", out["b"].WinnerSourceID)
}

func TestScore_HigherAuthorityScoresHigher(t *testing.T) {
	high := Score(model.AuthorityState, 1, 0.9)
	low := Score(model.AuthorityLocal, 1, 0.9)
	assert.Greater(t, high, low)
}
