package provenance

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shadow-atlas/acquisition/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func newTestWriter(t *testing.T) *Writer {
	t.Helper()
	w, err := New(t.TempDir(), testLogger())
	require.NoError(t, err)
	return w
}

func sampleEntry(state, sourceLabel string, ts time.Time) Entry {
	return Entry{
		FIPS:           "06001",
		CityName:       "Sample City",
		State:          state,
		Tier:           model.PrecisionRank(model.BoundaryCounty),
		Confidence:     90,
		AuthorityLevel: model.AuthorityCounty,
		SourceLabel:    sourceLabel,
		URL:            "https://example.gov/boundaries",
		AgentID:        "agent-1",
		Timestamp:      ts,
	}
}

func TestAppend_StandardModeIsQueryable(t *testing.T) {
	w := newTestWriter(t)
	e := sampleEntry("CA", "ca-commission", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, w.Append(e, AppendOptions{}))

	got, err := w.Query(QueryFilter{State: "CA"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "ca-commission", got[0].SourceLabel)
}

func TestAppend_MultipleStandardWritesAccumulate(t *testing.T) {
	w := newTestWriter(t)
	for i := 0; i < 5; i++ {
		e := sampleEntry("TX", "tx-source", time.Date(2024, 1, i+1, 0, 0, 0, 0, time.UTC))
		require.NoError(t, w.Append(e, AppendOptions{}))
	}
	got, err := w.Query(QueryFilter{State: "TX"})
	require.NoError(t, err)
	assert.Len(t, got, 5)
}

func TestAppend_StagingModeDoesNotAppearUntilMerged(t *testing.T) {
	w := newTestWriter(t)
	e := sampleEntry("NY", "ny-source", time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, w.Append(e, AppendOptions{Staging: true, AgentID: "agent-7"}))

	got, err := w.Query(QueryFilter{State: "NY"})
	require.NoError(t, err)
	assert.Empty(t, got)

	result, err := w.MergeStagingFiles()
	require.NoError(t, err)
	assert.Equal(t, 1, result.Merged)
	assert.Empty(t, result.Errors)

	got, err = w.Query(QueryFilter{State: "NY"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "ny-source", got[0].SourceLabel)
}

func TestMergeStagingFiles_IsIdempotent(t *testing.T) {
	w := newTestWriter(t)
	e := sampleEntry("WA", "wa-source", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, w.Append(e, AppendOptions{Staging: true, AgentID: "agent-9"}))

	_, err := w.MergeStagingFiles()
	require.NoError(t, err)

	// Re-append the identical entry to staging and merge again: the
	// (agentId, timestamp, fips, sourceLabel) key already exists in the
	// shard, so it must not be duplicated.
	require.NoError(t, w.Append(e, AppendOptions{Staging: true, AgentID: "agent-9"}))
	_, err = w.MergeStagingFiles()
	require.NoError(t, err)

	got, err := w.Query(QueryFilter{State: "WA"})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestAppend_StagingRequiresAgentID(t *testing.T) {
	w := newTestWriter(t)
	err := w.Append(sampleEntry("OH", "oh-source", time.Now()), AppendOptions{Staging: true})
	assert.Error(t, err)
}

func TestQuery_FiltersByConfidenceAndTimeRange(t *testing.T) {
	w := newTestWriter(t)
	low := sampleEntry("FL", "a", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	low.Confidence = 20
	high := sampleEntry("FL", "b", time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
	high.Confidence = 95
	require.NoError(t, w.Append(low, AppendOptions{}))
	require.NoError(t, w.Append(high, AppendOptions{}))

	got, err := w.Query(QueryFilter{State: "FL", MinConfidence: 50})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].SourceLabel)

	got, err = w.Query(QueryFilter{State: "FL", Since: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].SourceLabel)
}

func TestGetStats_ComputesPerTierCountsAndAverageConfidence(t *testing.T) {
	w := newTestWriter(t)
	county := sampleEntry("GA", "a", time.Now())
	county.Confidence = 80
	county.Tier = model.PrecisionRank(model.BoundaryCounty)
	municipal := sampleEntry("GA", "b", time.Now())
	municipal.Confidence = 60
	municipal.Tier = model.PrecisionRank(model.BoundaryCityCouncil)
	require.NoError(t, w.Append(county, AppendOptions{}))
	require.NoError(t, w.Append(municipal, AppendOptions{}))

	stats, err := w.GetStats()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalEntries)
	assert.Equal(t, 1, stats.TierCounts[model.PrecisionRank(model.BoundaryCounty)])
	assert.Equal(t, 1, stats.TierCounts[model.PrecisionRank(model.BoundaryCityCouncil)])
	assert.InDelta(t, 70, stats.AverageConfidence, 0.001)
}

func TestQuery_MissingShardIsEmptyNotError(t *testing.T) {
	w := newTestWriter(t)
	got, err := w.Query(QueryFilter{State: "ZZ"})
	require.NoError(t, err)
	assert.Empty(t, got)
}
