package storage_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shadow-atlas/acquisition/internal/model"
	"github.com/shadow-atlas/acquisition/internal/storage"
)

func TestInsertEvent_AndGetEventsByRun(t *testing.T) {
	ctx := context.Background()
	muniID := "us-wa-" + uuid.New().String()[:8]
	mustMuni(t, muniID)
	runID := "run-2024-03-01T00-00-00-abc123"

	_, err := testDB.InsertEvent(ctx, storage.InsertEventParams{
		RunID: runID, MuniID: &muniID, Kind: model.EventDiscover, Payload: map[string]any{"sourceId": "src-1"},
	})
	require.NoError(t, err)

	duration := int64(1200)
	_, err = testDB.InsertEvent(ctx, storage.InsertEventParams{
		RunID: runID, MuniID: &muniID, Kind: model.EventFetch, Payload: map[string]any{"bytes": 4096}, DurationMs: &duration,
	})
	require.NoError(t, err)

	events, err := testDB.GetEventsByRun(ctx, runID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, model.EventDiscover, events[0].Kind)
	assert.Equal(t, model.EventFetch, events[1].Kind)
	require.NotNil(t, events[1].DurationMs)
	assert.Equal(t, duration, *events[1].DurationMs)
}

func TestInsertEvent_ErrorEventRecordsMessage(t *testing.T) {
	ctx := context.Background()
	runID := "run-2024-03-02T00-00-00-def456"
	msg := "storage: connection reset"

	_, err := testDB.InsertEvent(ctx, storage.InsertEventParams{
		RunID: runID, Kind: model.EventError, Payload: map[string]any{}, Error: &msg,
	})
	require.NoError(t, err)

	events, err := testDB.GetEventsByRun(ctx, runID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.NotNil(t, events[0].Error)
	assert.Equal(t, msg, *events[0].Error)
	assert.Nil(t, events[0].MuniID, "a run-scoped event with no municipality should have a nil MuniID")
}

func TestGetEventsByRun_UnknownRunReturnsEmpty(t *testing.T) {
	ctx := context.Background()
	events, err := testDB.GetEventsByRun(ctx, "run-never-happened")
	require.NoError(t, err)
	assert.Empty(t, events)
}
