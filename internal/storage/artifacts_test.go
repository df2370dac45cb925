package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shadow-atlas/acquisition/internal/model"
	"github.com/shadow-atlas/acquisition/internal/storage"
)

func mustMuni(t *testing.T, muniID string) {
	t.Helper()
	err := testDB.UpsertMunicipality(context.Background(), model.Municipality{
		MuniID: muniID, Name: "Test City " + muniID, State: "CA",
	})
	require.NoError(t, err)
}

func TestInsertArtifact_IdempotentOnContentHash(t *testing.T) {
	ctx := context.Background()
	muniID := "us-ca-" + uuid.New().String()[:8]
	mustMuni(t, muniID)

	params := storage.InsertArtifactParams{
		MuniID:        muniID,
		ContentSHA256: "abc123",
		RecordCount:   5,
		BBox:          &model.BBox{MinLon: -122, MinLat: 37, MaxLon: -121, MaxLat: 38},
	}

	id1, err := testDB.InsertArtifact(ctx, params)
	require.NoError(t, err)

	id2, err := testDB.InsertArtifact(ctx, params)
	require.NoError(t, err)
	assert.Equal(t, id1, id2, "re-inserting the same content hash must return the existing artifact")

	got, err := testDB.GetArtifact(ctx, id1)
	require.NoError(t, err)
	assert.Equal(t, muniID, got.MuniID)
	assert.Equal(t, 5, got.RecordCount)
	require.NotNil(t, got.BBox)
	assert.Equal(t, -122.0, got.BBox.MinLon)
}

func TestInsertArtifact_DifferentHashesProduceDistinctArtifacts(t *testing.T) {
	ctx := context.Background()
	muniID := "us-ca-" + uuid.New().String()[:8]
	mustMuni(t, muniID)

	id1, err := testDB.InsertArtifact(ctx, storage.InsertArtifactParams{MuniID: muniID, ContentSHA256: "hash-a", RecordCount: 1})
	require.NoError(t, err)
	id2, err := testDB.InsertArtifact(ctx, storage.InsertArtifactParams{MuniID: muniID, ContentSHA256: "hash-b", RecordCount: 1})
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)
}

func TestGetArtifact_NotFound(t *testing.T) {
	ctx := context.Background()
	_, err := testDB.GetArtifact(ctx, uuid.New())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestInsertArtifact_CapturesETagAndLastModified(t *testing.T) {
	ctx := context.Background()
	muniID := "us-ca-" + uuid.New().String()[:8]
	mustMuni(t, muniID)

	etag := `"etag-1"`
	lastMod := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	id, err := testDB.InsertArtifact(ctx, storage.InsertArtifactParams{
		MuniID: muniID, ContentSHA256: "hash-etag", RecordCount: 2, ETag: &etag, LastModified: &lastMod,
	})
	require.NoError(t, err)

	got, err := testDB.GetArtifact(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got.ETag)
	assert.Equal(t, etag, *got.ETag)
	require.NotNil(t, got.LastModified)
	assert.True(t, got.LastModified.Equal(lastMod))
}
