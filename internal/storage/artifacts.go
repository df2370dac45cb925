package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/shadow-atlas/acquisition/internal/model"
)

// InsertArtifactParams mirrors the insertArtifact outbound call: everything
// needed to record one immutable, content-addressed boundary payload.
type InsertArtifactParams struct {
	MuniID        string
	ContentSHA256 string
	RecordCount   int
	BBox          *model.BBox
	ETag          *string
	LastModified  *time.Time
}

// InsertArtifact records a new artifact, or returns the existing artifact's
// ID if one with the same (MuniID, ContentSHA256) already exists — the
// operation is idempotent on content hash.
func (db *DB) InsertArtifact(ctx context.Context, p InsertArtifactParams) (uuid.UUID, error) {
	var bboxJSON []byte
	if p.BBox != nil {
		b, err := json.Marshal(p.BBox)
		if err != nil {
			return uuid.Nil, fmt.Errorf("storage: marshal bbox: %w", err)
		}
		bboxJSON = b
	}

	id := uuid.New()
	const q = `
		INSERT INTO artifacts (id, muni_id, content_sha256, record_count, bbox, etag, last_modified)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (muni_id, content_sha256) DO NOTHING
		RETURNING id`

	var returned uuid.UUID
	err := WithRetry(ctx, 3, 50*time.Millisecond, func() error {
		return db.pool.QueryRow(ctx, q, id, p.MuniID, p.ContentSHA256, p.RecordCount, bboxJSON, p.ETag, p.LastModified).Scan(&returned)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		// Conflict fired: an artifact with this content hash already exists.
		existing, getErr := db.artifactIDByHash(ctx, p.MuniID, p.ContentSHA256)
		if getErr != nil {
			return uuid.Nil, getErr
		}
		return existing, nil
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("storage: insert artifact: %w", err)
	}
	return returned, nil
}

func (db *DB) artifactIDByHash(ctx context.Context, muniID, contentSHA256 string) (uuid.UUID, error) {
	const q = `SELECT id FROM artifacts WHERE muni_id = $1 AND content_sha256 = $2`
	var id uuid.UUID
	err := WithRetry(ctx, 3, 50*time.Millisecond, func() error {
		return db.pool.QueryRow(ctx, q, muniID, contentSHA256).Scan(&id)
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("storage: lookup artifact by hash: %w", err)
	}
	return id, nil
}

// GetArtifact fetches a single artifact by ID. Returns ErrNotFound if no
// such artifact exists.
func (db *DB) GetArtifact(ctx context.Context, id uuid.UUID) (model.Artifact, error) {
	const q = `
		SELECT id, muni_id, content_sha256, record_count, bbox, etag, last_modified, created_at
		FROM artifacts WHERE id = $1`

	var a model.Artifact
	var bboxJSON []byte
	err := db.pool.QueryRow(ctx, q, id).Scan(
		&a.ID, &a.MuniID, &a.ContentSHA256, &a.RecordCount, &bboxJSON, &a.ETag, &a.LastModified, &a.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Artifact{}, ErrNotFound
	}
	if err != nil {
		return model.Artifact{}, fmt.Errorf("storage: get artifact: %w", err)
	}
	if len(bboxJSON) > 0 {
		var bbox model.BBox
		if err := json.Unmarshal(bboxJSON, &bbox); err != nil {
			return model.Artifact{}, fmt.Errorf("storage: unmarshal bbox: %w", err)
		}
		a.BBox = &bbox
	}
	return a, nil
}
