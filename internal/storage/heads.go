package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/shadow-atlas/acquisition/internal/model"
)

// UpsertHead sets muniId's current artifact. Callers must hold the
// per-muniId lock returned by lockFor for the duration of the surrounding
// commit (artifact insert, head upsert, checksum update, event append) so
// no two commits for the same municipality interleave.
func (db *DB) UpsertHead(ctx context.Context, muniID string, artifactID uuid.UUID) error {
	const q = `
		INSERT INTO heads (muni_id, artifact_id, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (muni_id) DO UPDATE SET artifact_id = EXCLUDED.artifact_id, updated_at = now()`

	err := WithRetry(ctx, 3, 50*time.Millisecond, func() error {
		_, err := db.pool.Exec(ctx, q, muniID, artifactID)
		return err
	})
	if err != nil {
		return fmt.Errorf("storage: upsert head: %w", err)
	}
	return nil
}

// GetHead returns muniId's current head. Returns ErrNotFound if the
// municipality has never had an artifact committed.
func (db *DB) GetHead(ctx context.Context, muniID string) (model.Head, error) {
	const q = `SELECT muni_id, artifact_id, updated_at FROM heads WHERE muni_id = $1`

	var h model.Head
	err := WithRetry(ctx, 3, 50*time.Millisecond, func() error {
		return db.pool.QueryRow(ctx, q, muniID).Scan(&h.MuniID, &h.ArtifactID, &h.UpdatedAt)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Head{}, ErrNotFound
	}
	if err != nil {
		return model.Head{}, fmt.Errorf("storage: get head: %w", err)
	}
	return h, nil
}

// LockMuni returns the mutex serializing commits for muniID. Exported so
// the orchestrator can hold it across the full commit protocol, not just a
// single storage call.
func (db *DB) LockMuni(muniID string) func() {
	m := db.lockFor(muniID)
	m.Lock()
	return m.Unlock
}
