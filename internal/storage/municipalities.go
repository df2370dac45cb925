package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/shadow-atlas/acquisition/internal/model"
)

// UpsertMunicipality registers a municipality so artifacts, heads, and
// sources can reference it by muni_id. Idempotent.
func (db *DB) UpsertMunicipality(ctx context.Context, m model.Municipality) error {
	const q = `
		INSERT INTO municipalities (muni_id, name, state)
		VALUES ($1, $2, $3)
		ON CONFLICT (muni_id) DO UPDATE SET name = EXCLUDED.name, state = EXCLUDED.state`

	if _, err := db.pool.Exec(ctx, q, m.MuniID, m.Name, m.State); err != nil {
		return fmt.Errorf("storage: upsert municipality: %w", err)
	}
	return nil
}

// ListMunicipalities returns a page of registered municipalities ordered by
// name, for operator tooling and change-check sweeps.
func (db *DB) ListMunicipalities(ctx context.Context, limit, offset int) ([]model.Municipality, error) {
	const q = `SELECT muni_id, name, state FROM municipalities ORDER BY name ASC LIMIT $1 OFFSET $2`

	rows, err := db.pool.Query(ctx, q, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("storage: list municipalities: %w", err)
	}
	defer rows.Close()

	var out []model.Municipality
	for rows.Next() {
		var m model.Municipality
		if err := rows.Scan(&m.MuniID, &m.Name, &m.State); err != nil {
			return nil, fmt.Errorf("storage: scan municipality: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: iterate municipalities: %w", err)
	}
	return out, nil
}

// UpsertSelection records which source most recently won conflict
// resolution for a municipality.
func (db *DB) UpsertSelection(ctx context.Context, s model.Selection) error {
	const q = `
		INSERT INTO selections (muni_id, source_id, selected_at, reason, manual_override)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (muni_id) DO UPDATE SET
			source_id = EXCLUDED.source_id,
			selected_at = EXCLUDED.selected_at,
			reason = EXCLUDED.reason,
			manual_override = EXCLUDED.manual_override`

	if _, err := db.pool.Exec(ctx, q, s.MuniID, s.SourceID, s.SelectedAt, s.Reason, s.ManualOverride); err != nil {
		return fmt.Errorf("storage: upsert selection: %w", err)
	}
	return nil
}

// GetSelection returns the source currently selected for a municipality.
// Returns ErrNotFound if no conflict resolution has run for it yet.
func (db *DB) GetSelection(ctx context.Context, muniID string) (model.Selection, error) {
	const q = `SELECT muni_id, source_id, selected_at, reason, manual_override FROM selections WHERE muni_id = $1`

	var s model.Selection
	err := db.pool.QueryRow(ctx, q, muniID).Scan(&s.MuniID, &s.SourceID, &s.SelectedAt, &s.Reason, &s.ManualOverride)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Selection{}, ErrNotFound
	}
	if err != nil {
		return model.Selection{}, fmt.Errorf("storage: get selection: %w", err)
	}
	return s, nil
}

// UpsertCanonicalSource registers or updates a source's tracking record.
func (db *DB) UpsertCanonicalSource(ctx context.Context, s model.CanonicalSource) error {
	triggersJSON, err := json.Marshal(s.UpdateTriggers)
	if err != nil {
		return fmt.Errorf("storage: marshal update triggers: %w", err)
	}

	const q = `
		INSERT INTO canonical_sources (id, muni_id, url, boundary_type, last_checksum, last_checked, next_scheduled_check, update_triggers)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			muni_id = EXCLUDED.muni_id,
			url = EXCLUDED.url,
			boundary_type = EXCLUDED.boundary_type,
			last_checksum = EXCLUDED.last_checksum,
			last_checked = EXCLUDED.last_checked,
			next_scheduled_check = EXCLUDED.next_scheduled_check,
			update_triggers = EXCLUDED.update_triggers`

	if _, err := db.pool.Exec(ctx, q, s.ID, s.MuniID, s.URL, string(s.BoundaryType), s.LastChecksum, s.LastChecked, s.NextScheduledCheck, triggersJSON); err != nil {
		return fmt.Errorf("storage: upsert canonical source: %w", err)
	}
	return nil
}

// UpdateSourceChecksum records the checksum observed on a source's most
// recent check, as the final step of a commit before the event append.
func (db *DB) UpdateSourceChecksum(ctx context.Context, sourceID, checksum string, checkedAt, nextCheck time.Time) error {
	const q = `
		UPDATE canonical_sources
		SET last_checksum = $2, last_checked = $3, next_scheduled_check = $4
		WHERE id = $1`

	if _, err := db.pool.Exec(ctx, q, sourceID, checksum, checkedAt, nextCheck); err != nil {
		return fmt.Errorf("storage: update source checksum: %w", err)
	}
	return nil
}

// GetSourcesByMuni returns every canonical source tracked for a
// municipality.
func (db *DB) GetSourcesByMuni(ctx context.Context, muniID string) ([]model.CanonicalSource, error) {
	const q = `
		SELECT id, muni_id, url, boundary_type, last_checksum, last_checked, next_scheduled_check, update_triggers
		FROM canonical_sources WHERE muni_id = $1`

	rows, err := db.pool.Query(ctx, q, muniID)
	if err != nil {
		return nil, fmt.Errorf("storage: get sources by muni: %w", err)
	}
	defer rows.Close()

	var out []model.CanonicalSource
	for rows.Next() {
		var s model.CanonicalSource
		var boundaryType string
		var triggersJSON []byte
		if err := rows.Scan(&s.ID, &s.MuniID, &s.URL, &boundaryType, &s.LastChecksum, &s.LastChecked, &s.NextScheduledCheck, &triggersJSON); err != nil {
			return nil, fmt.Errorf("storage: scan canonical source: %w", err)
		}
		s.BoundaryType = model.BoundaryType(boundaryType)
		if len(triggersJSON) > 0 {
			if err := json.Unmarshal(triggersJSON, &s.UpdateTriggers); err != nil {
				return nil, fmt.Errorf("storage: unmarshal update triggers: %w", err)
			}
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: iterate canonical sources: %w", err)
	}
	return out, nil
}
