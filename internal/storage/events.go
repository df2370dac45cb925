package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/shadow-atlas/acquisition/internal/model"
)

// InsertEventParams mirrors the insertEvent outbound call.
type InsertEventParams struct {
	RunID      string
	MuniID     *string
	Kind       model.EventKind
	Payload    map[string]any
	DurationMs *int64
	Error      *string
}

// InsertEvent appends one event to the run log. Events are never updated or
// deleted once written.
func (db *DB) InsertEvent(ctx context.Context, p InsertEventParams) (uuid.UUID, error) {
	payload := p.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return uuid.Nil, fmt.Errorf("storage: marshal event payload: %w", err)
	}

	id := uuid.New()
	const q = `
		INSERT INTO events (id, run_id, muni_id, kind, payload, duration_ms, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	if _, err := db.pool.Exec(ctx, q, id, p.RunID, p.MuniID, string(p.Kind), payloadJSON, p.DurationMs, p.Error); err != nil {
		return uuid.Nil, fmt.Errorf("storage: insert event: %w", err)
	}
	return id, nil
}

// GetEventsByRun returns every event recorded for a run, oldest first. Not
// part of the closed outbound API but needed by run-summary reporting.
func (db *DB) GetEventsByRun(ctx context.Context, runID string) ([]model.AcquisitionEvent, error) {
	const q = `
		SELECT id, run_id, muni_id, kind, payload, duration_ms, error, occurred_at
		FROM events WHERE run_id = $1 ORDER BY occurred_at ASC`

	rows, err := db.pool.Query(ctx, q, runID)
	if err != nil {
		return nil, fmt.Errorf("storage: get events by run: %w", err)
	}
	defer rows.Close()

	var events []model.AcquisitionEvent
	for rows.Next() {
		var e model.AcquisitionEvent
		var kind string
		var payloadJSON []byte
		if err := rows.Scan(&e.ID, &e.RunID, &e.MuniID, &kind, &payloadJSON, &e.DurationMs, &e.Error, &e.OccurredAt); err != nil {
			return nil, fmt.Errorf("storage: scan event: %w", err)
		}
		e.Kind = model.EventKind(kind)
		if len(payloadJSON) > 0 {
			if err := json.Unmarshal(payloadJSON, &e.Payload); err != nil {
				return nil, fmt.Errorf("storage: unmarshal event payload: %w", err)
			}
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: iterate events: %w", err)
	}
	return events, nil
}
