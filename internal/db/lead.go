package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/soochol/ingest/internal/lead"
)

const leadColumns = `id, case_id, case_number, status, priority, description, is_anonymous,
	submitter, location, sighting, attachment_ids, confidence_score, duplicate_of,
	source, external_id, submitted_at, created_at`

// SaveLead inserts a lead, replacing any existing row with the same ID.
// Nested groups are stored as JSONB.
func (d *DB) SaveLead(ctx context.Context, l *lead.NormalizedLead) error {
	submitter, err := json.Marshal(l.Submitter)
	if err != nil {
		return fmt.Errorf("marshal submitter: %w", err)
	}
	location, err := nullableJSON(l.Location)
	if err != nil {
		return fmt.Errorf("marshal location: %w", err)
	}
	sighting, err := nullableJSON(l.Sighting)
	if err != nil {
		return fmt.Errorf("marshal sighting: %w", err)
	}
	ids := l.AttachmentIDs
	if ids == nil {
		ids = []string{}
	}
	attachments, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("marshal attachment ids: %w", err)
	}

	_, err = d.Pool.ExecContext(ctx,
		`INSERT INTO leads (`+leadColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		 ON CONFLICT (id) DO UPDATE SET
		   status = EXCLUDED.status, priority = EXCLUDED.priority,
		   description = EXCLUDED.description, confidence_score = EXCLUDED.confidence_score,
		   duplicate_of = EXCLUDED.duplicate_of`,
		l.ID, l.CaseID, l.CaseNumber, string(l.Status), string(l.Priority), l.Description, l.IsAnonymous,
		submitter, location, sighting, attachments, l.ConfidenceScore, l.DuplicateOf,
		l.Source, l.ExternalID, l.SubmittedAt, l.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert lead: %w", err)
	}
	return nil
}

// GetLead retrieves a lead by ID.
func (d *DB) GetLead(ctx context.Context, id string) (*lead.NormalizedLead, error) {
	row := d.Pool.QueryRowContext(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = $1`, id)
	l, err := scanLead(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("lead %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get lead: %w", err)
	}
	return l, nil
}

// ListLeadsByCase returns a case's leads, newest first.
func (d *DB) ListLeadsByCase(ctx context.Context, caseID string) ([]*lead.NormalizedLead, error) {
	rows, err := d.Pool.QueryContext(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE case_id = $1 ORDER BY created_at DESC`, caseID)
	if err != nil {
		return nil, fmt.Errorf("list leads: %w", err)
	}
	defer rows.Close()

	var result []*lead.NormalizedLead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, fmt.Errorf("scan lead: %w", err)
		}
		result = append(result, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate leads: %w", err)
	}
	return result, nil
}

// DeleteLead removes a lead. Deleting a missing lead is not an error.
func (d *DB) DeleteLead(ctx context.Context, id string) error {
	if _, err := d.Pool.ExecContext(ctx, `DELETE FROM leads WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete lead: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanLead(s scanner) (*lead.NormalizedLead, error) {
	var (
		l                      lead.NormalizedLead
		status, priority       string
		submitter, attachments []byte
		location, sighting     []byte
		duplicateOf            sql.NullString
	)
	if err := s.Scan(&l.ID, &l.CaseID, &l.CaseNumber, &status, &priority, &l.Description, &l.IsAnonymous,
		&submitter, &location, &sighting, &attachments, &l.ConfidenceScore, &duplicateOf,
		&l.Source, &l.ExternalID, &l.SubmittedAt, &l.CreatedAt); err != nil {
		return nil, err
	}
	l.Status = lead.Status(status)
	l.Priority = lead.Priority(priority)
	if duplicateOf.Valid {
		l.DuplicateOf = &duplicateOf.String
	}
	if err := json.Unmarshal(submitter, &l.Submitter); err != nil {
		return nil, fmt.Errorf("unmarshal submitter: %w", err)
	}
	if err := json.Unmarshal(attachments, &l.AttachmentIDs); err != nil {
		return nil, fmt.Errorf("unmarshal attachment ids: %w", err)
	}
	if len(location) > 0 {
		l.Location = &lead.Location{}
		if err := json.Unmarshal(location, l.Location); err != nil {
			return nil, fmt.Errorf("unmarshal location: %w", err)
		}
	}
	if len(sighting) > 0 {
		l.Sighting = &lead.Sighting{}
		if err := json.Unmarshal(sighting, l.Sighting); err != nil {
			return nil, fmt.Errorf("unmarshal sighting: %w", err)
		}
	}
	return &l, nil
}

func nullableJSON[T any](v *T) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}
