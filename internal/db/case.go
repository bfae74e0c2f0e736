package db

import (
	"context"
	"fmt"

	"github.com/soochol/ingest/internal/lead"
)

// CreateCase inserts a case row. An existing row with the same id is left
// unchanged.
func (d *DB) CreateCase(ctx context.Context, id, caseNumber, title string) error {
	_, err := d.Pool.ExecContext(ctx,
		`INSERT INTO cases (id, case_number, title) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO NOTHING`,
		id, caseNumber, title,
	)
	if err != nil {
		return fmt.Errorf("insert case: %w", err)
	}
	return nil
}

// ResolveCaseNumber looks up the case ID for a case number. It returns
// lead.ErrCaseNotFound or lead.ErrCaseAmbiguous when the number does not
// identify exactly one case.
func (d *DB) ResolveCaseNumber(ctx context.Context, caseNumber string) (string, error) {
	rows, err := d.Pool.QueryContext(ctx,
		`SELECT id FROM cases WHERE case_number = $1 LIMIT 2`, caseNumber)
	if err != nil {
		return "", fmt.Errorf("resolve case: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return "", fmt.Errorf("scan case: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("iterate cases: %w", err)
	}

	switch len(ids) {
	case 0:
		return "", fmt.Errorf("%w: %s", lead.ErrCaseNotFound, caseNumber)
	case 1:
		return ids[0], nil
	default:
		return "", fmt.Errorf("%w: %s", lead.ErrCaseAmbiguous, caseNumber)
	}
}
