package db

import (
	"context"
	"database/sql/driver"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soochol/ingest/internal/lead"
)

func newMock(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	pool, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })
	return &DB{Pool: pool}, mock
}

func TestMigrate(t *testing.T) {
	d, mock := newMock(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS cases").WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, d.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveCaseNumber(t *testing.T) {
	ctx := context.Background()
	query := `SELECT id FROM cases WHERE case_number = \$1`

	t.Run("single match", func(t *testing.T) {
		d, mock := newMock(t)
		mock.ExpectQuery(query).WithArgs("LC-1").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("case-1"))
		id, err := d.ResolveCaseNumber(ctx, "LC-1")
		require.NoError(t, err)
		assert.Equal(t, "case-1", id)
	})

	t.Run("no match", func(t *testing.T) {
		d, mock := newMock(t)
		mock.ExpectQuery(query).WithArgs("LC-9").WillReturnRows(sqlmock.NewRows([]string{"id"}))
		_, err := d.ResolveCaseNumber(ctx, "LC-9")
		assert.ErrorIs(t, err, lead.ErrCaseNotFound)
	})

	t.Run("ambiguous", func(t *testing.T) {
		d, mock := newMock(t)
		mock.ExpectQuery(query).WithArgs("LC-2").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("a").AddRow("b"))
		_, err := d.ResolveCaseNumber(ctx, "LC-2")
		assert.ErrorIs(t, err, lead.ErrCaseAmbiguous)
	})
}

func TestCreateCase(t *testing.T) {
	d, mock := newMock(t)
	mock.ExpectExec(`INSERT INTO cases \(id, case_number, title\) VALUES \(\$1, \$2, \$3\)\s+ON CONFLICT \(id\) DO NOTHING`).
		WithArgs("case-1", "LC-1", "Harbor fire").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO cases`).
		WithArgs("case-2", "LC-2", "").
		WillReturnError(assert.AnError)

	require.NoError(t, d.CreateCase(context.Background(), "case-1", "LC-1", "Harbor fire"))
	err := d.CreateCase(context.Background(), "case-2", "LC-2", "")
	assert.ErrorIs(t, err, assert.AnError)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveLead(t *testing.T) {
	d, mock := newMock(t)
	name := "Ada"
	l := &lead.NormalizedLead{
		ID: "lead-1", CaseID: "case-1", Status: lead.StatusNew, Priority: lead.PriorityMedium,
		Description: "seen at the station", Submitter: lead.NormalizedSubmitter{Name: &name},
		ConfidenceScore: 20, CreatedAt: time.Now(),
	}

	args := make([]driver.Value, 17)
	for i := range args {
		args[i] = sqlmock.AnyArg()
	}
	mock.ExpectExec("INSERT INTO leads").WithArgs(args...).WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, d.SaveLead(context.Background(), l))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetLead_NotFound(t *testing.T) {
	d, mock := newMock(t)
	mock.ExpectQuery("FROM leads WHERE id").WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := d.GetLead(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListLeadsByCase(t *testing.T) {
	d, mock := newMock(t)
	cols := []string{"id", "case_id", "case_number", "status", "priority", "description", "is_anonymous",
		"submitter", "location", "sighting", "attachment_ids", "confidence_score", "duplicate_of",
		"source", "external_id", "submitted_at", "created_at"}
	now := time.Now()
	mock.ExpectQuery("FROM leads WHERE case_id").WithArgs("case-1").WillReturnRows(
		sqlmock.NewRows(cols).
			AddRow("lead-2", "case-1", "LC-1", "new", "high", "second", false,
				[]byte(`{"name":"Ada","email":null,"phone":null}`), []byte(`{"city":"Oslo"}`), nil,
				[]byte(`["att-1"]`), 35, "lead-1", "webhook", "", "", now).
			AddRow("lead-1", "case-1", "LC-1", "new", "medium", "first", true,
				[]byte(`{"name":null,"email":null,"phone":null}`), nil, nil,
				[]byte(`[]`), 10, nil, "webhook", "", "", now),
	)

	leads, err := d.ListLeadsByCase(context.Background(), "case-1")
	require.NoError(t, err)
	require.Len(t, leads, 2)

	assert.Equal(t, lead.PriorityHigh, leads[0].Priority)
	require.NotNil(t, leads[0].Submitter.Name)
	assert.Equal(t, "Ada", *leads[0].Submitter.Name)
	require.NotNil(t, leads[0].Location)
	assert.Equal(t, "Oslo", leads[0].Location.City)
	assert.Nil(t, leads[0].Sighting)
	assert.Equal(t, []string{"att-1"}, leads[0].AttachmentIDs)
	require.NotNil(t, leads[0].DuplicateOf)
	assert.Equal(t, "lead-1", *leads[0].DuplicateOf)

	assert.Nil(t, leads[1].Submitter.Name)
	assert.Nil(t, leads[1].DuplicateOf)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteLead(t *testing.T) {
	d, mock := newMock(t)
	mock.ExpectExec("DELETE FROM leads").WithArgs("lead-1").WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, d.DeleteLead(context.Background(), "lead-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
