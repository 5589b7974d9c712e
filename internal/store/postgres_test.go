package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-sync/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return NewPostgresFromPool(mock), mock
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE EXTENSION IF NOT EXISTS pg_trgm`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateCredential(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`INSERT INTO portal_credentials .* RETURNING id`).
		WithArgs("cindrebay", model.DefaultLoginURL, model.DefaultDataURL, "agent", "pw", 7, true, "form",
			pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(11)))

	cred := &model.PortalCredential{Name: "cindrebay", Username: "agent", Secret: "pw", Active: true}
	require.NoError(t, s.CreateCredential(context.Background(), cred))
	assert.Equal(t, int64(11), cred.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateCredential_Duplicate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`INSERT INTO portal_credentials`).
		WillReturnError(&pgconn.PgError{Code: pgUniqueViolation})

	err := s.CreateCredential(context.Background(), &model.PortalCredential{Name: "dup"})
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestPostgresStore_GetCredential(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT .* FROM portal_credentials WHERE name = \$1`).
		WithArgs("cindrebay").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "name", "login_url", "data_url", "username", "secret", "days_to_sync",
			"active", "session_strategy", "last_sync", "created_at", "updated_at",
		}).AddRow(int64(3), "cindrebay", "https://l", "https://d", "agent", "pw", 7,
			true, "csrf", nil, now, now))

	cred, err := s.GetCredential(context.Background(), "cindrebay")
	require.NoError(t, err)
	assert.Equal(t, int64(3), cred.ID)
	assert.Equal(t, model.SessionStrategyCSRF, cred.SessionStrategy)
	assert.Nil(t, cred.LastSync)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetCredential_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM portal_credentials WHERE name = \$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetCredential(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SetLastSync_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE portal_credentials SET last_sync`).
		WithArgs(pgxmock.AnyArg(), int64(42)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.SetLastSync(context.Background(), 42, time.Now())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresStore_HasImported(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM sync_audit WHERE external_id = \$1\)`).
		WithArgs("L1").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := s.HasImported(context.Background(), "L1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RecordImport_Duplicate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO sync_audit`).
		WithArgs(int64(1), "L1", "lead-1", pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: pgUniqueViolation, ConstraintName: "sync_audit_external_id_key"})

	err := s.RecordImport(context.Background(), model.SyncAuditEntry{CredentialID: 1, ExternalID: "L1", LeadRef: "lead-1"})
	assert.ErrorIs(t, err, ErrDuplicate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListAudit_Filters(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	created := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`FROM sync_audit WHERE true AND credential_id = \$1 AND created_at >= \$2 ORDER BY id DESC LIMIT \$3`).
		WithArgs(int64(5), since, 100).
		WillReturnRows(pgxmock.NewRows([]string{"id", "credential_id", "external_id", "lead_ref", "created_at"}).
			AddRow(int64(9), int64(5), "L9", "lead-9", created))

	entries, err := s.ListAudit(context.Background(), AuditFilter{CredentialID: 5, Since: since})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "L9", entries[0].ExternalID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RunLifecycle(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectExec(`INSERT INTO sync_runs`).
		WithArgs(pgxmock.AnyArg(), int64(1), "fetching", start).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`UPDATE sync_runs SET state = \$1, completed_at = \$2, created = \$3`).
		WithArgs("done", pgxmock.AnyArg(), 2, 1, 0, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	run, err := s.StartRun(ctx, 1, start)
	require.NoError(t, err)
	require.NoError(t, s.CompleteRun(ctx, run.ID, model.SyncReport{Created: 2, Skipped: 1}, start.Add(time.Minute)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListRuns(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`FROM sync_runs ORDER BY started_at DESC LIMIT \$1`).
		WithArgs(50).
		WillReturnRows(pgxmock.NewRows([]string{"id", "credential_id", "state", "started_at", "completed_at", "created", "skipped", "errored", "error"}).
			AddRow("r1", int64(1), "failed", start, nil, 0, 0, 0, "portal down"))

	runs, err := s.ListRuns(context.Background(), RunFilter{})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.RunStateFailed, runs[0].State)
	assert.Nil(t, runs[0].CompletedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertTeams(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE team_stage \(LIKE sales_teams`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"team_stage"}, []string{"id", "name", "preferred_cities", "active"}).
		WillReturnResult(2)
	mock.ExpectExec(`(?s)INSERT INTO sales_teams .*FROM team_stage.*ON CONFLICT \(id\) DO UPDATE`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	n, err := s.UpsertTeams(context.Background(), []model.SalesTeam{
		{ID: 1, Name: "North", PreferredCities: "Delhi", Active: true},
		{ID: 2, Name: "South", PreferredCities: "Chennai"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertTeamsEmpty(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	n, err := s.UpsertTeams(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertTeamsCopyFails(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE team_stage`).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"team_stage"}, []string{"id", "name", "preferred_cities", "active"}).
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	_, err := s.UpsertTeams(context.Background(), []model.SalesTeam{{ID: 1, Name: "North"}})
	assert.ErrorContains(t, err, "copy teams into stage")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FindCourse(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id FROM crm_courses`).
		WithArgs("Interior", courseSimilarityThreshold).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("c-1"))
	mock.ExpectQuery(`SELECT id FROM crm_courses`).
		WithArgs("Aviation", courseSimilarityThreshold).
		WillReturnError(pgx.ErrNoRows)

	id, ok, err := s.FindCourse(context.Background(), " Interior ")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "c-1", id)

	_, ok, err = s.FindCourse(context.Background(), "Aviation")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_EnsureSourceTag(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`INSERT INTO crm_sources .* ON CONFLICT \(name\) DO UPDATE .* RETURNING id`).
		WithArgs(pgxmock.AnyArg(), "Portal").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("s-1"))

	id, err := s.EnsureSourceTag(context.Background(), "Portal")
	require.NoError(t, err)
	assert.Equal(t, "s-1", id)

	_, err = s.EnsureSourceTag(context.Background(), " ")
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateAndDeleteLead(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO crm_leads`).
		WithArgs(pgxmock.AnyArg(), "L1", "Asha", "a@x.com", "98450 12345", "9845012345", "Mysore",
			pgxmock.AnyArg(), "", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), "").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`DELETE FROM crm_leads WHERE id = \$1`).
		WithArgs(pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	ref, err := s.CreateLead(context.Background(), model.NormalizedLead{
		ExternalID: "L1", Name: "Asha", Email: "a@x.com", Phone: "98450 12345", City: "Mysore",
	})
	require.NoError(t, err)
	require.NoError(t, s.DeleteLead(context.Background(), ref))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FindOwnerByContact_Empty(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	_, ok, err := s.FindOwnerByContact(context.Background(), "", "")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}
