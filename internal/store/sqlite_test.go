package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-sync/internal/model"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "lead-sync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func createCred(t *testing.T, s Store, name string, active bool) *model.PortalCredential {
	t.Helper()
	cred := &model.PortalCredential{Name: name, Username: "agent", Secret: "pw", Active: active}
	require.NoError(t, s.CreateCredential(context.Background(), cred))
	return cred
}

func TestSQLite_MigrateIdempotent(t *testing.T) {
	s := newTestSQLite(t)
	assert.NoError(t, s.Migrate(context.Background()))
}

func TestSQLite_CredentialLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)

	cred := createCred(t, s, "cindrebay", true)
	assert.NotZero(t, cred.ID)
	assert.Equal(t, model.DefaultLoginURL, cred.LoginURL)
	assert.Equal(t, model.SessionStrategyForm, cred.SessionStrategy)

	got, err := s.GetCredential(ctx, "cindrebay")
	require.NoError(t, err)
	assert.Equal(t, cred.ID, got.ID)
	assert.Equal(t, "pw", got.Secret)
	assert.Equal(t, 7, got.DaysToSync)
	assert.True(t, got.Active)
	assert.Nil(t, got.LastSync)

	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, s.SetLastSync(ctx, cred.ID, at))
	got, err = s.GetCredential(ctx, "cindrebay")
	require.NoError(t, err)
	require.NotNil(t, got.LastSync)
	assert.True(t, at.Equal(*got.LastSync))

	got.DaysToSync = 14
	require.NoError(t, s.UpdateCredential(ctx, *got))
	got, err = s.GetCredential(ctx, "cindrebay")
	require.NoError(t, err)
	assert.Equal(t, 14, got.DaysToSync)

	require.NoError(t, s.DeactivateCredential(ctx, "cindrebay"))
	active, err := s.ActiveCredentials(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	all, err := s.ListCredentials(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestSQLite_CredentialDuplicateAndMissing(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)
	createCred(t, s, "dup", true)

	err := s.CreateCredential(ctx, &model.PortalCredential{Name: "dup", Username: "x", Secret: "y"})
	assert.ErrorIs(t, err, ErrDuplicate)

	_, err = s.GetCredential(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, s.DeactivateCredential(ctx, "missing"), ErrNotFound)
	assert.ErrorIs(t, s.SetLastSync(ctx, 999, time.Now()), ErrNotFound)
}

func TestSQLite_Teams(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)

	n, err := s.UpsertTeams(ctx, []model.SalesTeam{
		{ID: 2, Name: "South", PreferredCities: "Chennai, Kochi", Active: true},
		{ID: 1, Name: "North", PreferredCities: "Delhi", Active: true},
		{ID: 3, Name: "Dormant", Active: false},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	_, err = s.UpsertTeams(ctx, []model.SalesTeam{{ID: 1, Name: "North India", PreferredCities: "Delhi, Noida", Active: true}})
	require.NoError(t, err)

	teams, err := s.ListTeams(ctx, true)
	require.NoError(t, err)
	require.Len(t, teams, 2)
	assert.Equal(t, int64(1), teams[0].ID)
	assert.Equal(t, "North India", teams[0].Name)
	assert.Equal(t, "Delhi, Noida", teams[0].PreferredCities)

	all, err := s.ListTeams(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	n, err = s.UpsertTeams(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSQLite_AuditUniqueness(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)
	cred := createCred(t, s, "p", true)

	ok, err := s.HasImported(ctx, "L1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.RecordImport(ctx, model.SyncAuditEntry{CredentialID: cred.ID, ExternalID: "L1", LeadRef: "lead-1"}))

	ok, err = s.HasImported(ctx, "L1")
	require.NoError(t, err)
	assert.True(t, ok)

	err = s.RecordImport(ctx, model.SyncAuditEntry{CredentialID: cred.ID, ExternalID: "L1", LeadRef: "lead-2"})
	assert.ErrorIs(t, err, ErrDuplicate)

	require.NoError(t, s.RecordImport(ctx, model.SyncAuditEntry{CredentialID: cred.ID, ExternalID: "L2", LeadRef: "lead-3"}))
	entries, err := s.ListAudit(ctx, AuditFilter{CredentialID: cred.ID})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "L2", entries[0].ExternalID)
	assert.Equal(t, "lead-1", entries[1].LeadRef)

	entries, err = s.ListAudit(ctx, AuditFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestSQLite_Runs(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)
	cred := createCred(t, s, "p", true)

	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	run, err := s.StartRun(ctx, cred.ID, start)
	require.NoError(t, err)
	assert.Equal(t, model.RunStateFetching, run.State)

	require.NoError(t, s.UpdateRunState(ctx, run.ID, model.RunStateIterating))
	require.NoError(t, s.CompleteRun(ctx, run.ID, model.SyncReport{
		Created: 3, Skipped: 1, Errors: []model.RowError{{ExternalID: "x", Message: "boom"}},
	}, start.Add(time.Minute)))

	failed, err := s.StartRun(ctx, cred.ID, start.Add(time.Hour))
	require.NoError(t, err)
	require.NoError(t, s.FailRun(ctx, failed.ID, "portal down", start.Add(time.Hour+time.Second)))

	runs, err := s.ListRuns(ctx, RunFilter{CredentialID: cred.ID})
	require.NoError(t, err)
	require.Len(t, runs, 2)

	assert.Equal(t, model.RunStateFailed, runs[0].State)
	assert.Equal(t, "portal down", runs[0].Error)
	assert.Equal(t, model.RunStateDone, runs[1].State)
	assert.Equal(t, 3, runs[1].Created)
	assert.Equal(t, 1, runs[1].Skipped)
	assert.Equal(t, 1, runs[1].Errored)
	require.NotNil(t, runs[1].CompletedAt)

	assert.ErrorIs(t, s.UpdateRunState(ctx, "nope", model.RunStateDone), ErrNotFound)
}

func TestSQLite_LocalCRM(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)

	require.NoError(t, s.UpsertCourses(ctx, []string{"Interior Design", "Fashion Design", " ", "interior design"}))
	courses, err := s.ListCourses(ctx)
	require.NoError(t, err)
	assert.Len(t, courses, 2)

	id, ok, err := s.FindCourse(ctx, "INTERIOR DESIGN")
	require.NoError(t, err)
	require.True(t, ok)

	fuzzy, ok, err := s.FindCourse(ctx, "Diploma in Interior Design")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, id, fuzzy)

	_, ok, err = s.FindCourse(ctx, "Aviation")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = s.FindCourse(ctx, "  ")
	require.NoError(t, err)
	assert.False(t, ok)

	src1, err := s.EnsureSourceTag(ctx, "Portal")
	require.NoError(t, err)
	src2, err := s.EnsureSourceTag(ctx, "portal")
	require.NoError(t, err)
	assert.Equal(t, src1, src2)

	owner := "rep-7"
	teamID := int64(1)
	ref, err := s.CreateLead(ctx, model.NormalizedLead{
		ExternalID: "L1", Name: "Asha", Email: "Asha@Example.com", Phone: "+91 98450-12345",
		City: "Mysore", TeamID: &teamID, CourseRef: &id, SourceRef: src1, AssignedOwner: &owner,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, ref)

	got, ok, err := s.FindOwnerByContact(ctx, "asha@example.com", "")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "rep-7", got)

	got, ok, err = s.FindOwnerByContact(ctx, "", "919845012345")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "rep-7", got)

	_, ok, err = s.FindOwnerByContact(ctx, "other@example.com", "1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.DeleteLead(ctx, ref))
	assert.ErrorIs(t, s.DeleteLead(ctx, ref), ErrNotFound)
}
