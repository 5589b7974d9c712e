package dedup

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-sync/internal/model"
	"github.com/sells-group/lead-sync/internal/store"
)

type mockAudit struct {
	mock.Mock
}

func (m *mockAudit) HasImported(ctx context.Context, externalID string) (bool, error) {
	args := m.Called(ctx, externalID)
	return args.Bool(0), args.Error(1)
}

func (m *mockAudit) RecordImport(ctx context.Context, entry model.SyncAuditEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func TestGate_SQLiteRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "dedup.db"))
	require.NoError(t, err)
	defer s.Close() //nolint:errcheck
	require.NoError(t, s.Migrate(ctx))

	g := New(s)

	ok, err := g.HasImported(ctx, "L-100")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, g.RecordImport(ctx, 1, "L-100", "lead-a"))

	ok, err = g.HasImported(ctx, "L-100")
	require.NoError(t, err)
	assert.True(t, ok)

	// A second credential cannot re-import the same external id.
	err = g.RecordImport(ctx, 2, "L-100", "lead-b")
	assert.ErrorIs(t, err, ErrAlreadyRecorded)
}

func TestGate_TrimsExternalID(t *testing.T) {
	m := &mockAudit{}
	fixed := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	g := New(m)
	g.now = func() time.Time { return fixed }

	m.On("HasImported", mock.Anything, "L-1").Return(true, nil)
	m.On("RecordImport", mock.Anything, model.SyncAuditEntry{
		CredentialID: 3, ExternalID: "L-1", LeadRef: "ref", CreatedAt: fixed,
	}).Return(nil)

	ok, err := g.HasImported(context.Background(), "  L-1 ")
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, g.RecordImport(context.Background(), 3, "L-1\t", "ref"))
	m.AssertExpectations(t)
}

func TestGate_RejectsEmptyID(t *testing.T) {
	m := &mockAudit{}
	g := New(m)

	_, err := g.HasImported(context.Background(), " ")
	assert.ErrorIs(t, err, ErrEmptyExternalID)
	assert.ErrorIs(t, g.RecordImport(context.Background(), 1, "", "ref"), ErrEmptyExternalID)
	m.AssertNotCalled(t, "HasImported", mock.Anything, mock.Anything)
	m.AssertNotCalled(t, "RecordImport", mock.Anything, mock.Anything)
}

func TestGate_PropagatesStoreErrors(t *testing.T) {
	m := &mockAudit{}
	boom := eris.New("disk full")
	m.On("HasImported", mock.Anything, "L-2").Return(false, boom)
	m.On("RecordImport", mock.Anything, mock.Anything).Return(boom)

	g := New(m)
	_, err := g.HasImported(context.Background(), "L-2")
	assert.ErrorIs(t, err, boom)

	err = g.RecordImport(context.Background(), 1, "L-2", "ref")
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrAlreadyRecorded)
}
