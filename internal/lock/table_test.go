package lock

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-sync/internal/store"
)

func newLockDB(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "lock.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func TestTableLock_SQLite(t *testing.T) {
	ctx := context.Background()
	s := newLockDB(t)

	a := NewTableLock(s.DB(), Key(1), time.Minute)
	b := NewTableLock(s.DB(), Key(1), time.Minute)
	other := NewTableLock(s.DB(), Key(2), time.Minute)

	ok, err := a.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = other.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, b.Release(ctx))
	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "release by a non-owner must not free the lock")

	require.NoError(t, a.Release(ctx))
	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestTableLock_ExpiredLeaseTakenOver(t *testing.T) {
	ctx := context.Background()
	s := newLockDB(t)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a := NewTableLock(s.DB(), "k", time.Minute)
	a.now = func() time.Time { return base }
	b := NewTableLock(s.DB(), "k", time.Minute)
	b.now = func() time.Time { return base.Add(30 * time.Second) }

	ok, err := a.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	b.now = func() time.Time { return base.Add(2 * time.Minute) }
	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestTableLock_RefreshExtendsLease(t *testing.T) {
	ctx := context.Background()
	s := newLockDB(t)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a := NewTableLock(s.DB(), "k", time.Minute)
	a.now = func() time.Time { return base }
	b := NewTableLock(s.DB(), "k", time.Minute)

	ok, err := a.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	a.now = func() time.Time { return base.Add(50 * time.Second) }
	ok, err = a.Refresh(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	// Past the original expiry but inside the renewed one.
	b.now = func() time.Time { return base.Add(90 * time.Second) }
	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = b.Refresh(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "a non-owner cannot renew")

	b.now = func() time.Time { return base.Add(3 * time.Minute) }
	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = a.Refresh(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "the previous holder has lost the lease")
}

func TestTableLock_ExecError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close() //nolint:errcheck

	mock.ExpectExec(`INSERT INTO run_locks`).
		WithArgs("k", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnError(errors.New("database is locked"))
	mock.ExpectExec(`DELETE FROM run_locks`).
		WithArgs("k", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	l := NewTableLock(db, "k", time.Minute)
	_, err = l.Acquire(context.Background())
	assert.ErrorContains(t, err, "database is locked")
	assert.NoError(t, l.Release(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewFactory(t *testing.T) {
	s := newLockDB(t)
	_, client := newTestRedis(t)
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	f, err := NewFactory("table", time.Minute, Backends{DB: s.DB()})
	require.NoError(t, err)
	assert.IsType(t, &TableLock{}, f("x"))

	f, err = NewFactory("redis", time.Minute, Backends{Redis: client})
	require.NoError(t, err)
	assert.IsType(t, &RedisLock{}, f("x"))

	f, err = NewFactory("postgres", time.Minute, Backends{Pool: mock})
	require.NoError(t, err)
	assert.IsType(t, &PGAdvisoryLock{}, f("x"))

	_, err = NewFactory("redis", time.Minute, Backends{})
	assert.Error(t, err)
	_, err = NewFactory("zookeeper", time.Minute, Backends{})
	assert.Error(t, err)
}
