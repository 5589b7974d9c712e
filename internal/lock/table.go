package lock

import (
	"context"
	"database/sql"
	"time"

	"github.com/rotisserie/eris"
)

// TableLock is a lease row in the run_locks table. An expired lease can be
// taken over, so a crashed holder blocks runs for at most ttl.
type TableLock struct {
	db    *sql.DB
	name  string
	owner string
	ttl   time.Duration
	now   func() time.Time
}

// NewTableLock creates a TableLock for key.
func NewTableLock(db *sql.DB, key string, ttl time.Duration) *TableLock {
	return &TableLock{db: db, name: key, owner: newOwner(), ttl: ttl, now: time.Now}
}

func (l *TableLock) Acquire(ctx context.Context) (bool, error) {
	now := l.now()
	res, err := l.db.ExecContext(ctx,
		`INSERT INTO run_locks (name, owner, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET owner = excluded.owner, expires_at = excluded.expires_at
		 WHERE run_locks.expires_at <= ?`,
		l.name, l.owner, now.Add(l.ttl).UnixMilli(), now.UnixMilli(),
	)
	if err != nil {
		return false, eris.Wrapf(err, "lock: acquire %s", l.name)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "lock: rows affected")
	}
	return n == 1, nil
}

// Refresh pushes expires_at forward while this holder still owns the row.
func (l *TableLock) Refresh(ctx context.Context) (bool, error) {
	res, err := l.db.ExecContext(ctx,
		`UPDATE run_locks SET expires_at = ? WHERE name = ? AND owner = ?`,
		l.now().Add(l.ttl).UnixMilli(), l.name, l.owner,
	)
	if err != nil {
		return false, eris.Wrapf(err, "lock: refresh %s", l.name)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "lock: rows affected")
	}
	return n == 1, nil
}

func (l *TableLock) Release(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx,
		`DELETE FROM run_locks WHERE name = ? AND owner = ?`, l.name, l.owner)
	return eris.Wrapf(err, "lock: release %s", l.name)
}
