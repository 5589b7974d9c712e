package lock

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-sync/internal/db"
)

// PGAdvisoryLock holds a transaction-scoped advisory lock on a dedicated
// transaction. Session-scoped locks are unusable through a pool because the
// unlock may run on another connection. If the process dies the transaction
// and the lock go with it.
type PGAdvisoryLock struct {
	pool   db.Pool
	lockID int64

	mu sync.Mutex
	tx pgx.Tx
}

// NewPGAdvisoryLock derives the advisory id from key with FNV-1a.
func NewPGAdvisoryLock(pool db.Pool, key string) *PGAdvisoryLock {
	return &PGAdvisoryLock{pool: pool, lockID: advisoryID(key)}
}

func (l *PGAdvisoryLock) Acquire(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.tx != nil {
		return false, eris.New("lock: advisory lock already held by this instance")
	}

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return false, eris.Wrap(err, "lock: begin advisory tx")
	}

	var acquired bool
	if err := tx.QueryRow(ctx, "SELECT pg_try_advisory_xact_lock($1)", l.lockID).Scan(&acquired); err != nil {
		_ = tx.Rollback(ctx)
		return false, eris.Wrap(err, "lock: try advisory lock")
	}
	if !acquired {
		_ = tx.Rollback(ctx)
		return false, nil
	}
	l.tx = tx
	return true, nil
}

// Refresh has no lease to extend. It pings the holding transaction so a
// dropped connection, which releases the lock server-side, is noticed.
func (l *PGAdvisoryLock) Refresh(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.tx == nil {
		return false, nil
	}
	if _, err := l.tx.Exec(ctx, "SELECT 1"); err != nil {
		return false, eris.Wrap(err, "lock: ping advisory tx")
	}
	return true, nil
}

func (l *PGAdvisoryLock) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.tx == nil {
		return nil
	}
	err := l.tx.Rollback(ctx)
	l.tx = nil
	return eris.Wrap(err, "lock: release advisory lock")
}
