// Package lock serializes sync runs per credential across processes.
package lock

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-sync/internal/db"
)

// RunLock is a non-blocking mutual exclusion lease. Acquire reports false
// when another holder owns the lock. Refresh extends a held lease and reports
// false once it has been lost. Release is safe to call after a failed Acquire.
type RunLock interface {
	Acquire(ctx context.Context) (bool, error)
	Refresh(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// Factory creates the lock for a key.
type Factory func(key string) RunLock

// Key returns the lock key for a credential.
func Key(credentialID int64) string {
	return fmt.Sprintf("lead-sync:%d", credentialID)
}

// Backends holds the connections a Factory may use. Only the one matching
// the driver needs to be set.
type Backends struct {
	Redis redis.UniversalClient
	Pool  db.Pool
	DB    *sql.DB
}

// NewFactory returns a Factory for driver "redis", "postgres" or "table".
func NewFactory(driver string, ttl time.Duration, b Backends) (Factory, error) {
	switch driver {
	case "redis":
		if b.Redis == nil {
			return nil, eris.New("lock: redis driver requires a redis client")
		}
		return func(key string) RunLock { return NewRedisLock(b.Redis, key, ttl) }, nil
	case "postgres":
		if b.Pool == nil {
			return nil, eris.New("lock: postgres driver requires a pool")
		}
		return func(key string) RunLock { return NewPGAdvisoryLock(b.Pool, key) }, nil
	case "table", "":
		if b.DB == nil {
			return nil, eris.New("lock: table driver requires a database handle")
		}
		return func(key string) RunLock { return NewTableLock(b.DB, key, ttl) }, nil
	default:
		return nil, eris.Errorf("lock: unknown driver %q", driver)
	}
}

func newOwner() string {
	return uuid.NewString()
}

func advisoryID(key string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return int64(h.Sum64())
}
