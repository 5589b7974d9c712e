package lock

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// ErrLeaseLost is the cancellation cause when a held lock could not be kept.
var ErrLeaseLost = errors.New("lock: lease lost")

// maxRefreshFailures consecutive refresh errors end the lease. With interval
// at a third of the ttl the holder gives up before the lease can expire.
const maxRefreshFailures = 2

// Keepalive refreshes l every interval until stop is called. The returned
// context is cancelled with ErrLeaseLost when the lease is taken over or
// keeps failing to refresh. A non-positive interval disables refreshing.
func Keepalive(ctx context.Context, l RunLock, interval time.Duration, log *zap.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(ctx)
	if interval <= 0 {
		return ctx, func() { cancel(nil) }
	}
	if log == nil {
		log = zap.NewNop()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			ok, err := l.Refresh(ctx)
			switch {
			case err != nil:
				if ctx.Err() != nil {
					return
				}
				failures++
				log.Warn("lock: refresh failed", zap.Int("failures", failures), zap.Error(err))
				if failures >= maxRefreshFailures {
					cancel(ErrLeaseLost)
					return
				}
			case !ok:
				log.Error("lock: lease taken over")
				cancel(ErrLeaseLost)
				return
			default:
				failures = 0
			}
		}
	}()

	return ctx, func() {
		cancel(nil)
		<-done
	}
}
