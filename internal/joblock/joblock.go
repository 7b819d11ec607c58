// Package joblock provides named, non-blocking, cross-instance mutual
// exclusion for scheduler jobs. A failed acquisition is not an error
// condition: it is the signal to skip the current tick.
package joblock

import (
	"context"
	"time"
)

// Locker is the advisory lock interface. TryLock either acquires the named
// lock and returns an unlock function, or fails immediately with
// types.ErrLockHeld. The unlock function is safe to call more than once.
// The TTL bounds how long a crashed holder can wedge the lock.
type Locker interface {
	TryLock(ctx context.Context, name string, ttl time.Duration) (func(), error)
}
