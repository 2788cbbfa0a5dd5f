package abuse

import (
	"context"
	"time"
)

// LoginLockout locks a source address after repeated failed admin logins.
type LoginLockout struct {
	store       CounterStore
	maxFailures func() int
	lockFor     time.Duration
}

// NewLoginLockout constructs a LoginLockout. Failures are counted within lockFor, and a lock lasts lockFor.
func NewLoginLockout(store CounterStore, maxFailures func() int, lockFor time.Duration) *LoginLockout {
	return &LoginLockout{store: store, maxFailures: maxFailures, lockFor: lockFor}
}

// IsLocked reports whether source is locked out.
func (l *LoginLockout) IsLocked(ctx context.Context, source string) (bool, error) {
	count, err := l.store.Get(ctx, lockKey(source))
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// RecordFailure counts a failed login and locks source once the maximum is reached.
// locked is true only on the failure that triggers the lock.
func (l *LoginLockout) RecordFailure(ctx context.Context, source string) (failures int64, locked bool, err error) {
	failures, err = l.store.Incr(ctx, failKey(source), l.lockFor)
	if err != nil {
		return 0, false, err
	}
	if failures < int64(l.maxFailures()) {
		return failures, false, nil
	}
	if _, err = l.store.Incr(ctx, lockKey(source), l.lockFor); err != nil {
		return failures, false, err
	}
	if err = l.store.Delete(ctx, failKey(source)); err != nil {
		return failures, true, err
	}
	return failures, true, nil
}

// Reset clears the failure count after a successful login.
func (l *LoginLockout) Reset(ctx context.Context, source string) error {
	return l.store.Delete(ctx, failKey(source))
}

func failKey(source string) string {
	return "admin:login:fail:" + source
}

func lockKey(source string) string {
	return "admin:login:lock:" + source
}
