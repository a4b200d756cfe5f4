package auth

import (
	"sync"
	"time"
)

// loginRateLimiter tracks failed unlock attempts per username and enforces
// exponential backoff. Unknown usernames are tracked the same way so the
// limiter does not reveal which accounts exist.
type loginRateLimiter struct {
	mu       sync.Mutex
	attempts map[string]*attemptRecord
	now      func() time.Time

	maxFailures int
	baseLockout time.Duration
	maxLockout  time.Duration
}

type attemptRecord struct {
	failures    int
	lastFailure time.Time
	lockedUntil time.Time
}

const (
	// defaultMaxFailures is the number of consecutive failures before lockout begins.
	defaultMaxFailures = 5
	// defaultBaseLockout is the initial lockout after defaultMaxFailures.
	defaultBaseLockout = 30 * time.Second
	// defaultMaxLockout caps the exponential backoff.
	defaultMaxLockout = 15 * time.Minute
	// attemptExpiry is how long after the last failure before a record is dropped.
	attemptExpiry = 1 * time.Hour
)

func newLoginRateLimiter(now func() time.Time) *loginRateLimiter {
	return &loginRateLimiter{
		attempts:    make(map[string]*attemptRecord),
		now:         now,
		maxFailures: defaultMaxFailures,
		baseLockout: defaultBaseLockout,
		maxLockout:  defaultMaxLockout,
	}
}

// check reports whether username is locked out and for how long.
func (rl *loginRateLimiter) check(username string) (blocked bool, retryAfter time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rec, ok := rl.attempts[username]
	if !ok {
		return false, 0
	}
	now := rl.now()
	if now.Sub(rec.lastFailure) > attemptExpiry {
		delete(rl.attempts, username)
		return false, 0
	}
	if now.Before(rec.lockedUntil) {
		return true, rec.lockedUntil.Sub(now)
	}
	return false, 0
}

// recordFailure increments the failure counter and applies exponential
// backoff once maxFailures is reached.
func (rl *loginRateLimiter) recordFailure(username string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rec, ok := rl.attempts[username]
	if !ok {
		rec = &attemptRecord{}
		rl.attempts[username] = rec
	}
	now := rl.now()
	rec.failures++
	rec.lastFailure = now

	if rec.failures >= rl.maxFailures {
		// baseLockout * 2^(failures - maxFailures), capped.
		shift := rec.failures - rl.maxFailures
		lockout := rl.baseLockout
		for i := 0; i < shift; i++ {
			lockout *= 2
			if lockout > rl.maxLockout {
				lockout = rl.maxLockout
				break
			}
		}
		rec.lockedUntil = now.Add(lockout)
	}
}

// recordSuccess resets the failure counter.
func (rl *loginRateLimiter) recordSuccess(username string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.attempts, username)
}

// forget drops state for a deleted user.
func (rl *loginRateLimiter) forget(username string) {
	rl.recordSuccess(username)
}
