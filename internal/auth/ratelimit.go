package auth

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mrlokans/bookshop/internal/apperrors"
	"github.com/mrlokans/bookshop/internal/config"
)

// RateLimiter throttles login attempts per client IP and login name using a
// fixed window. It complements the per-account lockout, which cannot see
// attempts against names that do not exist.
type RateLimiter struct {
	mu       sync.Mutex
	attempts map[string]*attemptRecord
	max      int
	window   time.Duration
	lockout  time.Duration
	now      func() time.Time
	stop     chan struct{}
	stopOnce sync.Once
}

type attemptRecord struct {
	count       int
	windowStart time.Time
	lockedUntil time.Time
}

// LimitedError reports when the caller may retry.
type LimitedError struct {
	RetryAfter time.Duration
}

func (e *LimitedError) Error() string {
	return fmt.Sprintf("too many login attempts, retry in %s", e.RetryAfter.Round(time.Second))
}

func (e *LimitedError) Unwrap() error {
	return apperrors.ErrRateLimited
}

// NewRateLimiter starts a limiter with a background sweep of expired records.
func NewRateLimiter(cfg config.Auth) *RateLimiter {
	rl := &RateLimiter{
		attempts: make(map[string]*attemptRecord),
		max:      cfg.MaxLoginAttempts,
		window:   cfg.RateLimitWindow,
		lockout:  cfg.LockoutDuration,
		now:      time.Now,
		stop:     make(chan struct{}),
	}
	if rl.max <= 0 {
		rl.max = 5
	}
	if rl.window <= 0 {
		rl.window = 15 * time.Minute
	}
	if rl.lockout <= 0 {
		rl.lockout = 30 * time.Minute
	}

	go rl.cleanupLoop(5 * time.Minute)
	return rl
}

// Stop ends the background sweep.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

func key(ip, login string) string {
	return ip + "|" + strings.ToLower(login)
}

// Check returns a *LimitedError if the pair is locked out.
func (rl *RateLimiter) Check(ip, login string) error {
	now := rl.now()
	rl.mu.Lock()
	defer rl.mu.Unlock()

	r, ok := rl.attempts[key(ip, login)]
	if !ok {
		return nil
	}
	if now.Before(r.lockedUntil) {
		return &LimitedError{RetryAfter: r.lockedUntil.Sub(now)}
	}
	return nil
}

// Failure counts a failed attempt and locks the pair once the window's
// budget is spent.
func (rl *RateLimiter) Failure(ip, login string) {
	now := rl.now()
	rl.mu.Lock()
	defer rl.mu.Unlock()

	k := key(ip, login)
	r, ok := rl.attempts[k]
	if !ok || now.Sub(r.windowStart) > rl.window {
		r = &attemptRecord{windowStart: now}
		rl.attempts[k] = r
	}
	r.count++
	if r.count >= rl.max {
		r.lockedUntil = now.Add(rl.lockout)
	}
}

// Success forgets the pair's failures.
func (rl *RateLimiter) Success(ip, login string) {
	rl.mu.Lock()
	delete(rl.attempts, key(ip, login))
	rl.mu.Unlock()
}

func (rl *RateLimiter) cleanupLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stop:
			return
		}
	}
}

func (rl *RateLimiter) cleanup() {
	now := rl.now()
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for k, r := range rl.attempts {
		if now.Sub(r.windowStart) > rl.window && !now.Before(r.lockedUntil) {
			delete(rl.attempts, k)
		}
	}
}
