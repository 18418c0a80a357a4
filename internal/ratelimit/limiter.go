// Package ratelimit implements the per-action sliding-window rate limiter
// that guards how often a given module.action can run, independent of the
// resource manager's concurrency cap (internal/resourcemgr) and the
// permission profile's per-plan action ceiling.
package ratelimit

import (
	"sync"
	"time"

	imlerrors "github.com/llmos-bridge/daemon/internal/iml/errors"
)

// pruneWindow bounds memory: timestamps older than this are dropped on
// every check, regardless of whether a per-hour limit was even configured.
const pruneWindow = time.Hour

// Limiter is a sliding-window rate limiter keyed by "module.action". It is
// safe for concurrent use. Grounded directly on original_source's
// security/rate_limiter.py ActionRateLimiter — same prune-then-count
// sliding window, same minute/hour dual limits, same reset/get-counts
// surface.
type Limiter struct {
	mu         sync.Mutex
	timestamps map[string][]time.Time
}

func New() *Limiter {
	return &Limiter{timestamps: make(map[string][]time.Time)}
}

// Limits expresses the optional per-minute and per-hour ceilings for one
// action key; a nil pointer means "unlimited" for that window.
type Limits struct {
	PerMinute *int
	PerHour   *int
}

// Counts reports the current minute/hour invocation counts for an action
// key, after pruning stale timestamps.
type Counts struct {
	Minute int
	Hour   int
}

// Check reports whether action_key is currently within limits, without
// recording an invocation.
func (l *Limiter) Check(actionKey string, limits Limits) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	l.prune(actionKey, now)
	timestamps := l.timestamps[actionKey]

	if limits.PerMinute != nil && countSince(timestamps, now.Add(-time.Minute)) >= *limits.PerMinute {
		return false
	}
	if limits.PerHour != nil && countSince(timestamps, now.Add(-time.Hour)) >= *limits.PerHour {
		return false
	}
	return true
}

// CheckOrRaise checks limits and, if the action is within them, records
// the invocation. Returns a RateLimitExceeded error (never panics) when
// either window is saturated; the invocation is not recorded in that case.
func (l *Limiter) CheckOrRaise(actionKey string, limits Limits) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	l.prune(actionKey, now)
	timestamps := l.timestamps[actionKey]

	if limits.PerMinute != nil {
		if recent := countSince(timestamps, now.Add(-time.Minute)); recent >= *limits.PerMinute {
			return rateLimitError(actionKey, *limits.PerMinute, "minute")
		}
	}
	if limits.PerHour != nil {
		if recent := countSince(timestamps, now.Add(-time.Hour)); recent >= *limits.PerHour {
			return rateLimitError(actionKey, *limits.PerHour, "hour")
		}
	}

	l.timestamps[actionKey] = append(l.timestamps[actionKey], now)
	return nil
}

// Record registers an invocation without checking limits.
func (l *Limiter) Record(actionKey string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	l.prune(actionKey, now)
	l.timestamps[actionKey] = append(l.timestamps[actionKey], now)
}

// Reset clears state for a single action key, or for every key when
// actionKey is empty.
func (l *Limiter) Reset(actionKey string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if actionKey == "" {
		l.timestamps = make(map[string][]time.Time)
		return
	}
	delete(l.timestamps, actionKey)
}

// GetCounts reports the current minute/hour counts for an action key.
func (l *Limiter) GetCounts(actionKey string) Counts {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	l.prune(actionKey, now)
	timestamps := l.timestamps[actionKey]
	return Counts{
		Minute: countSince(timestamps, now.Add(-time.Minute)),
		Hour:   countSince(timestamps, now.Add(-time.Hour)),
	}
}

func (l *Limiter) prune(actionKey string, now time.Time) {
	timestamps, ok := l.timestamps[actionKey]
	if !ok {
		return
	}
	cutoff := now.Add(-pruneWindow)
	kept := timestamps[:0]
	for _, t := range timestamps {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	l.timestamps[actionKey] = kept
}

func countSince(timestamps []time.Time, cutoff time.Time) int {
	n := 0
	for _, t := range timestamps {
		if t.After(cutoff) {
			n++
		}
	}
	return n
}

func rateLimitError(actionKey string, limit int, window string) error {
	return imlerrors.New(imlerrors.RateLimitExceeded, "rate limit exceeded for "+actionKey).
		WithDetail("action_key", actionKey).
		WithDetail("limit", limit).
		WithDetail("window", window)
}
