package traffic

import (
	"sync"
	"time"
)

var defaultTracker Tracker

// RecordSuccess records a weather lookup answered by the provider.
func RecordSuccess() {
	defaultTracker.RecordSuccess()
}

// RecordFallback records a lookup that resolved to the neutral default
// (provider error, timeout, invalid coordinate, open circuit).
func RecordFallback() {
	defaultTracker.RecordFallback()
}

// RecordDenied records an inbound rate-limit denial (429).
func RecordDenied() {
	defaultTracker.RecordDenied()
}

// LookupCount returns the number of provider lookups (success + fallback) within the window.
func LookupCount(window time.Duration) int {
	return defaultTracker.LookupCount(window)
}

// DenialCount returns the number of denials within the window.
func DenialCount(window time.Duration) int {
	return defaultTracker.DenialCount(window)
}

// FallbackRate returns (fallbackCount, totalCount) within the window. totalCount = successes + fallbacks.
func FallbackRate(window time.Duration) (fallbacks, total int) {
	return defaultTracker.FallbackRate(window)
}

// Reset clears all recorded outcomes. For tests only.
func Reset() {
	defaultTracker.Reset()
}

// Tracker maintains sliding windows of outcome timestamps.
// Health reporting reads FallbackRate; the rate limiter feeds DenialCount.
type Tracker struct {
	mu            sync.Mutex
	successTimes  []time.Time
	fallbackTimes []time.Time
	deniedTimes   []time.Time
}

// RecordSuccess records a provider-answered lookup in the tracker.
func (t *Tracker) RecordSuccess() {
	t.recordOutcome(&t.successTimes)
}

// RecordFallback records a neutral-default substitution in the tracker.
func (t *Tracker) RecordFallback() {
	t.recordOutcome(&t.fallbackTimes)
}

// RecordDenied records a rate-limit denial (429) in the tracker.
func (t *Tracker) RecordDenied() {
	t.recordOutcome(&t.deniedTimes)
}

// recordOutcome appends current timestamp to the specified slice and prunes old entries.
func (t *Tracker) recordOutcome(slice *[]time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	*slice = append(*slice, now)
	t.pruneLocked(now)
}

// LookupCount returns the number of lookups (success + fallback) within the window.
func (t *Tracker) LookupCount(window time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := time.Now().Add(-window)
	return t.countInWindow(t.successTimes, cutoff) + t.countInWindow(t.fallbackTimes, cutoff)
}

// DenialCount returns the number of rate-limit denials within the window.
func (t *Tracker) DenialCount(window time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.countInWindow(t.deniedTimes, time.Now().Add(-window))
}

// FallbackRate returns (fallbackCount, totalCount) within the window.
// Denials are inbound and excluded.
func (t *Tracker) FallbackRate(window time.Duration) (fallbacks, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := time.Now().Add(-window)
	fb := t.countInWindow(t.fallbackTimes, cutoff)
	ok := t.countInWindow(t.successTimes, cutoff)
	return fb, fb + ok
}

// Reset clears all recorded outcomes from the tracker.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.successTimes = nil
	t.fallbackTimes = nil
	t.deniedTimes = nil
}

// countInWindow counts timestamps that are not before the cutoff time.
func (t *Tracker) countInWindow(times []time.Time, cutoff time.Time) int {
	n := 0
	for _, ts := range times {
		if !ts.Before(cutoff) {
			n++
		}
	}
	return n
}

// pruneLocked removes timestamps older than maxAge (5 minutes) from all outcome slices.
// Must be called with mutex held.
func (t *Tracker) pruneLocked(now time.Time) {
	maxAge := 5 * time.Minute
	cutoff := now.Add(-maxAge)
	prune := func(slice *[]time.Time) {
		times := *slice
		i := 0
		for ; i < len(times) && times[i].Before(cutoff); i++ {
		}
		if i > 0 {
			*slice = append(times[:0], times[i:]...)
		}
	}
	prune(&t.successTimes)
	prune(&t.fallbackTimes)
	prune(&t.deniedTimes)
}
