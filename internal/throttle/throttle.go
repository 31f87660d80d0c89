// Package throttle implements the copy engine's bandwidth cap: a 5-second
// sliding-window excess-bytes calculation that tells the caller how long
// to sleep to stay under a configured rate.
package throttle

import "time"

// window is the sliding interval the excess-bytes calculation is measured
// over, matching the original's 5-second bandwidth averaging window.
const window = 5 * time.Second

// ThrottleSleepCap bounds the sleep Record ever recommends. The original C
// computed excess*1e6/bw as a uint32 microsecond count with no upper bound,
// which can wrap or balloon to an absurd sleep under a misconfigured
// (very low) bandwidth cap; this cap keeps a slow link from stalling the
// copy loop for unbounded stretches between progress callbacks.
const ThrottleSleepCap = 1 * time.Second

// Limiter tracks bytes transferred since windowStart and recommends sleeps
// to keep the average rate at or below BytesPerSec.
type Limiter struct {
	BytesPerSec int64

	windowStart time.Time
	totalBytes  int64
	started     bool
}

// NewLimiter returns a Limiter capped at bytesPerSec. A bytesPerSec of 0
// means unlimited; Record always returns 0 in that case.
func NewLimiter(bytesPerSec int64) *Limiter {
	return &Limiter{BytesPerSec: bytesPerSec}
}

// Record accounts for n additional bytes transferred at now and returns how
// long the caller should sleep before transferring more, in order to keep
// the average rate over the trailing window at or below BytesPerSec. It
// does not sleep itself, so it can be tested without a real clock. The
// window restarts once more than the window interval has passed since it
// started; the time of the previous Record call plays no part in when it
// restarts, so a continuous stream also gets a fresh window every interval.
func (l *Limiter) Record(n int64, now time.Time) time.Duration {
	if l.BytesPerSec <= 0 {
		return 0
	}
	if !l.started || now.Sub(l.windowStart) > window {
		l.windowStart = now
		l.totalBytes = 0
		l.started = true
	}
	l.totalBytes += n

	elapsedNanos := now.Sub(l.windowStart).Nanoseconds()
	allowed := elapsedNanos * l.BytesPerSec / int64(time.Second)
	excess := l.totalBytes - allowed
	if excess <= 0 {
		return 0
	}

	sleep := time.Duration(excess * int64(time.Second) / l.BytesPerSec)
	if sleep > ThrottleSleepCap {
		sleep = ThrottleSleepCap
	}
	return sleep
}
