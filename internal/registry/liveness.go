package registry

import (
	"fmt"
	"time"
)

// LivenessMultiplier is how many heartbeat periods may pass before a client
// is considered gone. It absorbs jitter and a few lost heartbeats.
const LivenessMultiplier = 10

// Clock supplies the current time to the registry and liveness checks.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a plain function to the Clock interface.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

// SystemClock reads the wall clock.
var SystemClock Clock = ClockFunc(time.Now)

// IsAlive reports whether a client whose last heartbeat arrived at last is
// still alive at now. A zero last means the client never reported and is
// never alive, whatever the period.
//
// Parameters:
//   - last: time of the most recent heartbeat, zero if none
//   - period: the client's own heartbeat period, clamped to MaxHeartbeatPeriod
//   - now: the evaluation instant
//
// Example:
//
//	IsAlive(t0, 5*time.Second, t0.Add(49*time.Second)) // true
//	IsAlive(t0, 5*time.Second, t0.Add(50*time.Second)) // false
func IsAlive(last time.Time, period time.Duration, now time.Time) bool {
	if last.IsZero() {
		return false
	}
	period = min(max(period, -MaxHeartbeatPeriod), MaxHeartbeatPeriod)
	return now.Sub(last) < LivenessMultiplier*period
}

// Bucket is a coarse, ordered classification of time since the last heartbeat.
type Bucket int

const (
	BucketNever Bucket = iota
	BucketJustNow
	BucketWithin10Seconds
	BucketWithinHalfMinute
	BucketWithinMinute
	BucketMinutesAgo
	BucketHoursAgo
	BucketDaysAgo
)

// Recency is a bucket plus, for the minutes/hours/days buckets, the truncated
// count of units elapsed.
type Recency struct {
	Bucket Bucket
	Value  int64
}

// String renders the label shown on the dashboard.
func (r Recency) String() string {
	switch r.Bucket {
	case BucketNever:
		return "never"
	case BucketJustNow:
		return "just now"
	case BucketWithin10Seconds:
		return "within 10 seconds"
	case BucketWithinHalfMinute:
		return "within half a minute"
	case BucketWithinMinute:
		return "within a minute"
	case BucketMinutesAgo:
		return plural(r.Value, "minute")
	case BucketHoursAgo:
		return plural(r.Value, "hour")
	case BucketDaysAgo:
		return plural(r.Value, "day")
	default:
		return "unknown"
	}
}

func plural(n int64, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s ago", unit)
	}
	return fmt.Sprintf("%d %ss ago", n, unit)
}

// RecencyOf classifies the time elapsed between last and now.
// A zero last yields BucketNever.
func RecencyOf(last, now time.Time) Recency {
	if last.IsZero() {
		return Recency{Bucket: BucketNever}
	}
	return recencyFor(now.Sub(last))
}

// recencyFor walks the half-open ranges in ascending order; the first match wins.
func recencyFor(elapsed time.Duration) Recency {
	switch {
	case elapsed < 7*time.Second:
		return Recency{Bucket: BucketJustNow}
	case elapsed < 10*time.Second:
		return Recency{Bucket: BucketWithin10Seconds}
	case elapsed < 30*time.Second:
		return Recency{Bucket: BucketWithinHalfMinute}
	case elapsed < time.Minute:
		return Recency{Bucket: BucketWithinMinute}
	case elapsed < time.Hour:
		return Recency{Bucket: BucketMinutesAgo, Value: int64(elapsed / time.Minute)}
	case elapsed < 24*time.Hour:
		return Recency{Bucket: BucketHoursAgo, Value: int64(elapsed / time.Hour)}
	default:
		return Recency{Bucket: BucketDaysAgo, Value: int64(elapsed / (24 * time.Hour))}
	}
}
