package registry

import (
	"math"
	"time"
)

// Token identifies one registration. It is generated by the registry and is
// the join key between registrations, heartbeat state and group membership.
type Token string

// String implements fmt.Stringer.
func (t Token) String() string { return string(t) }

// DefaultHeartbeatPeriod applies when a client registers without a
// heartbeat_period option or with a non-numeric one.
const DefaultHeartbeatPeriod = 5 * time.Second

// HeartbeatPeriodKey is the client_config option read by the liveness check.
const HeartbeatPeriodKey = "heartbeat_period"

// Registration is the immutable record created by Register.
// A client that registers again receives a new token and a new Registration.
type Registration struct {
	// Config holds the options the client registered with.
	// Callers must treat it as read-only.
	Config map[string]any

	Token Token
	Group string
	Name  string

	// RegisteredAt is informational; liveness never depends on it.
	RegisteredAt time.Time
}

// MaxHeartbeatPeriod is the longest period a Duration can carry while
// LivenessMultiplier periods still fit in an int64. Longer registered periods
// are clamped to it; the client then stays alive for about 292 years.
const MaxHeartbeatPeriod = time.Duration(math.MaxInt64 / LivenessMultiplier)

// HeartbeatPeriod returns the client's configured heartbeat period, falling
// back to DefaultHeartbeatPeriod when the option is absent or not a number.
// Zero and negative periods are returned as given; such a client is never alive.
// Periods beyond MaxHeartbeatPeriod in either direction are clamped.
func (r Registration) HeartbeatPeriod() time.Duration {
	seconds, ok := r.heartbeatSeconds()
	if !ok {
		return DefaultHeartbeatPeriod
	}
	switch limit := MaxHeartbeatPeriod.Seconds(); {
	case seconds >= limit:
		return MaxHeartbeatPeriod
	case seconds <= -limit:
		return -MaxHeartbeatPeriod
	}
	return time.Duration(seconds * float64(time.Second))
}

// HeartbeatSeconds returns the heartbeat period in seconds exactly as
// registered, or the default when the option is absent or not a number.
func (r Registration) HeartbeatSeconds() float64 {
	seconds, ok := r.heartbeatSeconds()
	if !ok {
		return DefaultHeartbeatPeriod.Seconds()
	}
	return seconds
}

func (r Registration) heartbeatSeconds() (float64, bool) {
	raw, ok := r.Config[HeartbeatPeriodKey]
	if !ok {
		return 0, false
	}
	return asFloat(raw)
}

// HeartbeatState is the latest report received for a token. Every heartbeat
// overwrites it wholesale; no history is kept.
type HeartbeatState struct {
	// Metrics is the payload exactly as reported, or nil when the last
	// heartbeat carried none. Its shape is interpreted only by Snapshot.
	Metrics map[string]any

	last  time.Time
	Token Token
}

// LastHeartbeat reports when the last heartbeat arrived. The boolean is false
// until the first heartbeat for the token.
func (h HeartbeatState) LastHeartbeat() (time.Time, bool) {
	return h.last, !h.last.IsZero()
}
