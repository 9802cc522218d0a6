// Package registry holds the state of KT board: which clients are registered,
// under which group, what they last reported, and whether they are still alive.
//
// # Overview
//
// Clients register under a named group and receive an opaque token. They then
// send heartbeats carrying resource metrics. The dashboard polls a Snapshot
// that groups clients, counts the live ones and normalizes their metrics.
//
//	┌────────────┐  Register   ┌──────────────────────────────┐
//	│   client   │────────────▶│           Registry           │
//	│            │  Heartbeat  │  registrations               │
//	│            │────────────▶│  latest heartbeat per token  │
//	└────────────┘             │  group index                 │
//	                           └──────────────┬───────────────┘
//	                                          │ Snapshot
//	                           ┌──────────────▼───────────────┐
//	                           │ liveness + metric views      │
//	                           │ sorted groups and clients    │
//	                           └──────────────────────────────┘
//
// # Liveness
//
// A client is alive when it has reported at least once and its last
// heartbeat is younger than LivenessMultiplier times its own
// heartbeat_period (5 seconds unless registered otherwise). Liveness is
// never stored; every Snapshot derives it from the clock.
//
// RecencyOf maps the time since the last heartbeat into display buckets:
//
//	never │ <7s just now │ <10s │ <30s │ <60s │ <1h minutes │ <1d hours │ days
//
// Ranges are half-open and counts are truncated, so 3599s is "59 minutes
// ago" and 3600s is "1 hour ago".
//
// # Metrics
//
// Heartbeat payloads are stored exactly as received. Snapshot interprets
// them:
//
//	cpu: [0.5, 0.5]                       → {cores: 2, usagePct: 100}
//	mem: [4, 16]                          → {usedGB: 4, totalGB: 16}
//	gpu: [{usage: 0.3, mem: [2, 8]}, ...] → [{usagePct: 30, memUsedGB: 2, memTotalGB: 8}, ...]
//
// CPU usage is cumulative across cores and may exceed 100. Malformed fields
// become nil in the view instead of failing the heartbeat or the snapshot.
// Values outside their nominal range are passed through untouched.
//
// # Concurrency
//
// One RWMutex guards registrations, heartbeats and the group index together.
// Snapshot copies under the read lock and aggregates afterwards, so a slow
// dashboard never holds writers for longer than the copy.
//
// # Errors
//
//   - ErrValidation: empty group or name, or a config/metrics value that is
//     not an object (see DecodeObject)
//   - ErrUnknownToken: heartbeat for a token that is not registered
//   - ErrNotFound: Lookup or Heartbeat for an absent token
//
// # Monitor
//
// Monitor sweeps the registry on an interval, logs clients going stale or
// coming back, and feeds a SweepObserver such as the Prometheus metrics in
// package telemetry.
package registry
