// Package fleet defines the wire protocol spoken between KT board and the
// clients that report to it, plus small JSON-over-HTTP helpers used by the
// reporter agent.
//
// # Protocol
//
// All mutating routes live under a secret path prefix (the key path):
//
//	GET  /{key-path}/clear-client     drop every registration
//	POST /{key-path}/register-client  RegisterRequest  → Response{Token}
//	POST /{key-path}/heart-beat       HeartbeatRequest → Response{Token}
//	GET  /dashboard-data              registry snapshot for the dashboard
//
// Failures answer 400 with Response{Status: "error", Message: ...}.
// PostJSON and GetJSON surface those as *HTTPError so callers can inspect
// the code and message.
//
// # Metrics
//
// A heartbeat's client_info carries:
//
//	cpu: [0.12, 0.80, ...]                       per-core utilization, 0..1
//	mem: [usedGB, totalGB]
//	gpu: [{usage: 0..1, mem: [usedGB, totalGB]}] one entry per GPU
//
// The server stores whatever it receives; out-of-range values are not
// rejected.
package fleet
