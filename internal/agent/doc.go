// Package agent implements the reporting side of the board protocol.
//
// A Reporter registers a client under a group and name, then posts a
// heartbeat every period carrying whatever its Collector samples:
//
//	Reporter ──register-client──▶ board   (retried, 400ms apart)
//	   │                            │
//	   └──────heart-beat──────────▶ │     (every period)
//	          ◀── 400 "client_token is invalid" after a clear
//	   └──register-client─────────▶ │     (next tick)
//
// SystemCollector reads the local host through gopsutil. SimulatedCollector
// generates random fleets for load testing a board.
package agent
