// Package vehicle holds the data model shared by every stage of the
// proximity pipeline: raw position fixes, the smoothed self-state, peer
// vehicles, hazard alerts and the telemetry schema exchanged with peers.
//
// Dependency rule: vehicle depends only on geo and units. No I/O happens
// here beyond JSON decoding of peer payloads.
package vehicle
