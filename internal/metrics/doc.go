// Package metrics exposes Prometheus collectors for marketfeed.
//
// Collectors:
//   - connection status gauge (one series per status, 1 = active)
//   - reconnect attempts, routed messages, polls, probes
//   - store size gauge
//   - sink flush counters (writer, cache, mirror)
//
// A nil *Metrics is valid and records nothing, so components can be built
// without a registry in tests.
package metrics
