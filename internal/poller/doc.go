// Package poller implements the polling fallback.
//
// The Poller:
//   - Fetches the latest snapshot immediately on Start, then every Interval
//   - Replaces the store contents wholesale with each successful snapshot
//   - Logs and counts fetch errors; stale data is retained
//   - Is idempotent: a second Start or Stop is a no-op
package poller
