// Package probe answers "is the market-data backend reachable?" once per
// process and caches the answer.
//
// The first Check issues GET /health with a short timeout. Later calls return
// the cached result until Reset is called or the optional TTL expires.
// Concurrent callers during an in-flight probe share one request.
package probe
