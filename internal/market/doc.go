// Package market holds the shared market-data store.
//
// The Store is the single collection both data-source modes write into:
//   - the WebSocket path replaces the whole list or upserts single records
//   - the polling path replaces the whole list on every tick
//
// Records are identified by (platform, id) and kept in insertion order so
// listings stay stable. Every mutation is fanned out as a Change to named
// subscribers (persistence sinks) through growable buffers that never block
// the writer.
package market
