// Package router decodes server envelopes from the push channel and applies
// them to the market store.
//
// Envelope: {"type": "...", "timestamp": "...", "data": {"markets": [...]} }
// or {"type": "...", "timestamp": "...", "data": {"market": {...}} }.
//
// Only envelopes whose type matches the configured channel type are applied.
// A full list replaces the store contents; a single record is upserted by
// (platform, id).
package router
