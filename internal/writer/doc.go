// Package writer persists store changes to PostgreSQL.
//
// MarketWriter consumes a market store subscription, coalesces changes by
// (platform, id) so only the latest record per market is written, and
// flushes with pgx.Batch upserts into prediction_markets.
//
// Prices and volumes are stored as NUMERIC to keep decimal precision.
package writer
