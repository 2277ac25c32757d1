// Package model defines shared data types used across marketfeed.
//
// Conventions:
//   - A market is identified by the pair (Platform, ID); see Key.
//   - Prices and liquidity are decimals (0-1 for binary outcome prices).
//   - Timestamps are time.Time in UTC.
package model
