// Package cache keeps a local SQLite snapshot of the market store so a
// restarted daemon can serve last-known data before its first fetch.
package cache
