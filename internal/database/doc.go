// Package database provides PostgreSQL connection pool setup for the
// market writer.
package database
