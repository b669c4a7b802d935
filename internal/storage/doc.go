// Package storage keeps a journal of timer cycles.
//
// Drivers:
//   - "file": JSON Lines file, compacted to the most recent records
//   - "sqlite": SQLite database (modernc.org/sqlite, no cgo)
package storage
