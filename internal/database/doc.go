// Package database provides the SQLite scan history.
//
// ScanDB keeps two tables:
//   - scan_results: one row per host per run with the full result as JSON
//     and its summary
//   - port_states: one row per probed port, for per-port history queries
//
// The database uses modernc.org/sqlite, which needs no cgo, in WAL mode
// with a single writer connection.
package database
