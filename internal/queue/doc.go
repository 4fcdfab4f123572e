// Package queue persists pending incident reports in SQLite.
//
// The Store is the durable record store behind the flush protocol: every row
// in the reports table is a report that has not yet been confirmed delivered.
// Rows are inserted by Enqueue, read as point-in-time snapshots, and deleted
// only once delivery succeeds (or moved to dead_letters when the collector
// permanently rejects them). Rows are never updated in place.
//
// A flush pass runs through a Pass, which pins one connection for the whole
// pass, captures the snapshot when it begins, and commits each delete as its
// own transaction so that confirmed deliveries survive a later storage error.
// Always release a Pass; WithPass does so on every exit path.
//
// Schema changes are additive SQL files under migrations/, applied in order at
// Open and tracked in schema_migrations.
package queue
