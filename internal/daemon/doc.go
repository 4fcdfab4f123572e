// Package daemon coordinates the long-running fieldsync process.
//
// It wires configuration, the report store, the flush engine and every
// trigger source (startup flush, connectivity monitor, cron schedule, spool
// intake and the HTTP API) into a single lifecycle with flock-based locking to
// prevent two daemons from sharing a state directory.
//
// Keep orchestration logic here: delivery semantics live in syncer, trigger
// timing in trigger, while the daemon focuses on startup, shutdown and the
// HTTP surface.
package daemon
