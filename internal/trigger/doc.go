// Package trigger decides when flush passes run.
//
// Every trigger is a name handed to the Dispatcher, which runs an
// independent pass for it: startup, connectivity, background_sync, scheduled
// and manual. Triggers share nothing but the store; overlapping passes are
// safe because each works from its own snapshot.
//
// The sources live here too. ConnectivityMonitor probes the collector and
// fires on offline to online transitions, waking early on kernel network
// uevents. Scheduler fires on a cron schedule.
package trigger
