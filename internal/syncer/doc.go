// Package syncer runs flush passes: it drains the durable queue through a
// Transport and reconciles the store with each report's outcome.
//
// A pass is a fold over the snapshot taken when it begins. Every report ends
// in exactly one partition: delivered (deleted from the queue), pending (left
// for the next trigger) or dead-lettered (permanently rejected and moved
// aside). One report's failure never stops the others. Delivery failures are
// absorbed; Flush only returns an error when the store itself fails mid-pass
// or the context is cancelled.
package syncer
