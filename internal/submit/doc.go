// Package submit implements the user-facing submission path: send a report
// to the collector now and, if that fails, keep it in the durable queue
// under the same delivery key so a later flush pass finishes the job.
package submit
