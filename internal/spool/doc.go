// Package spool ingests reports dropped as *.json files into the spool
// directory by other programs.
//
// Each valid file is enqueued and then removed. Files that are not valid
// JSON are moved to the rejected/ subdirectory so they are not retried.
// Producers should write to a temporary name and rename into place; only
// names ending in .json are considered.
package spool
