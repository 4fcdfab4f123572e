// Package logs reads the daemon log file for the CLI.
//
// LastLines returns the tail of the file with bounded memory, and Follow
// streams lines appended afterwards. Follow watches the log directory with
// fsnotify so it notices truncation and a file created after it started.
package logs
