// Package daemonrun runs the fieldsync daemon as a foreground process: it
// wires logging, tracing and the report store, then blocks until a shutdown
// signal arrives.
package daemonrun
