// Package notifications alerts an operator about flush passes that need
// attention.
//
// The default implementation publishes to ntfy using the topic configured in
// config.toml and degrades to a no-op when no topic is set. Observer adapts a
// Service to the trigger dispatcher so dead-lettered reports and aborted
// passes produce a push notification without the engine knowing about it.
package notifications
