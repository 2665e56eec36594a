// Package ghost owns the device-side agent.
//
// Ownership boundary:
// - inbound listener and topic filtering
// - worker queue and the live process table
// - command dispatch (exec, push, config lines, status)
// - process supervision and output streaming
// - reply outbox in front of the push transport
// - admin HTTP surface
//
// Flow:
// - listener -> queue -> worker -> codec -> dispatcher -> outbox
// - supervisor -> internal notice -> queue -> worker table -> outbox on exit
// - outbox -> push transport
//
// The worker goroutine is the only writer of the process table, keyed by
// spawn seq rather than pid. Spawned commands and deferred daemon restarts
// talk back only through the outbox. No command has a timeout: a hung child
// keeps its table entry until it exits.
package ghost
