// Package download implements the task queue: an ordered, deduplicated list of
// selected identifiers drained strictly one at a time. Each entry waits a
// random jitter delay, is resolved and, when resolution succeeds, dispatched.
// Every processed entry leaves the queue and is deselected, whatever the
// outcome, and a failing entry never stops the drain.
package download
