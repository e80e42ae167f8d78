// Package daemon runs the scan loop that keeps the cache in step with the
// watch directory.
//
// # State machine
//
// The loop has two states:
//
//	Disconnected --connect+probe ok--> Scanning
//	Disconnected --connect/probe failed--> wait interval, Disconnected
//	Scanning --scan done--> wait interval, Scanning
//	Scanning --cache connection lost--> wait interval, Disconnected
//
// Retries are unbounded. The daemon is meant to run unattended, so no
// recoverable error stops it; only cancelling the context does.
//
// # Scanning
//
// Each scan lists the watch directory and, for every candidate file:
//
//  1. classifies it against the fingerprint stored in the cache
//  2. publishes its records if it is unknown or changed
//  3. stores the new fingerprint
//  4. renames it to *_old
//
// A file that fails at step 2 or 3 keeps its name and is retried next scan.
// A file that fails at step 4 keeps its name too, but its fingerprint is
// already stored, so the next scan classifies it unchanged and skips it.
//
// Files are processed one at a time in directory order. There is exactly one
// cache connection and nothing else touches it.
//
// # Waking early
//
// Polling is the source of truth. Options.Wake may deliver a signal that
// ends the idle wait early; Watcher provides one backed by fsnotify.
//
// # Testing
//
// Options.Clock and Options.Dial make the loop deterministic: a fake clock
// returns immediately and records requested delays, and a dialer can hand
// out a cache.Memory.
package daemon
