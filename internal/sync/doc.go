// Package sync decides which data files need publishing and publishes them.
//
// # On-disk protocol
//
// Producers drop files named *.base into the watch directory. Each line of a
// file is a "key|value" record. After every record of a file has been written
// to the cache, the file is renamed to *.base_old. Files ending in _old are
// never looked at again, so the rename is the only persistent "done" marker:
//
//	metrics.base      candidate
//	metrics.base_old  processed, ignored
//
// # Cache keys
//
// Records are stored under "<base>_<key>", where base is the file name
// without ".base". The fingerprint of the last successful publish is stored
// under "<file name>_checksum":
//
//	metrics.base containing "count|42"
//	  metrics_count          = "42"
//	  metrics.base_checksum  = "<md5 of file>"
//
// # Classification
//
// Tracker.Classify compares the current fingerprint with the stored one:
//
//   - Unknown: no fingerprint stored, the file was never published
//   - Changed: the stored fingerprint differs
//   - Unchanged: the stored fingerprint matches, nothing to do
//
// # Errors
//
// Errors are split by blast radius. A *FileError, *PublishError or
// *RenameError affects one file, which stays a candidate and is retried on
// the next scan. A cache connection error (IsConnection) means the cache is
// gone and the caller should reconnect before touching any more files.
//
// Publishing is at-least-once: a failure halfway through a file leaves the
// earlier records in the cache, and the retry rewrites them with the same
// values.
package sync
