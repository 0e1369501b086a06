// Package cache defines the disk-backed store that maps request keys to
// persisted response records (status, headers, body). Records are JSON files
// named by a hash of the key, written with safe semantics (temp file +
// rename) so concurrent readers never observe a partial record. The proxy
// engine depends on this package to serve hits and to absorb storage
// failures as cache misses without duplicating filesystem logic.
package cache
