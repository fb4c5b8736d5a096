// Package metrics holds the engine's counters and the access-verification
// latency histogram.
//
// Counters live in cache-line-padded slots and are bumped with atomic adds,
// so the write path never allocates or locks. Snapshot copies the current
// values for the exporters under metrics/export. A disabled or nil *Metrics
// records nothing.
package metrics
