// Package internal contains helpers that are private to authcore: random
// identifiers and codes, and keyed token digests.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher and Sink implementations)
//   - kv: shared keyed store strategies (Redis, memory, failover)
//   - metrics: lock-free counters and latency histograms
//
// # What this package must NOT do
//
//   - Export types that appear in the public authcore API.
package internal
