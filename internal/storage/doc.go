// Package storage owns the job records.
//
// It is the single source of truth for job state: the queue façade and the
// worker pool both go through the atomic Insert/Update/Remove operations, and
// every read hands out a deep copy. Two drivers exist:
//
//   - "memory": map-backed, no durability (tests, ephemeral deployments)
//   - "sqlite": SQLite database file; terminal records survive restarts
package storage
