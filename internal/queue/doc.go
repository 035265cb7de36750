// Package queue is the scheduling authority for background jobs.
//
// Callers enqueue work by registered type name and poll the returned id for
// status, progress and cancellation. A bounded worker pool pulls SCHEDULED
// records in enqueue order, drives each record through its lifecycle, and
// reports progress through the store so concurrent readers always see the
// current snapshot.
//
// Cancellation is advisory and cooperative: Cancel marks the record, and the
// running callable observes the mark at its own safe points via
// Progress.CheckCancel. Work that never checks cannot be stopped early.
package queue
