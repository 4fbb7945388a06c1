// Package executor runs jobs on a bounded worker pool.
//
// Each task claims its job with the PENDING -> IN_PROGRESS transition,
// performs the bulk operation under a per-job wall-clock timeout, and
// finalizes through the store's compare-and-set transitions. The
// advisory cancellation flag is checked between write batches and
// before expensive reads; a canceled or timed-out job still reaches a
// terminal FAILED state with the reason recorded.
//
// Write jobs honor the partial-failure contract: duplicate student
// keys and unrequestable statuses are settled locally, per-item
// provider outcomes are merged into one artifact, and only a
// downstream failure aborts the job, leaving no partial artifact.
package executor
