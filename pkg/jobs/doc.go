// Package jobs tracks asynchronous bulk operations.
//
// A job moves PENDING -> IN_PROGRESS -> SUCCEEDED or FAILED, never
// any other way, except that an unclaimed PENDING job may fail
// directly so a crash cannot strand it outside a terminal state.
// Every state change is a compare-and-set UPDATE
// guarded on the expected predecessor state, so a timeout sweeper and
// a late executor callback can race on finalization and exactly one
// wins; the loser observes ErrInvalidTransition. The result ref is
// committed in the same update as the SUCCEEDED transition.
//
// The Registry authorizes job creation through the rbac resolver and
// enforces tenant isolation on reads: a job belonging to someone else
// is indistinguishable from a job that does not exist unless the
// caller holds the global job read permission.
package jobs
