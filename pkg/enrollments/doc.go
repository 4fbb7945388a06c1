// Package enrollments integrates with the upstream enrollment
// provider.
//
// The provider paginates reads with a next-URL cursor and bounds write
// request sizes, so the Client follows cursors to completion and
// partitions writes into fixed-maximum-size batches. Writes carry the
// partial-failure contract: duplicate student keys are rejected
// locally as "duplicated", per-student outcomes from multi-status
// responses are merged into a single WriteResult, and only a transport
// failure or an unexpected status aborts the whole write.
//
// DetailsCache fronts program detail lookups with an in-process
// expirable LRU plus an optional shared Redis layer.
package enrollments
