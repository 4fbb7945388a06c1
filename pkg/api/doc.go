// Package api exposes the registrar over HTTP using gorilla/mux.
//
// # Routes
//
//	POST /api/v1/authorize                          authorization check
//	GET  /api/v1/programs?org=<key>                 authorized program listing
//	GET  /api/v1/programs/{key}                     program detail with provider metadata
//	POST /api/v1/programs/{key}/enrollments:read    queue a roster snapshot job
//	POST /api/v1/programs/{key}/enrollments         queue an enrollment write job
//	POST /api/v1/programs/{key}/reports             queue a report job
//	GET  /api/v1/jobs/{id}                          poll a job
//	POST /api/v1/jobs/{id}/cancel                   request cancellation
//	GET  /api/v1/jobs/{id}/result                   fetch a finished job's artifact
//
// Job submission returns 202 Accepted with the job id; callers poll
// until the job reaches a terminal state. When the result store can
// presign URLs the result route redirects to the backend instead of
// streaming the artifact through the service. A streamed write
// artifact answers 207 when the batch had mixed per-item outcomes and
// 422 when every item was rejected.
//
// Identity comes from the middleware package: trusted gateway headers
// or a verified OIDC bearer token. All job-route errors that stem from
// tenant isolation surface as 404, never 403, so a caller cannot probe
// for the existence of another tenant's job.
package api
