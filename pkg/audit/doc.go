// Package audit records authorization decisions and job lifecycle
// events as JSON lines.
//
// The service emits exactly two event families: authz.* for
// permission decisions and grant changes, and job.* for the pipeline
// lifecycle. Events flow through a Recorder, either a file-backed
// JSON-lines log or stdout.
package audit
