package results

import (
	"context"
	"errors"
	"path"
	"strings"
	"time"
)

// ErrNotFound is returned when no artifact exists for a ref.
var ErrNotFound = errors.New("result artifact not found")

// ResultRef is an opaque backend key for a stored artifact. It is
// persisted on the job row and never exposed to callers directly.
type ResultRef string

// Store persists job result artifacts.
type Store interface {
	// Put stores payload as the result artifact for jobID and returns
	// the ref to persist on the job. Writing is all-or-nothing; a
	// failed Put leaves no partial artifact behind.
	Put(ctx context.Context, jobID string, payload []byte, contentType string) (ResultRef, error)

	// Get retrieves the artifact and its content type.
	Get(ctx context.Context, ref ResultRef) ([]byte, string, error)

	// Delete removes the artifact. Deleting a missing ref is a no-op.
	Delete(ctx context.Context, ref ResultRef) error

	// List returns every ref currently stored, for orphan sweeps.
	List(ctx context.Context) ([]ResultRef, error)
}

// URLSigner is implemented by backends that can hand out direct
// download URLs with a bounded lifetime.
type URLSigner interface {
	SignedURL(ctx context.Context, ref ResultRef, ttl time.Duration) (string, error)
}

const keyPrefix = "job-results/"

// refFor builds the artifact key for a job, choosing the file
// extension from the content type.
func refFor(jobID, contentType string) ResultRef {
	return ResultRef(keyPrefix + jobID + extensionFor(contentType))
}

func extensionFor(contentType string) string {
	switch {
	case strings.HasPrefix(contentType, "text/csv"):
		return ".csv"
	case strings.HasPrefix(contentType, "application/json"):
		return ".json"
	default:
		return ".bin"
	}
}

// contentTypeFor recovers the content type from a ref's extension.
func contentTypeFor(ref ResultRef) string {
	switch path.Ext(string(ref)) {
	case ".csv":
		return "text/csv"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}

// JobIDFor extracts the job ID a ref belongs to, for orphan sweeps.
func JobIDFor(ref ResultRef) string {
	name := strings.TrimPrefix(string(ref), keyPrefix)
	return strings.TrimSuffix(name, path.Ext(name))
}
