package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Recorder receives audit events. Implementations must be safe for
// concurrent use.
type Recorder interface {
	Record(ctx context.Context, event Event)
}

// WriterRecorder writes events as JSON lines to an io.Writer, one
// event per line.
type WriterRecorder struct {
	mu      sync.Mutex
	encoder *json.Encoder
}

// NewWriterRecorder creates a recorder writing to w.
func NewWriterRecorder(w io.Writer) *WriterRecorder {
	return &WriterRecorder{encoder: json.NewEncoder(w)}
}

// NewFileRecorder opens (or creates) a JSON-lines audit log at path.
func NewFileRecorder(path string) (*WriterRecorder, *os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	return NewWriterRecorder(file), file, nil
}

func (r *WriterRecorder) Record(ctx context.Context, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// An audit write failure must never fail the audited operation.
	_ = r.encoder.Encode(event)
}

// NopRecorder discards all events.
type NopRecorder struct{}

func (NopRecorder) Record(ctx context.Context, event Event) {}
