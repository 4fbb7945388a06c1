package results

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestFilesystemStoreRoundTrip(t *testing.T) {
	store, err := NewFilesystemStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFilesystemStore failed: %v", err)
	}
	ctx := context.Background()

	ref, err := store.Put(ctx, "6f1c9e04", []byte("student_key,status\ns1,enrolled\n"), "text/csv")
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if string(ref) != "job-results/6f1c9e04.csv" {
		t.Errorf("unexpected ref %q", ref)
	}

	data, contentType, err := store.Get(ctx, ref)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if contentType != "text/csv" {
		t.Errorf("expected text/csv, got %q", contentType)
	}
	if string(data) != "student_key,status\ns1,enrolled\n" {
		t.Errorf("payload mismatch: %q", data)
	}
}

func TestFilesystemStoreJSONExtension(t *testing.T) {
	store, err := NewFilesystemStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFilesystemStore failed: %v", err)
	}

	ref, err := store.Put(context.Background(), "abc123", []byte(`{"total":3}`), "application/json")
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if string(ref) != "job-results/abc123.json" {
		t.Errorf("unexpected ref %q", ref)
	}
}

func TestFilesystemStoreGetMissing(t *testing.T) {
	store, err := NewFilesystemStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFilesystemStore failed: %v", err)
	}

	_, _, err = store.Get(context.Background(), "job-results/missing.csv")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestFilesystemStoreDelete(t *testing.T) {
	store, err := NewFilesystemStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFilesystemStore failed: %v", err)
	}
	ctx := context.Background()

	ref, err := store.Put(ctx, "gone", []byte("x"), "text/csv")
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := store.Delete(ctx, ref); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, _, err := store.Get(ctx, ref); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}

	// Deleting again is a no-op.
	if err := store.Delete(ctx, ref); err != nil {
		t.Errorf("second Delete failed: %v", err)
	}
}

func TestFilesystemStoreList(t *testing.T) {
	root := t.TempDir()
	store, err := NewFilesystemStore(root)
	if err != nil {
		t.Fatalf("NewFilesystemStore failed: %v", err)
	}
	ctx := context.Background()

	if _, err := store.Put(ctx, "a", []byte("1"), "text/csv"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if _, err := store.Put(ctx, "b", []byte("2"), "application/json"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	// Leftover temp files from interrupted writes are not artifacts.
	leftover := filepath.Join(root, "job-results", ".tmp-c-12345")
	if err := os.WriteFile(leftover, []byte("partial"), 0644); err != nil {
		t.Fatalf("failed to plant temp file: %v", err)
	}

	refs, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(refs) != 2 {
		t.Fatalf("expected 2 refs, got %d: %v", len(refs), refs)
	}
}

func TestJobIDFor(t *testing.T) {
	if got := JobIDFor("job-results/6f1c9e04.csv"); got != "6f1c9e04" {
		t.Errorf("JobIDFor = %q, want 6f1c9e04", got)
	}
	if got := JobIDFor("job-results/abc.json"); got != "abc" {
		t.Errorf("JobIDFor = %q, want abc", got)
	}
}
