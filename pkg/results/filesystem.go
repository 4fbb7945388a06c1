package results

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FilesystemStore implements Store on a local directory. It is the
// development backend; production deployments use S3Store.
type FilesystemStore struct {
	rootDir string
}

// NewFilesystemStore creates a filesystem-backed result store rooted
// at rootDir.
func NewFilesystemStore(rootDir string) (*FilesystemStore, error) {
	if err := os.MkdirAll(filepath.Join(rootDir, keyPrefix), 0755); err != nil {
		return nil, fmt.Errorf("failed to create results directory: %w", err)
	}
	return &FilesystemStore{rootDir: rootDir}, nil
}

func (s *FilesystemStore) Put(ctx context.Context, jobID string, payload []byte, contentType string) (ResultRef, error) {
	ref := refFor(jobID, contentType)
	target := filepath.Join(s.rootDir, filepath.FromSlash(string(ref)))

	// Write to a temp file and rename so readers never see a partial
	// artifact.
	tmp, err := os.CreateTemp(filepath.Dir(target), ".tmp-"+jobID+"-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to close artifact: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to finalize artifact: %w", err)
	}

	return ref, nil
}

func (s *FilesystemStore) Get(ctx context.Context, ref ResultRef) ([]byte, string, error) {
	data, err := os.ReadFile(filepath.Join(s.rootDir, filepath.FromSlash(string(ref))))
	if os.IsNotExist(err) {
		return nil, "", ErrNotFound
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to read artifact: %w", err)
	}
	return data, contentTypeFor(ref), nil
}

func (s *FilesystemStore) Delete(ctx context.Context, ref ResultRef) error {
	err := os.Remove(filepath.Join(s.rootDir, filepath.FromSlash(string(ref))))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete artifact: %w", err)
	}
	return nil
}

func (s *FilesystemStore) List(ctx context.Context) ([]ResultRef, error) {
	entries, err := os.ReadDir(filepath.Join(s.rootDir, keyPrefix))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read results directory: %w", err)
	}

	var refs []ResultRef
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".tmp-") {
			continue
		}
		refs = append(refs, ResultRef(keyPrefix+entry.Name()))
	}
	return refs, nil
}
