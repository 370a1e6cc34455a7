package ini

import (
	"io"
	"os"
	"path/filepath"
)

// Storage opens the byte streams a document is loaded from and flushed to.
// Implementations decide what a path means.
type Storage interface {
	Open(path string) (io.ReadCloser, error)
	Create(path string) (io.WriteCloser, error)
}

// FileStorage reads and writes files on the local filesystem.
type FileStorage struct{}

// Open opens the file at path for reading. Errors are *fs.PathError.
func (FileStorage) Open(path string) (io.ReadCloser, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Create truncates or creates the file at path for writing. Existing files
// keep their permissions.
func (FileStorage) Create(path string) (io.WriteCloser, error) {
	f, err := os.OpenFile(filepath.Clean(path), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	return f, nil
}
