package script

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Resolver opens script sources for reading. Implementations return the
// content reader and the resolved absolute path, which is used for cycle
// detection and for resolving nested includes.
type Resolver interface {
	Resolve(source string, basePath string) (io.ReadCloser, string, error)
}

// FileResolver resolves scripts from the local filesystem.
type FileResolver struct{}

// Resolve opens a local file relative to basePath.
func (*FileResolver) Resolve(source string, basePath string) (io.ReadCloser, string, error) {
	abs := source
	if !filepath.IsAbs(source) {
		abs = filepath.Join(basePath, source)
	}
	abs, err := filepath.Abs(abs)
	if err != nil {
		return nil, "", fmt.Errorf("resolving %q: %w", source, err)
	}

	f, err := os.Open(abs)
	if err != nil {
		return nil, "", fmt.Errorf("opening script %q: %w", source, err)
	}
	return f, abs, nil
}
