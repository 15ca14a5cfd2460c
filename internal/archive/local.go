package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Local writes snapshots to a directory on the local filesystem.
type Local struct {
	baseDir string
}

// NewLocal creates a filesystem-backed archive rooted at baseDir, creating
// the directory if it does not exist.
func NewLocal(baseDir string) (*Local, error) {
	if strings.TrimSpace(baseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}

	info, err := os.Stat(baseDir)
	switch {
	case os.IsNotExist(err):
		if mkErr := os.MkdirAll(baseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create base directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("stat base directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	return &Local{baseDir: baseDir}, nil
}

// Save writes data to a file named after the object inside the base
// directory. Object names with path separators are rejected to keep
// snapshots flat.
func (l *Local) Save(_ context.Context, name string, data []byte) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("object name is required")
	}
	if name != filepath.Base(name) {
		return fmt.Errorf("object name %q must not contain path separators", name)
	}
	path := filepath.Join(l.baseDir, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}
