// Package staging manages temporary build directories and their atomic
// promotion to final artifact locations.
//
// Artifacts (dataset directories, checkpoints, reports) are assembled in a
// staging directory beside the destination and renamed into place once
// complete, so consumers never observe a partially written artifact.
package staging

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// NewDir creates a fresh staging directory beside finalPath. The directory
// name carries a recognizable prefix so stale ones can be swept later.
func NewDir(finalPath string) (string, error) {
	parent := filepath.Dir(finalPath)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return "", fmt.Errorf("create parent directory: %w", err)
	}
	staged, err := os.MkdirTemp(parent, stalePrefix+filepath.Base(finalPath)+"-*")
	if err != nil {
		return "", fmt.Errorf("create staging directory: %w", err)
	}
	return staged, nil
}

// Promote atomically renames the staged directory to finalPath. An existing
// artifact at finalPath is refused unless overwrite is set, in which case it
// is replaced only after the rename target has been cleared.
func Promote(staged, finalPath string, overwrite bool) error {
	if _, err := os.Stat(finalPath); err == nil {
		if !overwrite {
			return fmt.Errorf("artifact already exists at %s", finalPath)
		}
		if err := os.RemoveAll(finalPath); err != nil {
			return fmt.Errorf("remove existing artifact: %w", err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("stat artifact destination: %w", err)
	}
	if err := os.Rename(staged, finalPath); err != nil {
		return fmt.Errorf("promote staged artifact: %w", err)
	}
	return nil
}

// Discard removes a staging directory, tolerating one that is already gone.
func Discard(staged string) {
	if strings.TrimSpace(staged) == "" {
		return
	}
	_ = os.RemoveAll(staged)
}
