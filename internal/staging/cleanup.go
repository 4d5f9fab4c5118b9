package staging

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"stencil/internal/logging"
)

const stalePrefix = ".staging-"

// CleanStale removes leftover staging directories under root older than
// maxAge. Interrupted builds leave these behind; sweeping them on the
// next build reclaims the space. Returns the removed paths; failures
// are logged and skipped.
func CleanStale(root string, maxAge time.Duration, logger *slog.Logger) []string {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil
	}
	cutoff := time.Now().Add(-maxAge)

	var removed []string
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), stalePrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(root, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			if logger != nil {
				logger.Warn("stale staging directory not removed",
					logging.String("path", path),
					logging.Error(err),
				)
			}
			continue
		}
		removed = append(removed, path)
		if logger != nil {
			logger.Info("stale staging directory removed",
				logging.String("path", path),
				logging.Duration("age", time.Since(info.ModTime())),
			)
		}
	}
	return removed
}
