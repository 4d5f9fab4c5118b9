package staging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"stencil/internal/logging"
)

func TestNewDirAndPromote(t *testing.T) {
	root := t.TempDir()
	final := filepath.Join(root, "dataset-v1")

	staged, err := NewDir(final)
	if err != nil {
		t.Fatalf("NewDir failed: %v", err)
	}
	if filepath.Dir(staged) != root {
		t.Fatalf("expected staging dir beside destination, got %q", staged)
	}
	if err := os.WriteFile(filepath.Join(staged, "metadata.json"), []byte("{}"), 0o644); err != nil {
		t.Fatalf("write staged file: %v", err)
	}

	if err := Promote(staged, final, false); err != nil {
		t.Fatalf("Promote failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(final, "metadata.json")); err != nil {
		t.Fatalf("expected promoted file: %v", err)
	}
	if _, err := os.Stat(staged); !os.IsNotExist(err) {
		t.Fatalf("expected staging dir gone after promote, stat err=%v", err)
	}
}

func TestPromoteRefusesExistingWithoutOverwrite(t *testing.T) {
	root := t.TempDir()
	final := filepath.Join(root, "dataset-v1")
	if err := os.MkdirAll(final, 0o755); err != nil {
		t.Fatal(err)
	}

	staged, err := NewDir(final)
	if err != nil {
		t.Fatalf("NewDir failed: %v", err)
	}
	defer Discard(staged)

	if err := Promote(staged, final, false); err == nil {
		t.Fatal("expected error promoting over existing artifact")
	}
	if err := Promote(staged, final, true); err != nil {
		t.Fatalf("expected overwrite promote to succeed: %v", err)
	}
}

func TestCleanStaleInvalidPaths(t *testing.T) {
	for _, dir := range []string{"", "   ", "/nonexistent/path/12345"} {
		if removed := CleanStale(dir, time.Hour, logging.NewNop()); len(removed) != 0 {
			t.Errorf("expected nothing removed for path %q, got %v", dir, removed)
		}
	}
}

func TestCleanStaleRemovesOldStagingDirectories(t *testing.T) {
	tmpDir := t.TempDir()

	oldDir := filepath.Join(tmpDir, ".staging-dataset-abc")
	if err := os.Mkdir(oldDir, 0o755); err != nil {
		t.Fatalf("create old dir: %v", err)
	}
	oldTime := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(oldDir, oldTime, oldTime); err != nil {
		t.Fatalf("set old time: %v", err)
	}

	recentDir := filepath.Join(tmpDir, ".staging-dataset-def")
	if err := os.Mkdir(recentDir, 0o755); err != nil {
		t.Fatalf("create recent dir: %v", err)
	}

	artifactDir := filepath.Join(tmpDir, "dataset-v1")
	if err := os.Mkdir(artifactDir, 0o755); err != nil {
		t.Fatalf("create artifact dir: %v", err)
	}
	if err := os.Chtimes(artifactDir, oldTime, oldTime); err != nil {
		t.Fatalf("set artifact time: %v", err)
	}

	removed := CleanStale(tmpDir, time.Hour, logging.NewNop())

	if len(removed) != 1 {
		t.Fatalf("expected 1 removed, got %d: %v", len(removed), removed)
	}
	if !strings.HasSuffix(removed[0], ".staging-dataset-abc") {
		t.Errorf("unexpected removal: %s", removed[0])
	}

	if _, err := os.Stat(oldDir); !os.IsNotExist(err) {
		t.Error("old staging directory should have been removed")
	}
	if _, err := os.Stat(recentDir); err != nil {
		t.Error("recent staging directory should still exist")
	}
	if _, err := os.Stat(artifactDir); err != nil {
		t.Error("promoted artifact directory should never be touched")
	}
}
