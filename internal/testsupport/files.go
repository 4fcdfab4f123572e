package testsupport

import (
	"os"
	"path/filepath"
	"testing"
)

// WriteFile writes contents to path, creating parent directories. The file
// is written under a temporary name and renamed into place so watchers only
// ever observe complete documents.
func WriteFile(t testing.TB, path string, contents []byte) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	tmp := path + ".partial"
	if err := os.WriteFile(tmp, contents, 0o644); err != nil {
		t.Fatalf("write %s: %v", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatalf("rename %s: %v", path, err)
	}
}
