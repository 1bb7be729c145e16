package harness

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

// Fixture copies integration/fixtures/<name> into a fresh temp directory and
// returns the copy's path, ready to use as a kpitrack workspace.
func Fixture(t *testing.T, name string) string {
	t.Helper()
	src := filepath.Join(RepoRoot(t), "integration", "fixtures", name)
	dst := filepath.Join(t.TempDir(), name)
	if err := copyTree(src, dst); err != nil {
		t.Fatalf("copy fixture %s: %v", name, err)
	}
	return dst
}

func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		switch {
		case d.IsDir():
			return os.MkdirAll(target, 0o755)
		case d.Type()&fs.ModeSymlink != 0:
			return fmt.Errorf("symlink not supported: %s", path)
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, 0o644)
	})
}
