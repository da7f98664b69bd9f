package testutil

import (
	"os"
	"path/filepath"
	"sort"
	"testing"
)

// TempDir creates a temporary directory for testing
func TempDir(t testing.TB) string {
	dir, err := os.MkdirTemp("", "kvs-test-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		os.RemoveAll(dir)
	})
	return dir
}

// Files returns the sorted paths of the files in dir matching pattern.
func Files(t testing.TB, dir, pattern string) []string {
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		t.Fatal(err)
	}
	sort.Strings(matches)
	return matches
}

// DirSize sums the sizes of the regular files directly under dir.
func DirSize(t testing.TB, dir string) int64 {
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var total int64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			t.Fatal(err)
		}
		total += info.Size()
	}
	return total
}

// Truncate cuts the file at path down to size bytes, simulating a torn write.
func Truncate(t testing.TB, path string, size int64) {
	if err := os.Truncate(path, size); err != nil {
		t.Fatal(err)
	}
}

// FlipByte inverts the byte at offset in the file at path.
func FlipByte(t testing.TB, path string, offset int64) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	b := make([]byte, 1)
	if _, err := f.ReadAt(b, offset); err != nil {
		t.Fatal(err)
	}
	b[0] ^= 0xff
	if _, err := f.WriteAt(b, offset); err != nil {
		t.Fatal(err)
	}
}
