package testsupport

import (
	"os"
	"path/filepath"
	"testing"
)

// WriteAudio creates a placeholder audio file of the requested size under the
// test's temp directory and returns its path. Engines under test never decode
// it; only its existence matters.
func WriteAudio(t testing.TB, name string, size int64) string {
	t.Helper()

	if size <= 0 {
		size = 1
	}
	path := filepath.Join(t.TempDir(), name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()

	buf := make([]byte, min(size, 32*1024))
	for i := range buf {
		buf[i] = 0x42
	}
	for remaining := size; remaining > 0; {
		n := min(remaining, int64(len(buf)))
		if _, err := f.Write(buf[:n]); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
		remaining -= n
	}
	return path
}
