package journal

import (
	"path/filepath"
	"testing"
)

func TestFileLockPreventsConcurrentOpen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "client.journal")

	first, err := Open[uint64](path, u64Codec{})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := Open[uint64](path, u64Codec{}); err == nil {
		t.Fatal("expected second Open on a locked journal to fail")
	}

	if err := first.Close(); err != nil {
		t.Fatal(err)
	}

	second, err := Open[uint64](path, u64Codec{})
	if err != nil {
		t.Fatalf("Open after Close: %v", err)
	}
	if err := second.Close(); err != nil {
		t.Fatal(err)
	}
}
