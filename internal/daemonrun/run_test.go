package daemonrun

import (
	"os"
	"path/filepath"
	"testing"
)

func TestEnsureCurrentLogPointerReplacesOld(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "imgshift-1.log")
	second := filepath.Join(dir, "imgshift-2.log")
	for _, p := range []string{first, second} {
		if err := os.WriteFile(p, []byte(filepath.Base(p)), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := ensureCurrentLogPointer(dir, first); err != nil {
		t.Fatalf("first pointer: %v", err)
	}
	if err := ensureCurrentLogPointer(dir, second); err != nil {
		t.Fatalf("second pointer: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "imgshift.log"))
	if err != nil {
		t.Fatalf("read pointer: %v", err)
	}
	if string(data) != "imgshift-2.log" {
		t.Fatalf("pointer resolves to %q", data)
	}
}

func TestWritePIDFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "imgshift.pid")
	if err := writePIDFile(path); err != nil {
		t.Fatalf("writePIDFile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil || len(data) < 2 {
		t.Fatalf("unexpected pid file %q (%v)", data, err)
	}
}
