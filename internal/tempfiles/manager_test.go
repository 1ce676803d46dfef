package tempfiles_test

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"imgshift/internal/logging"
	"imgshift/internal/tempfiles"
)

func newManager(t *testing.T) *tempfiles.Manager {
	t.Helper()
	m, err := tempfiles.NewManager(filepath.Join(t.TempDir(), "tmp"), logging.NewNop())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func TestAcquireReadRelease(t *testing.T) {
	m := newManager(t)
	h, err := m.Acquire([]byte("payload"))
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if h.Size != 7 {
		t.Fatalf("expected size 7, got %d", h.Size)
	}
	got, err := m.Read(h)
	if err != nil || string(got) != "payload" {
		t.Fatalf("Read = %q, %v", got, err)
	}
	if m.Live() != 1 {
		t.Fatalf("expected 1 live file, got %d", m.Live())
	}

	removed, err := m.Release(h)
	if err != nil || !removed {
		t.Fatalf("first Release = %v, %v", removed, err)
	}
	if _, err := os.Stat(h.Path); !os.IsNotExist(err) {
		t.Fatalf("expected file to be gone, stat err=%v", err)
	}
	if _, err := m.Read(h); !errors.Is(err, tempfiles.ErrReleased) {
		t.Fatalf("expected ErrReleased after release, got %v", err)
	}
}

func TestReleaseIsExactlyOnce(t *testing.T) {
	m := newManager(t)
	h, err := m.Acquire([]byte("x"))
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := m.Release(h); ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("expected exactly one release, got %d", wins)
	}
	if m.Released() != 1 {
		t.Fatalf("expected released counter 1, got %d", m.Released())
	}
	if ok, _ := m.Release(tempfiles.Handle{}); ok {
		t.Fatal("zero handle must not release")
	}
}

func TestAcquireFromRemovesFileOnWriteError(t *testing.T) {
	m := newManager(t)
	_, err := m.AcquireFrom(".zip", func(w io.Writer) error {
		_, _ = w.Write([]byte("partial"))
		return errors.New("boom")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	entries, _ := os.ReadDir(m.Dir())
	if len(entries) != 0 {
		t.Fatalf("expected no leftover files, got %d", len(entries))
	}
	if m.Live() != 0 {
		t.Fatalf("expected no live handles, got %d", m.Live())
	}
}

func TestReleaseAll(t *testing.T) {
	m := newManager(t)
	for i := 0; i < 3; i++ {
		if _, err := m.Acquire([]byte{byte(i)}); err != nil {
			t.Fatalf("Acquire: %v", err)
		}
	}
	if n := m.ReleaseAll(); n != 3 {
		t.Fatalf("expected 3 released, got %d", n)
	}
	entries, _ := os.ReadDir(m.Dir())
	if len(entries) != 0 {
		t.Fatalf("expected empty dir, got %d entries", len(entries))
	}
}

func TestCleanStale(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, tempfiles.FilePrefix+"old.bin")
	fresh := filepath.Join(dir, tempfiles.FilePrefix+"fresh.bin")
	foreign := filepath.Join(dir, "other.bin")
	for _, p := range []string{old, fresh, foreign} {
		if err := os.WriteFile(p, []byte("x"), 0o600); err != nil {
			t.Fatalf("write %s: %v", p, err)
		}
	}
	past := time.Now().Add(-2 * time.Hour)
	for _, p := range []string{old, foreign} {
		if err := os.Chtimes(p, past, past); err != nil {
			t.Fatalf("chtimes: %v", err)
		}
	}

	result := tempfiles.CleanStale(dir, time.Hour, logging.NewNop())
	if len(result.Removed) != 1 || result.Removed[0] != old {
		t.Fatalf("unexpected removed list %v", result.Removed)
	}
	for _, p := range []string{fresh, foreign} {
		if _, err := os.Stat(p); err != nil {
			t.Fatalf("%s should remain: %v", p, err)
		}
	}

	for _, d := range []string{"", "   ", filepath.Join(dir, "missing")} {
		r := tempfiles.CleanStale(d, time.Hour, nil)
		if len(r.Removed) != 0 || len(r.Errors) != 0 {
			t.Fatalf("expected empty result for %q", d)
		}
	}
}
