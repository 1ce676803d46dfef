package statsstore_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"imgshift/internal/imageformat"
	"imgshift/internal/stats"
	"imgshift/internal/statsstore"
)

func openStore(t *testing.T, path string) *statsstore.Store {
	t.Helper()
	store, err := statsstore.Open(context.Background(), path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "stats.db")
	store := openStore(t, path)

	windows := []stats.Window{
		{
			Kind: stats.KindAll, PeriodKey: stats.KindAll,
			ImagesCount: 7, BytesIn: 700, BytesOut: 300,
			Histogram:    map[imageformat.Format]int64{imageformat.JPEG: 5, imageformat.PNG: 2},
			TotalLatency: 700 * time.Millisecond, LatencyCount: 7,
		},
		{
			Kind: stats.KindDay, PeriodKey: "2024-06-15",
			ImagesCount: 2, BytesIn: 200, BytesOut: 100,
			Histogram: map[imageformat.Format]int64{imageformat.PNG: 2},
		},
	}
	ctx := context.Background()
	if err := store.Save(ctx, windows); err != nil {
		t.Fatalf("Save: %v", err)
	}
	windows[0].ImagesCount = 8
	windows[0].Histogram[imageformat.JPEG] = 6
	if err := store.Save(ctx, windows); err != nil {
		t.Fatalf("second Save: %v", err)
	}

	loaded, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("expected 2 windows, got %d", len(loaded))
	}
	var all stats.Window
	for _, w := range loaded {
		if w.Kind == stats.KindAll {
			all = w
		}
	}
	if all.ImagesCount != 8 || all.Histogram[imageformat.JPEG] != 6 || all.TotalLatency != 700*time.Millisecond {
		t.Fatalf("unexpected all window %+v", all)
	}

	acc := stats.New(func() time.Time { return time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC) }, time.UTC)
	acc.Restore(loaded)
	if snap := acc.Query(stats.ScopeToday); snap.ImagesCount != 2 || snap.Histogram[imageformat.PNG] != 2 {
		t.Fatalf("restored today snapshot wrong: %+v", snap)
	}
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.db")
	ctx := context.Background()
	first, err := statsstore.Open(ctx, path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := first.Save(ctx, []stats.Window{{Kind: stats.KindAll, PeriodKey: stats.KindAll, ImagesCount: 3}}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	second := openStore(t, path)
	loaded, err := second.Load(ctx)
	if err != nil || len(loaded) != 1 || loaded[0].ImagesCount != 3 {
		t.Fatalf("Load after reopen = %+v, %v", loaded, err)
	}
}

func TestSchemaMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.db")
	store := openStore(t, path)
	_ = store.Close()

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	if _, err := db.Exec("UPDATE schema_version SET version = 99"); err != nil {
		t.Fatalf("bump version: %v", err)
	}
	_ = db.Close()

	if _, err := statsstore.Open(context.Background(), path); !errors.Is(err, statsstore.ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}
