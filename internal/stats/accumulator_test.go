package stats_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"imgshift/internal/batch"
	"imgshift/internal/conversion"
	"imgshift/internal/imageformat"
	"imgshift/internal/services"
	"imgshift/internal/stats"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func summaryOf(items ...conversion.ItemResult) conversion.Summary {
	s := conversion.Summary{Total: len(items), Items: items}
	for _, it := range items {
		switch it.Status {
		case batch.StatusDone:
			s.Succeeded++
			s.BytesIn += it.BytesIn
			s.BytesOut += it.BytesOut
		case batch.StatusFailed:
			s.Failed++
		case batch.StatusCancelled:
			s.Cancelled++
		}
	}
	return s
}

func done(format imageformat.Format, in, out int64) conversion.ItemResult {
	return conversion.ItemResult{SourceFormat: format, Status: batch.StatusDone, BytesIn: in, BytesOut: out, Latency: 100 * time.Millisecond}
}

func TestRecordUpdatesAllWindows(t *testing.T) {
	c := &clock{now: time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)}
	acc := stats.New(c.Now, time.UTC)

	var items []conversion.ItemResult
	for i := 0; i < 5; i++ {
		items = append(items, done(imageformat.JPEG, 3_040_000, 1_000_000))
	}
	acc.Record(summaryOf(items...), c.Now())

	for _, scope := range []stats.Scope{stats.ScopeAll, stats.ScopeToday, stats.ScopeMonth} {
		snap := acc.Query(scope)
		if snap.ImagesCount != 5 {
			t.Fatalf("%s: expected 5 images, got %d", scope, snap.ImagesCount)
		}
		if snap.Histogram[imageformat.JPEG] != 5 {
			t.Fatalf("%s: expected JPEG:5, got %v", scope, snap.Histogram)
		}
		if snap.BytesIn != 15_200_000 || snap.BytesOut != 5_000_000 || snap.BytesSaved != 10_200_000 {
			t.Fatalf("%s: unexpected bytes %+v", scope, snap)
		}
		if snap.AverageLatency != 100*time.Millisecond {
			t.Fatalf("%s: unexpected latency %s", scope, snap.AverageLatency)
		}
	}
	if got := acc.Query(stats.ScopeToday).PeriodKey; got != "2024-06-15" {
		t.Fatalf("unexpected day key %q", got)
	}
}

func TestCancelledItemsAreExcluded(t *testing.T) {
	c := &clock{now: time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)}
	acc := stats.New(c.Now, time.UTC)
	failed := conversion.ItemResult{SourceFormat: imageformat.PNG, Status: batch.StatusFailed, BytesIn: 10}
	cancelled := conversion.ItemResult{SourceFormat: imageformat.GIF, Status: batch.StatusCancelled, BytesIn: 10}
	acc.Record(summaryOf(done(imageformat.BMP, 100, 10), failed, cancelled), c.Now())

	snap := acc.Query(stats.ScopeAll)
	if snap.ImagesCount != 2 {
		t.Fatalf("expected succeeded+failed = 2, got %d", snap.ImagesCount)
	}
	if snap.Histogram[imageformat.GIF] != 0 || snap.Histogram[imageformat.PNG] != 1 || snap.Histogram[imageformat.BMP] != 1 {
		t.Fatalf("unexpected histogram %v", snap.Histogram)
	}
	if snap.BytesIn != 100 {
		t.Fatalf("bytes_in should count succeeded items only, got %d", snap.BytesIn)
	}

	acc.Record(summaryOf(cancelled), c.Now())
	if acc.Query(stats.ScopeAll).ImagesCount != 2 {
		t.Fatal("fully cancelled batch must not change stats")
	}
}

func TestWindowsRollOverWithClock(t *testing.T) {
	c := &clock{now: time.Date(2024, 1, 31, 23, 30, 0, 0, time.UTC)}
	acc := stats.New(c.Now, time.UTC)
	acc.Record(summaryOf(done(imageformat.PNG, 10, 5)), c.Now())

	c.Set(time.Date(2024, 2, 1, 0, 30, 0, 0, time.UTC))
	if snap := acc.Query(stats.ScopeToday); snap.ImagesCount != 0 || snap.PeriodKey != "2024-02-01" {
		t.Fatalf("new day should start empty: %+v", snap)
	}
	if snap := acc.Query(stats.ScopeMonth); snap.ImagesCount != 0 || snap.PeriodKey != "2024-02" {
		t.Fatalf("new month should start empty: %+v", snap)
	}
	acc.Record(summaryOf(done(imageformat.WEBP, 10, 5)), c.Now())
	if acc.Query(stats.ScopeAll).ImagesCount != 2 {
		t.Fatal("all-time window spans periods")
	}
}

func TestPeriodsUseConfiguredLocation(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*60*60)
	ts := time.Date(2024, 3, 1, 22, 0, 0, 0, time.UTC)
	c := &clock{now: ts}
	acc := stats.New(c.Now, loc)
	acc.Record(summaryOf(done(imageformat.PNG, 1, 1)), ts)
	if key := acc.Query(stats.ScopeToday).PeriodKey; key != "2024-03-02" {
		t.Fatalf("expected local day key, got %q", key)
	}
}

func TestRecordIsAtomicAcrossWindows(t *testing.T) {
	c := &clock{now: time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)}
	acc := stats.New(c.Now, time.UTC)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			acc.Record(summaryOf(done(imageformat.JPEG, 2, 1)), c.Now())
		}()
	}
	wg.Wait()
	for _, scope := range []stats.Scope{stats.ScopeAll, stats.ScopeToday, stats.ScopeMonth} {
		if n := acc.Query(scope).ImagesCount; n != 20 {
			t.Fatalf("%s: expected 20, got %d", scope, n)
		}
	}
}

func TestWindowsRestoreRoundTrip(t *testing.T) {
	c := &clock{now: time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)}
	acc := stats.New(c.Now, time.UTC)
	acc.Record(summaryOf(done(imageformat.TIFF, 50, 20)), c.Now())

	windows := acc.Windows()
	if len(windows) != 3 {
		t.Fatalf("expected all/day/month windows, got %d", len(windows))
	}
	windows[0].Histogram[imageformat.TIFF] = 999

	restored := stats.New(c.Now, time.UTC)
	restored.Restore(acc.Windows())
	if restored.Query(stats.ScopeMonth).Histogram[imageformat.TIFF] != 1 {
		t.Fatal("restore should reproduce the month window without aliasing")
	}
	if restored.Query(stats.ScopeAll).BytesSaved != 30 {
		t.Fatal("restore should reproduce byte totals")
	}
}

func TestParseScope(t *testing.T) {
	for in, want := range map[string]stats.Scope{"": stats.ScopeAll, "ALL": stats.ScopeAll, "today": stats.ScopeToday, "month": stats.ScopeMonth} {
		got, err := stats.ParseScope(in)
		if err != nil || got != want {
			t.Fatalf("ParseScope(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := stats.ParseScope("year"); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
