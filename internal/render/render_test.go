package render_test

import (
	"strings"
	"testing"
	"time"

	"imgshift/internal/batch"
	"imgshift/internal/conversion"
	"imgshift/internal/imageformat"
	"imgshift/internal/render"
	"imgshift/internal/stats"
)

func TestShouldReport(t *testing.T) {
	cases := []struct {
		completed, total int
		want             bool
	}{
		{0, 7, false},
		{1, 7, false},
		{5, 7, true},
		{6, 7, false},
		{7, 7, true},
		{10, 12, true},
		{3, 3, true},
	}
	for _, tc := range cases {
		if got := render.ShouldReport(tc.completed, tc.total); got != tc.want {
			t.Fatalf("ShouldReport(%d, %d) = %v", tc.completed, tc.total, got)
		}
	}
}

func TestSize(t *testing.T) {
	if got := render.Size(1536); got != "1.5 KiB" {
		t.Fatalf("Size(1536) = %q", got)
	}
	if got := render.Size(-2048); got != "-2.0 KiB" {
		t.Fatalf("Size(-2048) = %q", got)
	}
}

func TestBatchInfo(t *testing.T) {
	b := batch.Batch{Items: []batch.Item{
		{Format: imageformat.JPEG, Size: 1024},
		{Format: imageformat.JPEG, Size: 1024},
		{Format: imageformat.PNG, Size: 1024},
	}}
	text := render.BatchInfo(b)
	for _, want := range []string{"Total images: 3 (3.0 KiB)", "- JPEG: 2 images", "- PNG: 1 image"} {
		if !strings.Contains(text, want) {
			t.Fatalf("expected %q in\n%s", want, text)
		}
	}
	if !strings.Contains(render.BatchInfo(batch.Batch{}), "No images yet") {
		t.Fatal("empty batch should say so")
	}
}

func TestSummaryMentionsFailures(t *testing.T) {
	s := conversion.Summary{
		Target: imageformat.WEBP, Total: 5, Succeeded: 4, Failed: 1,
		BytesIn: 4096, BytesOut: 1024, ReductionRatio: 0.75, Duration: 1500 * time.Millisecond,
	}
	text := render.Summary(s)
	for _, want := range []string{"to WEBP", "Processed: 4/5", "(75.0%)", "Could not convert 1 of 5", "1.5 seconds"} {
		if !strings.Contains(text, want) {
			t.Fatalf("expected %q in\n%s", want, text)
		}
	}
}

func TestStatsText(t *testing.T) {
	snap := stats.Snapshot{
		Scope: stats.ScopeToday, PeriodKey: "2024-06-15", ImagesCount: 5,
		BytesIn: 2048, BytesOut: 1024, BytesSaved: 1024,
		Histogram: map[imageformat.Format]int64{imageformat.JPEG: 5},
	}
	text := render.Stats(snap)
	for _, want := range []string{"Today's statistics (2024-06-15)", "Images processed: 5", "- JPEG: 5"} {
		if !strings.Contains(text, want) {
			t.Fatalf("expected %q in\n%s", want, text)
		}
	}
}
