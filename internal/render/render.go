// Package render turns batch, progress, summary and stats values into short
// human-readable text for transports and the CLI.
package render

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"imgshift/internal/batch"
	"imgshift/internal/conversion"
	"imgshift/internal/imageformat"
	"imgshift/internal/stats"
)

// ReportEvery is the progress cadence used by ShouldReport.
const ReportEvery = 5

// Size formats a byte count with binary units.
func Size(n int64) string {
	if n < 0 {
		return "-" + humanize.IBytes(uint64(-n))
	}
	return humanize.IBytes(uint64(n))
}

// Percent formats a 0..1 ratio.
func Percent(ratio float64) string {
	return fmt.Sprintf("%.1f%%", ratio*100)
}

// ShouldReport reports whether a progress update is worth sending: every
// ReportEvery items and always on the last one.
func ShouldReport(completed, total int) bool {
	if completed <= 0 {
		return false
	}
	return completed == total || completed%ReportEvery == 0
}

// Plural appends "s" to noun when count is not one.
func Plural(count int, noun string) string {
	if count == 1 {
		return fmt.Sprintf("%d %s", count, noun)
	}
	return fmt.Sprintf("%d %ss", count, noun)
}

// SortedFormats returns histogram keys by descending count then name.
func SortedFormats[V int | int64](counts map[imageformat.Format]V) []imageformat.Format {
	keys := make([]imageformat.Format, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	return keys
}

// BatchInfo lists image count, total size and a per-format breakdown.
func BatchInfo(b batch.Batch) string {
	lines := []string{fmt.Sprintf("Total images: %d (%s)", len(b.Items), Size(b.TotalBytes()))}
	counts := b.FormatCounts()
	if len(counts) == 0 {
		lines = append(lines, "- No images yet")
	}
	for _, f := range SortedFormats(counts) {
		lines = append(lines, fmt.Sprintf("- %s: %s", f, Plural(counts[f], "image")))
	}
	return strings.Join(lines, "\n")
}

// ProgressLine renders a single progress update.
func ProgressLine(p conversion.Progress) string {
	return fmt.Sprintf("Converting... %d/%d images processed. Size so far: %s -> %s",
		p.Completed, p.Total, Size(p.BytesIn), Size(p.BytesOut))
}

// Summary renders the final conversion report.
func Summary(s conversion.Summary) string {
	lines := []string{
		fmt.Sprintf("Batch conversion to %s completed", s.Target),
		fmt.Sprintf("- Processed: %d/%d images", s.Succeeded, s.Total),
		fmt.Sprintf("- Original total size: %s", Size(s.BytesIn)),
		fmt.Sprintf("- Converted total size: %s", Size(s.BytesOut)),
		fmt.Sprintf("- Space saved: %s (%s)", Size(s.BytesSaved()), Percent(s.ReductionRatio)),
		fmt.Sprintf("- Time taken: %.1f seconds", s.Duration.Seconds()),
	}
	if s.Failed > 0 {
		lines = append(lines, fmt.Sprintf("- Could not convert %d of %d", s.Failed, s.Total))
	}
	if s.Cancelled > 0 {
		lines = append(lines, fmt.Sprintf("- Cancelled: %d", s.Cancelled))
	}
	return strings.Join(lines, "\n")
}

// Stats renders a stats snapshot.
func Stats(snap stats.Snapshot) string {
	title := "Overall statistics"
	switch snap.Scope {
	case stats.ScopeToday:
		title = "Today's statistics (" + snap.PeriodKey + ")"
	case stats.ScopeMonth:
		title = "This month's statistics (" + snap.PeriodKey + ")"
	}
	lines := []string{
		title,
		fmt.Sprintf("Images processed: %d", snap.ImagesCount),
		fmt.Sprintf("Original size: %s", Size(snap.BytesIn)),
		fmt.Sprintf("Converted size: %s", Size(snap.BytesOut)),
		fmt.Sprintf("Space saved: %s", Size(snap.BytesSaved)),
		fmt.Sprintf("Average latency: %s", snap.AverageLatency.Round(time.Millisecond)),
	}
	if len(snap.Histogram) > 0 {
		lines = append(lines, "Source formats:")
		for _, f := range SortedFormats(snap.Histogram) {
			lines = append(lines, fmt.Sprintf("- %s: %d", f, snap.Histogram[f]))
		}
	}
	return strings.Join(lines, "\n")
}
