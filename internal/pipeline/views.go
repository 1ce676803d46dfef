package pipeline

import (
	"time"

	"imgshift/internal/batch"
	"imgshift/internal/conversion"
	"imgshift/internal/imageformat"
	"imgshift/internal/render"
	"imgshift/internal/stats"
)

// ItemView describes one batch item.
type ItemView struct {
	Index         int    `json:"index"`
	Name          string `json:"name"`
	Format        string `json:"format"`
	Size          int64  `json:"size"`
	Status        string `json:"status"`
	ConvertedSize int64  `json:"converted_size,omitempty"`
	Error         string `json:"error,omitempty"`
}

// BatchView is the transport representation of a batch.
type BatchView struct {
	ID         string         `json:"id"`
	State      string         `json:"state"`
	Target     string         `json:"target,omitempty"`
	TotalBytes int64          `json:"total_bytes"`
	Formats    map[string]int `json:"formats"`
	Items      []ItemView     `json:"items"`
	Info       string         `json:"info"`
}

func newBatchView(b batch.Batch) BatchView {
	view := BatchView{
		ID:         b.ID,
		State:      string(b.State),
		Target:     string(b.Target),
		TotalBytes: b.TotalBytes(),
		Formats:    make(map[string]int),
		Items:      make([]ItemView, 0, len(b.Items)),
		Info:       render.BatchInfo(b),
	}
	for f, n := range b.FormatCounts() {
		view.Formats[string(f)] = n
	}
	for _, item := range b.Items {
		view.Items = append(view.Items, ItemView{
			Index:         item.ID,
			Name:          item.Name,
			Format:        string(item.Format),
			Size:          item.Size,
			Status:        string(item.Status),
			ConvertedSize: item.ConvertedSize,
			Error:         item.Error,
		})
	}
	return view
}

// IngestResult reports what an upload added.
type IngestResult struct {
	Batch   BatchView `json:"batch"`
	Added   int       `json:"added"`
	Skipped int       `json:"skipped"`
}

// DownloadView describes a packaged result.
type DownloadView struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// ProgressView is a progress event as sent to transports.
type ProgressView struct {
	Completed int    `json:"completed"`
	Total     int    `json:"total"`
	BytesIn   int64  `json:"bytes_in"`
	BytesOut  int64  `json:"bytes_out"`
	Item      int    `json:"item"`
	Status    string `json:"status"`
	Report    bool   `json:"report"`
	Text      string `json:"text"`
}

// NewProgressView converts an engine event.
func NewProgressView(p conversion.Progress) ProgressView {
	return ProgressView{
		Completed: p.Completed,
		Total:     p.Total,
		BytesIn:   p.BytesIn,
		BytesOut:  p.BytesOut,
		Item:      p.Item.Index,
		Status:    string(p.Item.Status),
		Report:    render.ShouldReport(p.Completed, p.Total),
		Text:      render.ProgressLine(p),
	}
}

// SummaryView is the final conversion report.
type SummaryView struct {
	BatchID        string        `json:"batch_id"`
	Target         string        `json:"target"`
	Total          int           `json:"total"`
	Succeeded      int           `json:"succeeded"`
	Failed         int           `json:"failed"`
	Cancelled      int           `json:"cancelled"`
	BytesIn        int64         `json:"bytes_in"`
	BytesOut       int64         `json:"bytes_out"`
	BytesSaved     int64         `json:"bytes_saved"`
	ReductionRatio float64       `json:"reduction_ratio"`
	DurationMS     int64         `json:"duration_ms"`
	FailedItems    []string      `json:"failed_items,omitempty"`
	Download       *DownloadView `json:"download,omitempty"`
	Text           string        `json:"text"`
}

// Result is returned by Convert.
type Result struct {
	Summary  conversion.Summary
	Download *DownloadView
}

// View renders r for transports.
func (r Result) View() SummaryView {
	s := r.Summary
	view := SummaryView{
		BatchID:        s.BatchID,
		Target:         string(s.Target),
		Total:          s.Total,
		Succeeded:      s.Succeeded,
		Failed:         s.Failed,
		Cancelled:      s.Cancelled,
		BytesIn:        s.BytesIn,
		BytesOut:       s.BytesOut,
		BytesSaved:     s.BytesSaved(),
		ReductionRatio: s.ReductionRatio,
		DurationMS:     s.Duration.Milliseconds(),
		Download:       r.Download,
		Text:           render.Summary(s),
	}
	for _, item := range s.Items {
		if item.Status == batch.StatusFailed {
			view.FailedItems = append(view.FailedItems, item.Name)
		}
	}
	return view
}

// FormatView describes one supported target.
type FormatView struct {
	Name      string `json:"name"`
	Extension string `json:"extension"`
	Selection string `json:"selection"`
}

// StatsView is the transport form of a stats snapshot.
type StatsView struct {
	Scope            string           `json:"scope"`
	Period           string           `json:"period"`
	ImagesCount      int64            `json:"images_count"`
	BytesIn          int64            `json:"bytes_in"`
	BytesOut         int64            `json:"bytes_out"`
	BytesSaved       int64            `json:"bytes_saved"`
	Histogram        map[string]int64 `json:"format_histogram"`
	AverageLatencyMS float64          `json:"average_latency_ms"`
	Text             string           `json:"text"`
}

// NewStatsView converts a snapshot.
func NewStatsView(snap stats.Snapshot) StatsView {
	view := StatsView{
		Scope:            string(snap.Scope),
		Period:           snap.PeriodKey,
		ImagesCount:      snap.ImagesCount,
		BytesIn:          snap.BytesIn,
		BytesOut:         snap.BytesOut,
		BytesSaved:       snap.BytesSaved,
		Histogram:        make(map[string]int64, len(snap.Histogram)),
		AverageLatencyMS: float64(snap.AverageLatency) / float64(time.Millisecond),
		Text:             render.Stats(snap),
	}
	for f, n := range snap.Histogram {
		view.Histogram[string(f)] = n
	}
	return view
}

func formatViews() []FormatView {
	all := imageformat.All()
	out := make([]FormatView, 0, len(all))
	for _, f := range all {
		out = append(out, FormatView{Name: string(f), Extension: f.Extension(), Selection: imageformat.Selection(f)})
	}
	return out
}
