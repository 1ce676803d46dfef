package conversion

import (
	"fmt"
	"time"

	"imgshift/internal/batch"
	"imgshift/internal/imageformat"
	"imgshift/internal/services"
)

// ErrTimeout is reported when a single codec call exceeds the item timeout.
var ErrTimeout = fmt.Errorf("%w: codec call exceeded item timeout", services.ErrTimeout)

// ItemResult is the outcome of one item.
type ItemResult struct {
	Index        int
	Name         string
	SourceFormat imageformat.Format
	Status       batch.Status
	BytesIn      int64
	BytesOut     int64
	Attempts     int
	Latency      time.Duration
	Passthrough  bool
	Error        string
}

// Progress is emitted after every item reaches a terminal status.
type Progress struct {
	BatchID   string
	Completed int
	Total     int
	BytesIn   int64
	BytesOut  int64
	Item      ItemResult
}

// ProgressSink receives progress events from the aggregator goroutine.
type ProgressSink func(Progress)

// Summary reports a finished conversion.
type Summary struct {
	BatchID        string
	Target         imageformat.Format
	Total          int
	Succeeded      int
	Failed         int
	Cancelled      int
	BytesIn        int64
	BytesOut       int64
	ReductionRatio float64
	Duration       time.Duration
	FinishedAt     time.Time
	Items          []ItemResult
}

// BytesSaved is BytesIn minus BytesOut for succeeded items.
func (s Summary) BytesSaved() int64 {
	return s.BytesIn - s.BytesOut
}

func (s *Summary) add(r ItemResult) {
	switch r.Status {
	case batch.StatusDone:
		s.Succeeded++
		s.BytesIn += r.BytesIn
		s.BytesOut += r.BytesOut
	case batch.StatusFailed:
		s.Failed++
	case batch.StatusCancelled:
		s.Cancelled++
	}
}

func (s *Summary) finish() {
	if s.BytesIn > 0 {
		s.ReductionRatio = 1 - float64(s.BytesOut)/float64(s.BytesIn)
	}
}
