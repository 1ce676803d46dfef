package batch

import (
	"time"

	"imgshift/internal/imageformat"
	"imgshift/internal/tempfiles"
)

// State is the lifecycle position of a batch.
type State string

const (
	StateCollecting     State = "collecting"
	StateAwaitingFormat State = "awaiting_format"
	StateConverting     State = "converting"
	StateCompleted      State = "completed"
	StateFailed         State = "failed"
	StateExpired        State = "expired"
)

// Open reports whether the batch still accepts uploads.
func (s State) Open() bool {
	return s == StateCollecting || s == StateAwaitingFormat
}

// Status is the conversion status of one item.
type Status string

const (
	StatusPending    Status = "pending"
	StatusConverting Status = "converting"
	StatusDone       Status = "done"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether the item needs no further work.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed || s == StatusCancelled
}

// NewItem describes an upload being admitted to a batch.
type NewItem struct {
	Name   string
	Format imageformat.Format
	Temp   tempfiles.Handle
}

// Item is one image within a batch. ID is its 1-based position.
type Item struct {
	ID            int
	Name          string
	Format        imageformat.Format
	Size          int64
	Source        tempfiles.Handle
	Output        tempfiles.Handle
	Status        Status
	ConvertedSize int64
	Attempts      int
	Error         string
}

// Batch is a group of items converted together.
type Batch struct {
	ID        string
	Owner     string
	Items     []Item
	Target    imageformat.Format
	State     State
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TotalBytes sums the original sizes of every item.
func (b Batch) TotalBytes() int64 {
	var total int64
	for _, item := range b.Items {
		total += item.Size
	}
	return total
}

// FormatCounts tallies items by detected source format.
func (b Batch) FormatCounts() map[imageformat.Format]int {
	counts := make(map[imageformat.Format]int)
	for _, item := range b.Items {
		counts[item.Format]++
	}
	return counts
}

// CountByStatus tallies items by conversion status.
func (b Batch) CountByStatus() map[Status]int {
	counts := make(map[Status]int)
	for _, item := range b.Items {
		counts[item.Status]++
	}
	return counts
}

func (b *Batch) clone() Batch {
	out := *b
	out.Items = append([]Item(nil), b.Items...)
	return out
}
