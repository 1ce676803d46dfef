// Package stats aggregates conversion outcomes into all-time, daily and
// monthly windows.
package stats

import (
	"fmt"
	"maps"
	"strings"
	"sync"
	"time"

	"imgshift/internal/batch"
	"imgshift/internal/conversion"
	"imgshift/internal/imageformat"
	"imgshift/internal/services"
)

// Scope selects a window for Query.
type Scope string

const (
	ScopeAll   Scope = "all"
	ScopeToday Scope = "today"
	ScopeMonth Scope = "month"
)

// Window kinds stored in Window.Kind.
const (
	KindAll   = "all"
	KindDay   = "day"
	KindMonth = "month"

	dayLayout   = "2006-01-02"
	monthLayout = "2006-01"
)

// ParseScope accepts all, today and month (empty means all).
func ParseScope(value string) (Scope, error) {
	switch Scope(strings.ToLower(strings.TrimSpace(value))) {
	case "", ScopeAll:
		return ScopeAll, nil
	case ScopeToday, "day":
		return ScopeToday, nil
	case ScopeMonth:
		return ScopeMonth, nil
	}
	return "", fmt.Errorf("%w: unknown stats scope %q", services.ErrValidation, value)
}

// Clock returns the current time.
type Clock func() time.Time

// Window is one accumulated period.
type Window struct {
	Kind         string
	PeriodKey    string
	ImagesCount  int64
	BytesIn      int64
	BytesOut     int64
	Histogram    map[imageformat.Format]int64
	TotalLatency time.Duration
	LatencyCount int64
}

func newWindow(kind, key string) *Window {
	return &Window{Kind: kind, PeriodKey: key, Histogram: make(map[imageformat.Format]int64)}
}

func (w *Window) clone() Window {
	out := *w
	out.Histogram = maps.Clone(w.Histogram)
	if out.Histogram == nil {
		out.Histogram = make(map[imageformat.Format]int64)
	}
	return out
}

// Snapshot is the read-only view returned by Query.
type Snapshot struct {
	Scope          Scope
	PeriodKey      string
	ImagesCount    int64
	BytesIn        int64
	BytesOut       int64
	BytesSaved     int64
	Histogram      map[imageformat.Format]int64
	AverageLatency time.Duration
}

// Accumulator is the process-wide stats service.
type Accumulator struct {
	now Clock
	loc *time.Location

	mu     sync.RWMutex
	all    *Window
	days   map[string]*Window
	months map[string]*Window
}

// New returns an empty Accumulator. Periods are computed in loc.
func New(now Clock, loc *time.Location) *Accumulator {
	if now == nil {
		now = time.Now
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Accumulator{
		now:    now,
		loc:    loc,
		all:    newWindow(KindAll, KindAll),
		days:   make(map[string]*Window),
		months: make(map[string]*Window),
	}
}

// Record applies a conversion summary to the all-time, day and month windows
// in one critical section. Cancelled items are ignored; histogram keys are
// source formats.
func (a *Accumulator) Record(summary conversion.Summary, ts time.Time) {
	if summary.Succeeded+summary.Failed == 0 {
		return
	}
	local := ts.In(a.loc)
	dayKey := local.Format(dayLayout)
	monthKey := local.Format(monthLayout)

	a.mu.Lock()
	defer a.mu.Unlock()
	day, ok := a.days[dayKey]
	if !ok {
		day = newWindow(KindDay, dayKey)
		a.days[dayKey] = day
	}
	month, ok := a.months[monthKey]
	if !ok {
		month = newWindow(KindMonth, monthKey)
		a.months[monthKey] = month
	}
	for _, w := range []*Window{a.all, day, month} {
		apply(w, summary)
	}
}

func apply(w *Window, summary conversion.Summary) {
	w.ImagesCount += int64(summary.Succeeded + summary.Failed)
	w.BytesIn += summary.BytesIn
	w.BytesOut += summary.BytesOut
	for _, item := range summary.Items {
		if item.Status != batch.StatusDone && item.Status != batch.StatusFailed {
			continue
		}
		w.Histogram[item.SourceFormat]++
		w.TotalLatency += item.Latency
		w.LatencyCount++
	}
}

// Query returns a consistent snapshot of the requested window.
func (a *Accumulator) Query(scope Scope) Snapshot {
	local := a.now().In(a.loc)

	a.mu.RLock()
	defer a.mu.RUnlock()
	var w *Window
	key := KindAll
	switch scope {
	case ScopeToday:
		key = local.Format(dayLayout)
		w = a.days[key]
	case ScopeMonth:
		key = local.Format(monthLayout)
		w = a.months[key]
	default:
		scope = ScopeAll
		w = a.all
	}
	snap := Snapshot{Scope: scope, PeriodKey: key, Histogram: make(map[imageformat.Format]int64)}
	if w == nil {
		return snap
	}
	snap.ImagesCount = w.ImagesCount
	snap.BytesIn = w.BytesIn
	snap.BytesOut = w.BytesOut
	snap.BytesSaved = w.BytesIn - w.BytesOut
	maps.Copy(snap.Histogram, w.Histogram)
	if w.LatencyCount > 0 {
		snap.AverageLatency = w.TotalLatency / time.Duration(w.LatencyCount)
	}
	return snap
}

// Windows returns copies of every window for persistence.
func (a *Accumulator) Windows() []Window {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]Window, 0, 1+len(a.days)+len(a.months))
	out = append(out, a.all.clone())
	for _, w := range a.days {
		out = append(out, w.clone())
	}
	for _, w := range a.months {
		out = append(out, w.clone())
	}
	return out
}

// Restore replaces the current windows with persisted ones.
func (a *Accumulator) Restore(windows []Window) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.all = newWindow(KindAll, KindAll)
	a.days = make(map[string]*Window)
	a.months = make(map[string]*Window)
	for _, w := range windows {
		copyW := w.clone()
		switch w.Kind {
		case KindAll:
			a.all = &copyW
		case KindDay:
			a.days[w.PeriodKey] = &copyW
		case KindMonth:
			a.months[w.PeriodKey] = &copyW
		}
	}
}
