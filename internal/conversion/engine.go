package conversion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"imgshift/internal/batch"
	"imgshift/internal/codec"
	"imgshift/internal/imageformat"
	"imgshift/internal/logging"
	"imgshift/internal/retry"
	"imgshift/internal/services"
	"imgshift/internal/tempfiles"
)

// Store holds item bytes on disk.
type Store interface {
	Read(tempfiles.Handle) ([]byte, error)
	Acquire([]byte) (tempfiles.Handle, error)
	Release(tempfiles.Handle) (bool, error)
}

// Tracker records item state under a lease.
type Tracker interface {
	UpdateItem(lease *batch.Lease, idx int, fn func(*batch.Item)) (batch.Item, error)
}

// Options tunes an Engine.
type Options struct {
	Workers     int
	Retry       retry.Policy
	ItemTimeout time.Duration
	CancelGrace time.Duration
	Clock       func() time.Time
	Logger      *slog.Logger
}

// Engine converts batches.
type Engine struct {
	codec   codec.Codec
	store   Store
	tracker Tracker
	opts    Options
	logger  *slog.Logger
}

// New constructs an Engine.
func New(c codec.Codec, store Store, tracker Tracker, opts Options) *Engine {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.ItemTimeout <= 0 {
		opts.ItemTimeout = 30 * time.Second
	}
	if opts.CancelGrace <= 0 {
		opts.CancelGrace = 10 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Engine{
		codec:   c,
		store:   store,
		tracker: tracker,
		opts:    opts,
		logger:  logging.NewComponentLogger(opts.Logger, "conversion"),
	}
}

type message struct {
	started bool
	result  ItemResult
	output  tempfiles.Handle
	// releaseSource is set once the source bytes are no longer needed.
	releaseSource bool
}

// Convert processes every pending item of b toward b.Target. The lease context
// controls cancellation. The returned error is non-nil only when item state
// could not be recorded; per-item failures are reported in the Summary.
func (e *Engine) Convert(lease *batch.Lease, b batch.Batch, sink ProgressSink) (Summary, error) {
	ctx := lease.Context()
	ctx = services.WithBatchID(ctx, b.ID)
	logger := logging.WithContext(ctx, e.logger)
	started := e.opts.Clock()

	var pending []batch.Item
	for _, item := range b.Items {
		if item.Status == batch.StatusPending {
			pending = append(pending, item)
		}
	}
	summary := Summary{BatchID: b.ID, Target: b.Target, Total: len(pending)}
	logger.Info("conversion started",
		logging.String("target", b.Target.String()),
		logging.Int("items", len(pending)),
		logging.Int("workers", e.opts.Workers),
		logging.String(logging.FieldEventType, "conversion_started"),
	)

	// hardCtx outlives a cancel by CancelGrace so running items can finish.
	hardCtx, hardStop := context.WithCancel(context.WithoutCancel(ctx))
	defer hardStop()
	stopGrace := context.AfterFunc(ctx, func() {
		timer := time.NewTimer(e.opts.CancelGrace)
		defer timer.Stop()
		select {
		case <-timer.C:
			hardStop()
		case <-hardCtx.Done():
		}
	})
	defer stopGrace()

	msgs := make(chan message, 2*len(pending)+1)
	go func() {
		var g errgroup.Group
		g.SetLimit(e.opts.Workers)
		for _, item := range pending {
			g.Go(func() error {
				e.convertItem(ctx, hardCtx, item, b.Target, msgs)
				return nil
			})
		}
		_ = g.Wait()
		close(msgs)
	}()

	var recordErr error
	completed := 0
	for msg := range msgs {
		if msg.started {
			if _, err := e.tracker.UpdateItem(lease, msg.result.Index, func(it *batch.Item) {
				it.Status = batch.StatusConverting
			}); err != nil && recordErr == nil {
				recordErr = err
			}
			continue
		}

		r := msg.result
		if _, err := e.tracker.UpdateItem(lease, r.Index, func(it *batch.Item) {
			it.Status = r.Status
			it.Attempts = r.Attempts
			it.Error = r.Error
			if r.Status == batch.StatusDone {
				it.ConvertedSize = r.BytesOut
				it.Output = msg.output
				if msg.releaseSource {
					it.Source = tempfiles.Handle{}
				}
			}
		}); err != nil && recordErr == nil {
			recordErr = err
		}
		if msg.releaseSource && !r.Passthrough {
			if _, err := e.store.Release(pendingSource(pending, r.Index)); err != nil {
				logging.WarnWithContext(logger, "source release failed", "conversion_source_release_failed",
					logging.Int(logging.FieldItemID, r.Index),
					logging.Error(err),
				)
			}
		}

		completed++
		summary.add(r)
		summary.Items = append(summary.Items, r)
		if sink != nil {
			sink(Progress{
				BatchID:   b.ID,
				Completed: completed,
				Total:     summary.Total,
				BytesIn:   summary.BytesIn,
				BytesOut:  summary.BytesOut,
				Item:      r,
			})
		}
	}

	sort.Slice(summary.Items, func(i, j int) bool { return summary.Items[i].Index < summary.Items[j].Index })
	summary.FinishedAt = e.opts.Clock()
	summary.Duration = summary.FinishedAt.Sub(started)
	summary.finish()

	logger.Info("conversion finished",
		logging.Int("succeeded", summary.Succeeded),
		logging.Int("failed", summary.Failed),
		logging.Int("cancelled", summary.Cancelled),
		logging.Int64("bytes_in", summary.BytesIn),
		logging.Int64("bytes_out", summary.BytesOut),
		logging.Duration("duration", summary.Duration),
		logging.String(logging.FieldEventType, "conversion_finished"),
	)
	if recordErr != nil {
		return summary, fmt.Errorf("record item state: %w", recordErr)
	}
	return summary, nil
}

func pendingSource(items []batch.Item, idx int) tempfiles.Handle {
	for _, item := range items {
		if item.ID == idx {
			return item.Source
		}
	}
	return tempfiles.Handle{}
}

func (e *Engine) convertItem(ctx, hardCtx context.Context, item batch.Item, target imageformat.Format, out chan<- message) {
	result := ItemResult{
		Index:        item.ID,
		Name:         item.Name,
		SourceFormat: item.Format,
		BytesIn:      item.Size,
	}
	if ctx.Err() != nil {
		result.Status = batch.StatusCancelled
		out <- message{result: result}
		return
	}
	out <- message{started: true, result: result}

	itemCtx := services.WithItemID(ctx, item.ID)
	logger := logging.WithContext(itemCtx, e.logger)
	begin := e.opts.Clock()

	if item.Format == target {
		result.Status = batch.StatusDone
		result.Passthrough = true
		result.Attempts = 1
		result.BytesOut = item.Size
		result.Latency = e.opts.Clock().Sub(begin)
		out <- message{result: result, output: item.Source, releaseSource: true}
		return
	}

	data, err := e.store.Read(item.Source)
	if err != nil {
		result.Status = batch.StatusFailed
		result.Error = err.Error()
		result.Latency = e.opts.Clock().Sub(begin)
		out <- message{result: result}
		return
	}

	var encoded []byte
	attempts, err := e.opts.Retry.Do(itemCtx, func(_ context.Context, attempt int) error {
		attemptCtx, cancel := context.WithTimeout(hardCtx, e.opts.ItemTimeout)
		defer cancel()
		b, err := e.runCodec(attemptCtx, data, item.Format, target)
		if err != nil {
			if hardCtx.Err() != nil {
				return retry.Permanent(err)
			}
			logging.WarnWithContext(logger, "item conversion attempt failed", "item_attempt_failed",
				logging.Int("attempt", attempt),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "retrying with backoff"),
				logging.String(logging.FieldImpact, "item conversion delayed"),
			)
			return err
		}
		encoded = b
		return nil
	})
	result.Attempts = attempts
	result.Latency = e.opts.Clock().Sub(begin)

	if err == nil {
		handle, aerr := e.store.Acquire(encoded)
		if aerr != nil {
			result.Status = batch.StatusFailed
			result.Error = aerr.Error()
			out <- message{result: result}
			return
		}
		result.Status = batch.StatusDone
		result.BytesOut = handle.Size
		out <- message{result: result, output: handle, releaseSource: true}
		return
	}

	result.Error = err.Error()
	if hardCtx.Err() != nil || (ctx.Err() != nil && errors.Is(err, context.Canceled)) {
		result.Status = batch.StatusCancelled
	} else {
		result.Status = batch.StatusFailed
		logging.WarnWithContext(logger, "item conversion failed", "item_failed",
			logging.Int("attempts", attempts),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the source image; original bytes are kept"),
			logging.String(logging.FieldImpact, "item excluded from converted output"),
		)
	}
	out <- message{result: result}
}

// runCodec runs decode and encode in a goroutine so a hung codec cannot hold
// the worker past ctx.
func (e *Engine) runCodec(ctx context.Context, data []byte, source, target imageformat.Format) ([]byte, error) {
	type outcome struct {
		data []byte
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		img, err := e.codec.Decode(data, source)
		if err != nil {
			done <- outcome{err: err}
			return
		}
		b, err := e.codec.Encode(img, target)
		done <- outcome{data: b, err: err}
	}()
	select {
	case o := <-done:
		return o.data, o.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s", ErrTimeout, e.opts.ItemTimeout)
		}
		return nil, ctx.Err()
	}
}
