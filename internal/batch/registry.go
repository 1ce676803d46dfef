// Package batch tracks image batches from upload through conversion.
//
// The Registry owns every batch. Readers receive copies; only the holder of a
// conversion Lease may change item state. A batch can have at most one lease
// at a time, and the registry mutex is never held while a caller converts.
package batch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"imgshift/internal/imageformat"
	"imgshift/internal/logging"
	"imgshift/internal/tempfiles"
)

// Releaser deletes temp files owned by items.
type Releaser interface {
	Release(tempfiles.Handle) (bool, error)
}

// Clock returns the current time.
type Clock func() time.Time

// Options configures a Registry.
type Options struct {
	MaxItems    int
	IdleTimeout time.Duration
	Releaser    Releaser
	Clock       Clock
	Logger      *slog.Logger
}

// Lease grants exclusive conversion rights over one batch.
type Lease struct {
	BatchID string
	token   string
	ctx     context.Context
	cancel  context.CancelFunc
}

// Context is cancelled when the owner cancels the conversion.
func (l *Lease) Context() context.Context { return l.ctx }

type entry struct {
	batch Batch
	lease *Lease
}

// Registry holds active batches keyed by ID.
type Registry struct {
	opts   Options
	logger *slog.Logger

	mu      sync.Mutex
	batches map[string]*entry
	owners  map[string]string
}

// NewRegistry constructs an empty registry.
func NewRegistry(opts Options) *Registry {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Registry{
		opts:    opts,
		logger:  logging.NewComponentLogger(opts.Logger, "batch"),
		batches: make(map[string]*entry),
		owners:  make(map[string]string),
	}
}

// Open returns the owner's open batch, or starts a new one. A finished or
// expired batch still registered for the owner is retired first.
func (r *Registry) Open(owner string) (string, error) {
	var stale *Batch
	r.mu.Lock()
	if id, ok := r.owners[owner]; ok {
		e := r.batches[id]
		switch {
		case e.lease != nil:
			r.mu.Unlock()
			return "", ErrAlreadyConverting
		case e.batch.State.Open():
			r.mu.Unlock()
			return id, nil
		}
		b := r.detachLocked(id)
		stale = &b
	}

	now := r.opts.Clock()
	id := uuid.NewString()
	r.batches[id] = &entry{batch: Batch{
		ID:        id,
		Owner:     owner,
		State:     StateCollecting,
		CreatedAt: now,
		UpdatedAt: now,
	}}
	r.owners[owner] = id
	r.mu.Unlock()

	if stale != nil {
		r.releaseItems(*stale)
	}
	r.logger.Debug("batch opened", logging.String(logging.FieldBatchID, id), logging.String(logging.FieldSessionID, owner))
	return id, nil
}

// AddItems appends items in order. Admission is all-or-nothing: if the batch
// cannot take every item, none are added.
func (r *Registry) AddItems(id string, items []NewItem) (Batch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.batches[id]
	if !ok {
		return Batch{}, ErrNotFound
	}
	if !e.batch.State.Open() {
		return Batch{}, ErrBatchClosed
	}
	if limit := r.opts.MaxItems; limit > 0 && len(e.batch.Items)+len(items) > limit {
		return Batch{}, fmt.Errorf("%w: %d + %d exceeds %d", ErrBatchFull, len(e.batch.Items), len(items), limit)
	}
	for _, item := range items {
		e.batch.Items = append(e.batch.Items, Item{
			ID:     len(e.batch.Items) + 1,
			Name:   item.Name,
			Format: item.Format,
			Size:   item.Temp.Size,
			Source: item.Temp,
			Status: StatusPending,
		})
	}
	if len(e.batch.Items) > 0 {
		e.batch.State = StateAwaitingFormat
	}
	e.batch.UpdatedAt = r.opts.Clock()
	return e.batch.clone(), nil
}

// SetTarget records the target format for an open batch.
func (r *Registry) SetTarget(id string, format imageformat.Format) (Batch, error) {
	if !format.Valid() {
		return Batch{}, fmt.Errorf("%w: %q", imageformat.ErrUnsupportedFormat, format)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.batches[id]
	if !ok {
		return Batch{}, ErrNotFound
	}
	if !e.batch.State.Open() {
		return Batch{}, ErrBatchClosed
	}
	if len(e.batch.Items) == 0 {
		return Batch{}, ErrNoItems
	}
	e.batch.Target = format
	e.batch.UpdatedAt = r.opts.Clock()
	return e.batch.clone(), nil
}

// BeginConversion grants the lease. A second caller fails with
// ErrAlreadyConverting instead of waiting.
func (r *Registry) BeginConversion(parent context.Context, id string) (*Lease, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.batches[id]
	if !ok {
		return nil, ErrNotFound
	}
	if e.lease != nil {
		return nil, ErrAlreadyConverting
	}
	if !e.batch.State.Open() {
		return nil, ErrBatchClosed
	}
	if len(e.batch.Items) == 0 {
		return nil, ErrNoItems
	}
	if e.batch.Target == "" {
		return nil, ErrNoTarget
	}
	ctx, cancel := context.WithCancel(parent)
	lease := &Lease{BatchID: id, token: uuid.NewString(), ctx: ctx, cancel: cancel}
	e.lease = lease
	e.batch.State = StateConverting
	e.batch.UpdatedAt = r.opts.Clock()
	return lease, nil
}

// UpdateItem applies fn to item idx (1-based) under the lease.
func (r *Registry) UpdateItem(lease *Lease, idx int, fn func(*Item)) (Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, err := r.leasedLocked(lease)
	if err != nil {
		return Item{}, err
	}
	if idx < 1 || idx > len(e.batch.Items) {
		return Item{}, fmt.Errorf("item %d out of range", idx)
	}
	fn(&e.batch.Items[idx-1])
	e.batch.UpdatedAt = r.opts.Clock()
	return e.batch.Items[idx-1], nil
}

// Finish ends the conversion, drops the lease and moves the batch to its final
// state.
func (r *Registry) Finish(lease *Lease, state State) (Batch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, err := r.leasedLocked(lease)
	if err != nil {
		return Batch{}, err
	}
	lease.cancel()
	e.lease = nil
	e.batch.State = state
	e.batch.UpdatedAt = r.opts.Clock()
	return e.batch.clone(), nil
}

// Cancel signals the running conversion of a batch to stop between items.
func (r *Registry) Cancel(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.batches[id]
	if !ok {
		return ErrNotFound
	}
	if e.lease == nil {
		return ErrNotConverting
	}
	e.lease.cancel()
	return nil
}

func (r *Registry) leasedLocked(lease *Lease) (*entry, error) {
	if lease == nil {
		return nil, ErrLeaseInvalid
	}
	e, ok := r.batches[lease.BatchID]
	if !ok {
		return nil, ErrNotFound
	}
	if e.lease == nil || e.lease.token != lease.token {
		return nil, ErrLeaseInvalid
	}
	return e, nil
}

// Get returns a copy of the batch.
func (r *Registry) Get(id string) (Batch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.batches[id]
	if !ok {
		return Batch{}, ErrNotFound
	}
	return e.batch.clone(), nil
}

// ForOwner returns a copy of the owner's registered batch.
func (r *Registry) ForOwner(owner string) (Batch, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.owners[owner]
	if !ok {
		return Batch{}, false
	}
	return r.batches[id].batch.clone(), true
}

// Touch marks the batch as active.
func (r *Registry) Touch(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.batches[id]; ok {
		e.batch.UpdatedAt = r.opts.Clock()
	}
}

// Retire removes the batch and releases every temp file its items still own.
func (r *Registry) Retire(id string) error {
	r.mu.Lock()
	e, ok := r.batches[id]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	if e.lease != nil {
		r.mu.Unlock()
		return ErrAlreadyConverting
	}
	b := r.detachLocked(id)
	r.mu.Unlock()

	r.releaseItems(b)
	r.logger.Debug("batch retired",
		logging.String(logging.FieldBatchID, id),
		logging.String("state", string(b.State)),
		logging.Int("items", len(b.Items)),
	)
	return nil
}

func (r *Registry) detachLocked(id string) Batch {
	e := r.batches[id]
	delete(r.batches, id)
	if r.owners[e.batch.Owner] == id {
		delete(r.owners, e.batch.Owner)
	}
	return e.batch
}

func (r *Registry) releaseItems(b Batch) {
	if r.opts.Releaser == nil {
		return
	}
	for _, item := range b.Items {
		for _, h := range []tempfiles.Handle{item.Source, item.Output} {
			if _, err := r.opts.Releaser.Release(h); err != nil {
				logging.WarnWithContext(r.logger, "temp release failed during retire", "batch_retire_release_failed",
					logging.String(logging.FieldBatchID, b.ID),
					logging.Int(logging.FieldItemID, item.ID),
					logging.Error(err),
				)
			}
		}
	}
}

// SweepResult reports what a sweep changed.
type SweepResult struct {
	Expired []string
	Retired []string
}

// Sweep expires batches idle past the timeout and retires batches that were
// already expired. Batches under a lease are never touched.
func (r *Registry) Sweep(now time.Time) SweepResult {
	var result SweepResult
	var retire []Batch

	r.mu.Lock()
	for id, e := range r.batches {
		if e.lease != nil {
			continue
		}
		if e.batch.State == StateExpired {
			retire = append(retire, r.detachLocked(id))
			result.Retired = append(result.Retired, id)
			continue
		}
		if r.opts.IdleTimeout > 0 && now.Sub(e.batch.UpdatedAt) > r.opts.IdleTimeout {
			e.batch.State = StateExpired
			e.batch.UpdatedAt = now
			result.Expired = append(result.Expired, id)
		}
	}
	r.mu.Unlock()

	for _, b := range retire {
		r.releaseItems(b)
	}
	if len(result.Expired) > 0 || len(result.Retired) > 0 {
		r.logger.Info("batch sweep",
			logging.Int("expired", len(result.Expired)),
			logging.Int("retired", len(result.Retired)),
			logging.String(logging.FieldEventType, "batch_sweep"),
		)
	}
	return result
}

// Len returns the number of registered batches.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches)
}
