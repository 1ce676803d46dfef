package pipeline

import (
	"context"
	"fmt"
	"path"
	"strings"

	"imgshift/internal/archive"
	"imgshift/internal/batch"
	"imgshift/internal/imageformat"
	"imgshift/internal/logging"
	"imgshift/internal/session"
	"imgshift/internal/textutil"
)

// Upload is one file received from a transport.
type Upload struct {
	Name string
	Data []byte
}

// Ingest admits uploads into the session's open batch, starting a new batch
// when needed. Archives are expanded into their image entries. Either every
// image is admitted or none is, and on failure no temp file created by the
// call survives.
func (s *Service) Ingest(ctx context.Context, sessionID string, uploads []Upload) (IngestResult, error) {
	_, logger := s.sessionLogger(ctx, sessionID)
	if len(uploads) == 0 {
		return IngestResult{}, ErrNoImages
	}
	for _, up := range uploads {
		if err := s.checkSize(up.Name, int64(len(up.Data))); err != nil {
			return IngestResult{}, err
		}
	}
	if _, err := s.loadSession(sessionID); err != nil {
		return IngestResult{}, err
	}

	items, skipped, err := s.stage(uploads)
	if err != nil {
		s.releaseStaged(items)
		return IngestResult{}, err
	}
	if len(items) == 0 {
		return IngestResult{}, ErrNoImages
	}

	id, err := s.registry.Open(sessionID)
	if err != nil {
		s.releaseStaged(items)
		return IngestResult{}, err
	}
	b, err := s.registry.AddItems(id, items)
	if err != nil {
		s.releaseStaged(items)
		s.dropIfEmpty(id)
		logging.WarnWithContext(logger, "upload rejected", "ingest_rejected",
			logging.String(logging.FieldBatchID, id),
			logging.Int("items", len(items)),
			logging.Error(err),
			logging.String(logging.FieldImpact, "no images from this upload were added"),
		)
		return IngestResult{}, err
	}

	if _, err := s.sessions.Update(sessionID, func(st *session.State) {
		st.ActiveBatchID = id
	}); err != nil {
		return IngestResult{}, err
	}
	logger.Info("upload admitted",
		logging.String(logging.FieldBatchID, id),
		logging.Int("added", len(items)),
		logging.Int("skipped", skipped),
		logging.Int("batch_items", len(b.Items)),
		logging.String(logging.FieldEventType, "ingest_admitted"),
	)
	return IngestResult{Batch: newBatchView(b), Added: len(items), Skipped: skipped}, nil
}

func (s *Service) checkSize(name string, size int64) error {
	if limit := s.cfg.Limits.MaxFileBytes; limit > 0 && size > limit {
		return fmt.Errorf("%w: %s is %d bytes", ErrFileTooLarge, displayName(name), size)
	}
	return nil
}

// stage writes every image to temp storage. On error the items staged so far
// are returned so the caller can release them.
func (s *Service) stage(uploads []Upload) ([]batch.NewItem, int, error) {
	var items []batch.NewItem
	skipped := 0
	limits := archive.Limits{
		MaxEntries: s.cfg.Limits.MaxArchiveEntries,
		MaxBytes:   s.cfg.Limits.MaxArchiveBytes,
	}
	add := func(name string, format imageformat.Format, data []byte) error {
		if err := s.checkSize(name, int64(len(data))); err != nil {
			return err
		}
		if limit := s.cfg.Limits.MaxBatchItems; limit > 0 && len(items) >= limit {
			return fmt.Errorf("%w: upload holds more than %d images", batch.ErrBatchFull, limit)
		}
		h, err := s.files.Acquire(data)
		if err != nil {
			return err
		}
		items = append(items, batch.NewItem{Name: name, Format: format, Temp: h})
		return nil
	}

	for _, up := range uploads {
		name := displayName(up.Name)
		if archive.IsArchive(up.Data) {
			st, err := archive.Walk(up.Data, limits, func(e archive.Entry) error {
				return add(e.Name, e.Format, e.Data)
			})
			if err != nil {
				return items, skipped, fmt.Errorf("%s: %w", name, err)
			}
			skipped += st.Skipped
			continue
		}
		format, err := imageformat.Detect(up.Data)
		if err != nil {
			return items, skipped, fmt.Errorf("%s: %w", name, err)
		}
		if err := add(name, format, up.Data); err != nil {
			return items, skipped, err
		}
	}
	return items, skipped, nil
}

func (s *Service) releaseStaged(items []batch.NewItem) {
	for _, item := range items {
		if _, err := s.files.Release(item.Temp); err != nil {
			logging.WarnWithContext(s.logger, "staged temp release failed", "ingest_release_failed",
				logging.String("name", item.Name),
				logging.Error(err),
			)
		}
	}
}

// dropIfEmpty retires a batch that a failed admission left with no items.
func (s *Service) dropIfEmpty(id string) {
	b, err := s.registry.Get(id)
	if err != nil || len(b.Items) > 0 {
		return
	}
	_ = s.registry.Retire(id)
}

func displayName(name string) string {
	name = textutil.SanitizeFileName(path.Base(strings.ReplaceAll(name, "\\", "/")))
	if name == "" {
		return "image"
	}
	return name
}

// SelectFormat records the target for the session's batch. value may be a
// format name or a convert_ selection token.
func (s *Service) SelectFormat(ctx context.Context, sessionID, value string) (BatchView, error) {
	_, logger := s.sessionLogger(ctx, sessionID)
	format, err := parseTarget(value)
	if err != nil {
		return BatchView{}, err
	}
	_, b, err := s.activeBatch(sessionID)
	if err != nil {
		return BatchView{}, err
	}
	b, err = s.registry.SetTarget(b.ID, format)
	if err != nil {
		return BatchView{}, err
	}
	if _, err := s.sessions.Update(sessionID, func(st *session.State) {
		st.PendingSelection = imageformat.Selection(format)
	}); err != nil {
		return BatchView{}, err
	}
	logger.Info("target selected",
		logging.String(logging.FieldBatchID, b.ID),
		logging.String("target", format.String()),
		logging.String(logging.FieldEventType, "target_selected"),
	)
	return newBatchView(b), nil
}

func parseTarget(value string) (imageformat.Format, error) {
	if strings.HasPrefix(value, imageformat.SelectionPrefix) {
		return imageformat.ParseSelection(value)
	}
	return imageformat.Parse(value)
}
