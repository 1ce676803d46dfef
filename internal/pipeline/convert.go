package pipeline

import (
	"context"
	"errors"
	"fmt"

	"imgshift/internal/batch"
	"imgshift/internal/conversion"
	"imgshift/internal/imageformat"
	"imgshift/internal/logging"
	"imgshift/internal/session"
)

// Convert runs the session's batch to completion, reporting progress to sink.
// The batch is retired before Convert returns regardless of outcome; converted
// images are packaged into a download first.
func (s *Service) Convert(ctx context.Context, sessionID string, sink conversion.ProgressSink) (Result, error) {
	ctx, logger := s.sessionLogger(ctx, sessionID)
	state, b, err := s.activeBatch(sessionID)
	if err != nil {
		return Result{}, err
	}
	if b.Target == "" && state.PendingSelection != "" {
		format, perr := imageformat.ParseSelection(state.PendingSelection)
		if perr == nil {
			b, err = s.registry.SetTarget(b.ID, format)
			if err != nil {
				return Result{}, err
			}
		}
	}

	lease, err := s.registry.BeginConversion(ctx, b.ID)
	if err != nil {
		return Result{}, err
	}
	b, err = s.registry.Get(b.ID)
	if err != nil {
		return Result{}, err
	}

	summary, convErr := s.engine.Convert(lease, b, sink)
	final := batch.StateCompleted
	if summary.Succeeded == 0 {
		final = batch.StateFailed
	}
	finished, err := s.registry.Finish(lease, final)
	if err != nil {
		convErr = errors.Join(convErr, err)
	}
	s.stats.Record(summary, summary.FinishedAt)

	result := Result{Summary: summary}
	if summary.Succeeded > 0 && err == nil {
		dl, perr := s.pack(finished)
		if perr != nil {
			logging.WarnWithContext(logger, "result packaging failed", "package_failed",
				logging.String(logging.FieldBatchID, b.ID),
				logging.Error(perr),
				logging.String(logging.FieldImpact, "converted images are discarded"),
			)
			convErr = errors.Join(convErr, perr)
		} else {
			result.Download = &dl
		}
	}

	if rerr := s.registry.Retire(b.ID); rerr != nil && !errors.Is(rerr, batch.ErrNotFound) {
		convErr = errors.Join(convErr, fmt.Errorf("retire batch: %w", rerr))
	}
	if _, uerr := s.sessions.Update(sessionID, func(st *session.State) {
		*st = session.State{}
	}); uerr != nil {
		convErr = errors.Join(convErr, uerr)
	}

	attrs := []logging.Attr{
		logging.String(logging.FieldBatchID, b.ID),
		logging.String("state", string(final)),
		logging.Int("succeeded", summary.Succeeded),
		logging.Int("failed", summary.Failed),
		logging.Int("cancelled", summary.Cancelled),
		logging.String(logging.FieldEventType, "batch_delivered"),
	}
	if result.Download != nil {
		attrs = append(attrs, logging.String("download_id", result.Download.ID))
	}
	logger.Info("batch delivered", logging.Args(attrs...)...)
	return result, convErr
}
