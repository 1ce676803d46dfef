package pipeline

import (
	"errors"
	"fmt"

	"imgshift/internal/archive"
	"imgshift/internal/codec"
	"imgshift/internal/imageformat"
	"imgshift/internal/services"
)

var (
	ErrFileTooLarge = fmt.Errorf("%w: file exceeds size limit", services.ErrValidation)
	ErrForbidden    = fmt.Errorf("%w: statistics are restricted to the admin", services.ErrForbidden)
	ErrNoBatch      = fmt.Errorf("%w: no active batch for session", services.ErrNotFound)
	ErrNoImages     = fmt.Errorf("%w: upload contains no images", services.ErrValidation)
	ErrNoDownload   = fmt.Errorf("%w: download not found", services.ErrNotFound)
)

// Classify maps err onto a services.Kind* label for transports.
func Classify(err error) string {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, imageformat.ErrUnsupportedFormat),
		errors.Is(err, archive.ErrCorruptArchive),
		errors.Is(err, archive.ErrArchiveTooLarge),
		errors.Is(err, archive.ErrNotArchive):
		return services.KindInvalidInput
	case codec.IsCodecError(err):
		return services.KindInvalidInput
	}
	return services.Kind(err)
}
