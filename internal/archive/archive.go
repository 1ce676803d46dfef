// Package archive unpacks uploaded containers into individual images.
//
// Supported containers are ZIP, TAR, gzip-compressed TAR and xz-compressed
// TAR, recognized by their leading bytes. Entries that are not images are
// counted and skipped. Entry count and total decompressed size are enforced
// while reading, so header values that understate content cannot bypass them.
package archive

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/ulikunitz/xz"

	"imgshift/internal/imageformat"
)

var (
	// ErrCorruptArchive is returned when the container structure cannot be parsed.
	ErrCorruptArchive = errors.New("corrupt archive")
	// ErrArchiveTooLarge is returned when an entry or byte limit is exceeded.
	ErrArchiveTooLarge = errors.New("archive too large")
	// ErrNotArchive is returned by Walk for bytes that carry no archive signature.
	ErrNotArchive = errors.New("not an archive")
)

// Kind identifies a container format.
type Kind string

const (
	KindNone  Kind = ""
	KindZip   Kind = "zip"
	KindTar   Kind = "tar"
	KindTarGz Kind = "tar.gz"
	KindTarXz Kind = "tar.xz"
)

// Limits bounds a single extraction.
type Limits struct {
	MaxEntries int
	MaxBytes   int64
}

// Entry is one image found inside an archive.
type Entry struct {
	Name   string
	Data   []byte
	Format imageformat.Format
}

// Stats summarizes an extraction.
type Stats struct {
	Entries int
	Images  int
	Skipped int
	Bytes   int64
}

// DetectKind reports the container kind from the leading bytes.
func DetectKind(data []byte) Kind {
	switch {
	case bytes.HasPrefix(data, []byte("PK\x03\x04")), bytes.HasPrefix(data, []byte("PK\x05\x06")):
		return KindZip
	case bytes.HasPrefix(data, []byte{0x1f, 0x8b}):
		return KindTarGz
	case bytes.HasPrefix(data, []byte{0xFD, '7', 'z', 'X', 'Z', 0x00}):
		return KindTarXz
	case len(data) >= 262 && bytes.Equal(data[257:262], []byte("ustar")):
		return KindTar
	}
	return KindNone
}

// IsArchive reports whether data looks like a supported container.
func IsArchive(data []byte) bool {
	return DetectKind(data) != KindNone
}

// Walk calls fn for each image entry in order. Non-image entries are skipped.
// Walk stops at the first error from fn or from the container and returns it.
func Walk(data []byte, limits Limits, fn func(Entry) error) (Stats, error) {
	w := &walker{limits: limits, fn: fn}
	var err error
	switch DetectKind(data) {
	case KindZip:
		err = w.zip(data)
	case KindTar:
		err = w.tar(bytes.NewReader(data))
	case KindTarGz:
		var gz *gzip.Reader
		gz, err = gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return w.stats, fmt.Errorf("%w: gzip: %v", ErrCorruptArchive, err)
		}
		defer gz.Close()
		err = w.tar(gz)
	case KindTarXz:
		var xr *xz.Reader
		xr, err = xz.NewReader(bytes.NewReader(data))
		if err != nil {
			return w.stats, fmt.Errorf("%w: xz: %v", ErrCorruptArchive, err)
		}
		err = w.tar(xr)
	default:
		return w.stats, ErrNotArchive
	}
	return w.stats, err
}

// Extract collects every image entry. On error no entries are returned.
func Extract(data []byte, limits Limits) ([]Entry, Stats, error) {
	var entries []Entry
	stats, err := Walk(data, limits, func(e Entry) error {
		entries = append(entries, e)
		return nil
	})
	if err != nil {
		return nil, stats, err
	}
	return entries, stats, nil
}

type walker struct {
	limits Limits
	fn     func(Entry) error
	stats  Stats
}

func (w *walker) zip(data []byte) error {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Errorf("%w: zip: %v", ErrCorruptArchive, err)
	}
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if err := w.admit(f.Name); err != nil {
			return err
		}
		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("%w: zip entry %s: %v", ErrCorruptArchive, f.Name, err)
		}
		body, err := w.read(rc)
		_ = rc.Close()
		if err != nil {
			return err
		}
		if err := w.emit(f.Name, body); err != nil {
			return err
		}
	}
	return nil
}

func (w *walker) tar(r io.Reader) error {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: tar: %v", ErrCorruptArchive, err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		if err := w.admit(hdr.Name); err != nil {
			return err
		}
		body, err := w.read(tr)
		if err != nil {
			return err
		}
		if err := w.emit(hdr.Name, body); err != nil {
			return err
		}
	}
}

func (w *walker) admit(name string) error {
	w.stats.Entries++
	if w.limits.MaxEntries > 0 && w.stats.Entries > w.limits.MaxEntries {
		return fmt.Errorf("%w: more than %d entries (at %s)", ErrArchiveTooLarge, w.limits.MaxEntries, name)
	}
	return nil
}

// read consumes r while charging the shared byte budget.
func (w *walker) read(r io.Reader) ([]byte, error) {
	if w.limits.MaxBytes > 0 {
		remaining := w.limits.MaxBytes - w.stats.Bytes
		r = io.LimitReader(r, remaining+1)
	}
	body, err := io.ReadAll(r)
	w.stats.Bytes += int64(len(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptArchive, err)
	}
	if w.limits.MaxBytes > 0 && w.stats.Bytes > w.limits.MaxBytes {
		return nil, fmt.Errorf("%w: more than %d decompressed bytes", ErrArchiveTooLarge, w.limits.MaxBytes)
	}
	return body, nil
}

func (w *walker) emit(name string, body []byte) error {
	format, err := imageformat.Detect(body)
	if err != nil {
		w.stats.Skipped++
		return nil
	}
	w.stats.Images++
	return w.fn(Entry{Name: cleanName(name), Data: body, Format: format})
}

func cleanName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	base := path.Base(path.Clean("/" + name))
	if base == "/" || base == "." {
		return "image"
	}
	return base
}

