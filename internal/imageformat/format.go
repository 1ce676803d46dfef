// Package imageformat identifies image containers by their leading bytes and
// names the formats imgshift can convert between.
package imageformat

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Format is a supported image container.
type Format string

const (
	JPEG Format = "JPEG"
	PNG  Format = "PNG"
	WEBP Format = "WEBP"
	GIF  Format = "GIF"
	TIFF Format = "TIFF"
	BMP  Format = "BMP"
)

// ErrUnsupportedFormat is returned when bytes match no known signature.
var ErrUnsupportedFormat = errors.New("unsupported image format")

// SelectionPrefix prefixes callback data emitted for format buttons.
const SelectionPrefix = "convert_"

var all = []Format{JPEG, PNG, WEBP, GIF, TIFF, BMP}

var extensions = map[Format]string{
	JPEG: ".jpg",
	PNG:  ".png",
	WEBP: ".webp",
	GIF:  ".gif",
	TIFF: ".tiff",
	BMP:  ".bmp",
}

var mimeTypes = map[Format]string{
	JPEG: "image/jpeg",
	PNG:  "image/png",
	WEBP: "image/webp",
	GIF:  "image/gif",
	TIFF: "image/tiff",
	BMP:  "image/bmp",
}

var aliases = map[string]Format{
	"JPG":  JPEG,
	"JPE":  JPEG,
	"TIF":  TIFF,
	"DIB":  BMP,
	"WEBP": WEBP,
}

var upper = cases.Upper(language.Und)

// All returns the supported formats in display order.
func All() []Format {
	out := make([]Format, len(all))
	copy(out, all)
	return out
}

// Extension returns the canonical file extension including the dot.
func (f Format) Extension() string {
	return extensions[f]
}

// MIME returns the media type for HTTP responses.
func (f Format) MIME() string {
	if m, ok := mimeTypes[f]; ok {
		return m
	}
	return "application/octet-stream"
}

// Valid reports whether f is one of the supported formats.
func (f Format) Valid() bool {
	_, ok := extensions[f]
	return ok
}

func (f Format) String() string { return string(f) }

// Parse resolves a user supplied name ("webp", ".jpg", "Tiff") to a Format.
func Parse(name string) (Format, error) {
	key := upper.String(strings.TrimPrefix(strings.TrimSpace(name), "."))
	if key == "" {
		return "", fmt.Errorf("%w: empty name", ErrUnsupportedFormat)
	}
	if f := Format(key); f.Valid() {
		return f, nil
	}
	if f, ok := aliases[key]; ok {
		return f, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, name)
}

// ParseSelection decodes "convert_<fmt>" callback data.
func ParseSelection(data string) (Format, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(data), SelectionPrefix)
	if !ok {
		return "", fmt.Errorf("%w: selection %q", ErrUnsupportedFormat, data)
	}
	return Parse(rest)
}

// Selection renders the callback data for f.
func Selection(f Format) string {
	return SelectionPrefix + strings.ToLower(string(f))
}

// Detect inspects the signature of data. The result never depends on a file
// name.
func Detect(data []byte) (Format, error) {
	switch {
	case len(data) >= 3 && data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF:
		return JPEG, nil
	case bytes.HasPrefix(data, []byte("\x89PNG\r\n\x1a\n")):
		return PNG, nil
	case bytes.HasPrefix(data, []byte("GIF87a")), bytes.HasPrefix(data, []byte("GIF89a")):
		return GIF, nil
	case len(data) >= 12 && bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")):
		return WEBP, nil
	case bytes.HasPrefix(data, []byte("II*\x00")), bytes.HasPrefix(data, []byte("MM\x00*")):
		return TIFF, nil
	case isBMP(data):
		return BMP, nil
	}
	return "", ErrUnsupportedFormat
}

// isBMP requires the DIB header size to be one of the known variants since
// "BM" alone is common in text.
func isBMP(data []byte) bool {
	if len(data) < 18 || data[0] != 'B' || data[1] != 'M' {
		return false
	}
	switch binary.LittleEndian.Uint32(data[14:18]) {
	case 12, 40, 52, 56, 64, 108, 124:
		return true
	}
	return false
}
