package testsupport

import (
	"image"
	"image/color"
	"testing"

	"imgshift/internal/codec"
	"imgshift/internal/imageformat"
)

// Gradient returns an opaque NRGBA test pattern.
func Gradient(width, height int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.NRGBA{
				R: uint8((x * 255) / max(width, 1)),
				G: uint8((y * 255) / max(height, 1)),
				B: uint8((x + y) % 256),
				A: 0xff,
			})
		}
	}
	return img
}

// ImageBytes encodes a gradient of the requested size in format.
func ImageBytes(t testing.TB, format imageformat.Format, width, height int) []byte {
	t.Helper()
	data, err := codec.New(codec.Options{JPEGQuality: 95}).Encode(Gradient(width, height), format)
	if err != nil {
		t.Fatalf("encode %s test image: %v", format, err)
	}
	return data
}

// CorruptJPEG returns bytes that carry a JPEG signature but cannot decode.
func CorruptJPEG() []byte {
	return []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00, 0xde, 0xad, 0xbe, 0xef}
}
