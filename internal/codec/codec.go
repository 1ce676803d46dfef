package codec

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"

	"github.com/HugoSmits86/nativewebp"
	"golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	"golang.org/x/image/tiff"
	"golang.org/x/image/webp"

	"imgshift/internal/imageformat"
	"imgshift/internal/services"
)

// Failure reasons reported through Error.Reason.
const (
	ReasonCorrupt     = "corrupt_stream"
	ReasonDimensions  = "dimensions_exceeded"
	ReasonUnsupported = "unsupported_mode"
	ReasonEncode      = "encode_failed"
)

// Error describes a decode or encode failure.
type Error struct {
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return "codec: " + e.Reason
	}
	return fmt.Sprintf("codec: %s: %v", e.Reason, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ErrorKind classifies codec failures as bad input.
func (e *Error) ErrorKind() string { return services.KindInvalidInput }

// IsCodecError reports whether err carries a codec failure.
func IsCodecError(err error) bool {
	var ce *Error
	return errors.As(err, &ce)
}

// Codec converts between decoded pixels and container bytes.
type Codec interface {
	Decode(data []byte, source imageformat.Format) (image.Image, error)
	Encode(img image.Image, target imageformat.Format) ([]byte, error)
}

// Options bounds decoding and tunes lossy encoders.
type Options struct {
	MaxWidth    int
	MaxHeight   int
	JPEGQuality int
}

// Native implements Codec with the Go image libraries.
type Native struct {
	opts Options
}

// New returns a Native codec. Zero options fall back to 4096x4096 and quality 85.
func New(opts Options) *Native {
	if opts.MaxWidth <= 0 {
		opts.MaxWidth = 4096
	}
	if opts.MaxHeight <= 0 {
		opts.MaxHeight = 4096
	}
	if opts.JPEGQuality <= 0 || opts.JPEGQuality > 100 {
		opts.JPEGQuality = 85
	}
	return &Native{opts: opts}
}

// Decode validates dimensions from the header before allocating pixels.
func (n *Native) Decode(data []byte, source imageformat.Format) (image.Image, error) {
	cfg, err := decodeConfig(data, source)
	if err != nil {
		return nil, &Error{Reason: ReasonCorrupt, Err: err}
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, &Error{Reason: ReasonCorrupt, Err: fmt.Errorf("empty image %dx%d", cfg.Width, cfg.Height)}
	}
	if cfg.Width > n.opts.MaxWidth || cfg.Height > n.opts.MaxHeight {
		return nil, &Error{
			Reason: ReasonDimensions,
			Err:    fmt.Errorf("%dx%d exceeds %dx%d", cfg.Width, cfg.Height, n.opts.MaxWidth, n.opts.MaxHeight),
		}
	}

	r := bytes.NewReader(data)
	var img image.Image
	switch source {
	case imageformat.JPEG:
		img, err = jpeg.Decode(r)
	case imageformat.PNG:
		img, err = png.Decode(r)
	case imageformat.GIF:
		img, err = gif.Decode(r)
	case imageformat.WEBP:
		img, err = webp.Decode(r)
	case imageformat.TIFF:
		img, err = tiff.Decode(r)
	case imageformat.BMP:
		img, err = bmp.Decode(r)
	default:
		return nil, &Error{Reason: ReasonUnsupported, Err: fmt.Errorf("source format %q", source)}
	}
	if err != nil {
		return nil, &Error{Reason: ReasonCorrupt, Err: err}
	}
	return img, nil
}

func decodeConfig(data []byte, source imageformat.Format) (image.Config, error) {
	r := bytes.NewReader(data)
	switch source {
	case imageformat.JPEG:
		return jpeg.DecodeConfig(r)
	case imageformat.PNG:
		return png.DecodeConfig(r)
	case imageformat.GIF:
		return gif.DecodeConfig(r)
	case imageformat.WEBP:
		return webp.DecodeConfig(r)
	case imageformat.TIFF:
		return tiff.DecodeConfig(r)
	case imageformat.BMP:
		return bmp.DecodeConfig(r)
	default:
		return image.Config{}, fmt.Errorf("source format %q", source)
	}
}

// Encode writes img in the target container, normalizing color models the
// target cannot carry.
func (n *Native) Encode(img image.Image, target imageformat.Format) ([]byte, error) {
	if img == nil {
		return nil, &Error{Reason: ReasonEncode, Err: errors.New("nil image")}
	}
	var buf bytes.Buffer
	var err error
	switch target {
	case imageformat.JPEG:
		err = jpeg.Encode(&buf, flattenOnWhite(img), &jpeg.Options{Quality: n.opts.JPEGQuality})
	case imageformat.PNG:
		err = png.Encode(&buf, img)
	case imageformat.GIF:
		err = gif.Encode(&buf, img, &gif.Options{NumColors: 256})
	case imageformat.WEBP:
		err = nativewebp.Encode(&buf, toNRGBA(img), nil)
	case imageformat.TIFF:
		err = tiff.Encode(&buf, img, &tiff.Options{Compression: tiff.Deflate})
	case imageformat.BMP:
		err = bmp.Encode(&buf, img)
	default:
		return nil, &Error{Reason: ReasonUnsupported, Err: fmt.Errorf("target format %q", target)}
	}
	if err != nil {
		return nil, &Error{Reason: ReasonEncode, Err: err}
	}
	return buf.Bytes(), nil
}

// flattenOnWhite composites translucent pixels over white since JPEG has no alpha.
func flattenOnWhite(img image.Image) image.Image {
	if opaque, ok := img.(interface{ Opaque() bool }); ok && opaque.Opaque() {
		return img
	}
	bounds := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), img, bounds.Min, draw.Over)
	return dst
}

// toNRGBA converts paletted, gray and other models for the WebP encoder.
func toNRGBA(img image.Image) image.Image {
	switch img.(type) {
	case *image.NRGBA, *image.RGBA:
		return img
	}
	bounds := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(dst, dst.Bounds(), img, bounds.Min, draw.Src)
	return dst
}
