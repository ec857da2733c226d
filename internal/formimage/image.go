// Package formimage turns uploaded bytes into an image payload the hosted
// model accepts.
package formimage

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"

	_ "image/gif"
	_ "image/jpeg"

	"github.com/gabriel-vasile/mimetype"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ErrDecode reports bytes that are not a decodable raster image.
var ErrDecode = errors.New("invalid image")

// passthrough lists formats the model accepts without conversion.
var passthrough = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/webp": true,
}

// Image is the payload for one request. It is never cached.
type Image struct {
	Data     []byte
	MIMEType string
	Width    int
	Height   int
}

// DefaultMaxPixels matches the decompression bomb threshold of Pillow.
const DefaultMaxPixels = 1024 * 1024 * 1024 / 4 / 3

// Decode validates data as an image. PNG, JPEG and WebP are kept as uploaded;
// other decodable formats are re-encoded as PNG. Images whose header claims
// more than maxPixels pixels are rejected before any pixel buffer is allocated.
func Decode(data []byte, maxPixels int64) (*Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty upload", ErrDecode)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if pixels := int64(cfg.Width) * int64(cfg.Height); pixels > maxPixels {
		return nil, fmt.Errorf("%w: %dx%d image exceeds the limit of %d pixels", ErrDecode, cfg.Width, cfg.Height, maxPixels)
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	detected := mimetype.Detect(data).String()
	if passthrough[detected] {
		bounds := img.Bounds()
		return &Image{Data: data, MIMEType: detected, Width: bounds.Dx(), Height: bounds.Dy()}, nil
	}

	converted, err := FromBitmap(img)
	if err != nil {
		return nil, fmt.Errorf("convert %s image: %w", format, err)
	}
	return converted, nil
}

// FromBitmap encodes an already decoded bitmap as PNG.
func FromBitmap(img image.Image) (*Image, error) {
	if img == nil {
		return nil, fmt.Errorf("%w: nil bitmap", ErrDecode)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	bounds := img.Bounds()
	return &Image{Data: buf.Bytes(), MIMEType: "image/png", Width: bounds.Dx(), Height: bounds.Dy()}, nil
}
