package detector

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"  // register GIF decoder
	_ "image/jpeg" // register JPEG decoder
	_ "image/png"  // register PNG decoder

	"github.com/nfnt/resize"

	"github.com/tphakala/foodnet-go/internal/errors"
)

// ErrInvalidImage is returned when image bytes cannot be decoded.
var ErrInvalidImage = errors.NewStd("invalid image")

// DecodeImage decodes JPEG, PNG or GIF bytes.
func DecodeImage(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, errors.New(ErrInvalidImage).
			Category(errors.CategoryImageDecode).
			Context("size", 0).
			Build()
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errors.New(fmt.Errorf("%w: %w", ErrInvalidImage, err)).
			Category(errors.CategoryImageDecode).
			Context("size", len(data)).
			Build()
	}

	bounds := img.Bounds()
	if bounds.Dx() == 0 || bounds.Dy() == 0 {
		return nil, errors.New(ErrInvalidImage).
			Category(errors.CategoryImageDecode).
			Context("format", format).
			Build()
	}

	return img, nil
}

// Preprocess resizes img to size x size and returns its RGB channels scaled
// to [0,1], laid out NHWC with batch 1.
func Preprocess(img image.Image, size int) []float32 {
	resized := resize.Resize(uint(size), uint(size), img, resize.Bicubic) //nolint:gosec // G115: size validated positive by config
	bounds := resized.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	out := make([]float32, h*w*3)
	for y := range h {
		for x := range w {
			r, g, b, _ := resized.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			base := (y*w + x) * 3
			out[base+0] = float32(r>>8) / 255.0
			out[base+1] = float32(g>>8) / 255.0
			out[base+2] = float32(b>>8) / 255.0
		}
	}
	return out
}
