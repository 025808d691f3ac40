package extractor

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// ErrEmptyImage is returned for an empty frame.
var ErrEmptyImage = errors.New("empty image")

// fitImage downscales data to fit within maxSize on its longer side and
// returns the bytes to upload with the applied scale factor. Frames that
// already fit, or whose format cannot be decoded here, are returned as-is.
func fitImage(data []byte, maxSize int) ([]byte, float64, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil || (cfg.Width <= maxSize && cfg.Height <= maxSize) {
		return data, 1, nil //nolint:nilerr // the embedding server decides what it can read
	}
	resized, scale, err := ResizeImage(data, maxSize)
	if err != nil {
		return nil, 0, err
	}
	return resized, scale, nil
}

// ResizeImage resizes an image to fit within maxSize (width or height) while
// keeping the aspect ratio, and returns the JPEG bytes and the scale factor.
func ResizeImage(data []byte, maxSize int) ([]byte, float64, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	if width <= maxSize && height <= maxSize {
		return data, 1, nil
	}

	var newWidth, newHeight int
	var scale float64
	if width > height {
		scale = float64(maxSize) / float64(width)
		newWidth = maxSize
		newHeight = max(1, int(float64(height)*scale))
	} else {
		scale = float64(maxSize) / float64(height)
		newHeight = maxSize
		newWidth = max(1, int(float64(width)*scale))
	}

	resized := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
	draw.CatmullRom.Scale(resized, resized.Bounds(), img, bounds, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: 90}); err != nil {
		return nil, 0, fmt.Errorf("failed to encode resized image: %w", err)
	}
	return buf.Bytes(), scale, nil
}
