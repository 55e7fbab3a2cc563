package service

import (
	"bytes"
	"image"

	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"

	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"
)

// Enhancement strength bounds. Values outside the range are clamped,
// and the applied value is echoed back to the caller.
// DefaultEnhancement is the neutral strength applied when a request
// does not ask for one.
const (
	MinEnhancement     = 0.5
	MaxEnhancement     = 2.0
	DefaultEnhancement = 1.0
)

// ClampEnhancement bounds strength to [MinEnhancement, MaxEnhancement].
func ClampEnhancement(v float64) float64 {
	if v < MinEnhancement {
		return MinEnhancement
	}
	if v > MaxEnhancement {
		return MaxEnhancement
	}
	return v
}

// DecodeImage decodes PNG, JPEG or WebP bytes.
func DecodeImage(data []byte) (image.Image, string, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", WrapError(KindCorruptImage, "failed to decode image", err)
	}
	return img, format, nil
}

// DownscaleIfNeeded fits the image inside maxDim on its longest edge.
// Smaller images pass through untouched.
func DownscaleIfNeeded(img image.Image, maxDim int) image.Image {
	b := img.Bounds()
	if b.Dx() <= maxDim && b.Dy() <= maxDim {
		return img
	}
	return resize.Thumbnail(uint(maxDim), uint(maxDim), img, resize.Lanczos3)
}

// EnhanceEdges adjusts subject edges after background removal.
// Strength 1.0 is the identity; above 1.0 sharpens, below softens.
func EnhanceEdges(img image.Image, strength float64) image.Image {
	strength = ClampEnhancement(strength)
	switch {
	case strength > 1.0:
		return imaging.Sharpen(img, strength-1.0)
	case strength < 1.0:
		return imaging.Blur(img, 1.0-strength)
	default:
		return img
	}
}

// EncodePNG serializes the image as PNG, preserving the alpha channel.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, WrapError(KindInternal, "failed to encode output image", err)
	}
	return buf.Bytes(), nil
}
