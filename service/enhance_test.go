package service

import (
	"bytes"
	"image"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClampEnhancement(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{1.0, 1.0},
		{0.5, 0.5},
		{2.0, 2.0},
		{0.0, 0.5},
		{-3.0, 0.5},
		{2.1, 2.0},
		{100, 2.0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClampEnhancement(tt.in))
	}
}

func TestDecodeImageFormats(t *testing.T) {
	img, format, err := DecodeImage(testPNG(t, 3, 3))
	require.NoError(t, err)
	assert.Equal(t, "png", format)
	assert.Equal(t, 3, img.Bounds().Dx())

	img, format, err = DecodeImage(testJPEG(t, 5, 4))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 4, img.Bounds().Dy())
}

func TestDecodeImageCorrupt(t *testing.T) {
	_, _, err := DecodeImage([]byte("definitely not an image"))
	require.Error(t, err)
	assert.Equal(t, KindCorruptImage, KindOf(err))
}

func TestDownscaleIfNeeded(t *testing.T) {
	small := image.NewNRGBA(image.Rect(0, 0, 100, 50))
	got := DownscaleIfNeeded(small, 200)
	assert.Equal(t, small.Bounds(), got.Bounds(), "small images pass through")

	wide := image.NewNRGBA(image.Rect(0, 0, 400, 100))
	got = DownscaleIfNeeded(wide, 200)
	assert.Equal(t, 200, got.Bounds().Dx())
	assert.Equal(t, 50, got.Bounds().Dy(), "aspect ratio preserved")
}

func TestEnhanceEdgesIdentity(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 10, 10))
	got := EnhanceEdges(img, 1.0)
	assert.Equal(t, image.Image(img), got, "strength 1.0 is a no-op")
}

func TestEnhanceEdgesResizesNothing(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 16, 16))
	for _, strength := range []float64{0.5, 1.5, 2.0, 99} {
		got := EnhanceEdges(img, strength)
		assert.Equal(t, img.Bounds().Size(), got.Bounds().Size())
	}
}

func TestEncodePNGPreservesAlpha(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	img.Pix[3] = 0   // fully transparent pixel
	img.Pix[7] = 255 // fully opaque pixel

	data, err := EncodePNG(img)
	require.NoError(t, err)

	decoded, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)

	_, _, _, a := decoded.At(0, 0).RGBA()
	assert.Zero(t, a, "transparent pixel must survive encoding")
	_, _, _, a = decoded.At(1, 0).RGBA()
	assert.Equal(t, uint32(0xffff), a)
}
