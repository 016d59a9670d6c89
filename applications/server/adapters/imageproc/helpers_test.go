package imageproc

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/donmikel/fileupload/applications/server/domain"
)

func gradient(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 255 / w), G: uint8(y * 255 / h), B: uint8((x + y) % 256), A: 255})
		}
	}
	return img
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, gradient(w, h)))
	return buf.Bytes()
}

func jpegBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, gradient(w, h), &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

// withOrientation inserts a minimal EXIF segment carrying the orientation tag after the SOI marker.
func withOrientation(data []byte, orientation int) []byte {
	tiff := []byte{
		'M', 'M', 0x00, 0x2A, 0x00, 0x00, 0x00, 0x08,
		0x00, 0x01,
		0x01, 0x12, 0x00, 0x03, 0x00, 0x00, 0x00, 0x01, 0x00, byte(orientation), 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00,
	}
	payload := append([]byte("Exif\x00\x00"), tiff...)
	segLen := len(payload) + 2

	out := make([]byte, 0, len(data)+segLen+2)
	out = append(out, data[:2]...)
	out = append(out, 0xFF, 0xE1, byte(segLen>>8), byte(segLen))
	out = append(out, payload...)
	return append(out, data[2:]...)
}

// gifBytes builds a two frame animation whose first frame covers only part of the screen.
func gifBytes(t *testing.T) []byte {
	t.Helper()
	palette := color.Palette{color.Transparent, color.NRGBA{R: 255, A: 255}, color.NRGBA{B: 255, A: 255}}

	first := image.NewPaletted(image.Rect(10, 10, 30, 20), palette)
	second := image.NewPaletted(image.Rect(0, 0, 60, 40), palette)
	for i := range first.Pix {
		first.Pix[i] = 1
	}
	for i := range second.Pix {
		second.Pix[i] = 2
	}

	var buf bytes.Buffer
	require.NoError(t, gif.EncodeAll(&buf, &gif.GIF{
		Image:  []*image.Paletted{first, second},
		Delay:  []int{10, 10},
		Config: image.Config{ColorModel: palette, Width: 60, Height: 40},
	}))
	return buf.Bytes()
}

func imageSize(t *testing.T, fsys afero.Fs, path string) (int, int) {
	t.Helper()
	f, err := fsys.Open(path)
	require.NoError(t, err)
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	require.NoError(t, err)
	return cfg.Width, cfg.Height
}

// flakyBackend fails for destinations inside dirs containing failIn, and for every Ping.
type flakyBackend struct {
	Backend
	failIn string
	pings  int
}

func (f *flakyBackend) Ping(ctx context.Context, path string) (int, int, error) {
	f.pings++
	return 0, 0, errors.New("ping unavailable")
}

func (f *flakyBackend) Scale(ctx context.Context, src, dst string, v domain.Version) error {
	if f.failIn != "" && strings.Contains(dst, "/"+f.failIn+"/") {
		return errors.New("scaling failed")
	}
	return f.Backend.Scale(ctx, src, dst, v)
}
