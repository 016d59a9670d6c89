package imageproc

import (
	"image"
	"io"

	"github.com/disintegration/imaging"
	"github.com/rwcarlsen/goexif/exif"
	"golang.org/x/image/draw"
)

// readOrientation returns the EXIF orientation tag (1..8), or 0 when there is none.
func readOrientation(r io.Reader) int {
	x, err := exif.Decode(r)
	if err != nil {
		return 0
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 0
	}
	v, err := tag.Int(0)
	if err != nil || v < 1 || v > 8 {
		return 0
	}
	return v
}

// swapsAxes reports whether orientation o turns the stored image by 90 or 270 degrees.
func swapsAxes(o int) bool {
	return o >= 5 && o <= 8
}

// remap describes where a destination pixel (x, y) is read from: axes swapped
// first, then mirrored along the source width and height.
type remap struct {
	swap, mirrorX, mirrorY bool
}

var rasterOrientations = map[int]remap{
	2: {mirrorX: true},
	3: {mirrorX: true, mirrorY: true},
	4: {mirrorY: true},
	5: {swap: true},
	6: {swap: true, mirrorY: true},
	7: {swap: true, mirrorX: true, mirrorY: true},
	8: {swap: true, mirrorX: true},
}

var imagingOrientations = map[int]func(image.Image) *image.NRGBA{
	2: imaging.FlipH,
	3: imaging.Rotate180,
	4: imaging.FlipV,
	5: imaging.Transpose,
	6: imaging.Rotate270,
	7: imaging.Transverse,
	8: imaging.Rotate90,
}

func (m remap) apply(img image.Image) *image.NRGBA {
	b := img.Bounds()
	src := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(src, src.Bounds(), img, b.Min, draw.Src)

	w, h := b.Dx(), b.Dy()
	dw, dh := w, h
	if m.swap {
		dw, dh = h, w
	}
	dst := image.NewNRGBA(image.Rect(0, 0, dw, dh))

	for y := 0; y < dh; y++ {
		for x := 0; x < dw; x++ {
			sx, sy := x, y
			if m.swap {
				sx, sy = y, x
			}
			if m.mirrorX {
				sx = w - 1 - sx
			}
			if m.mirrorY {
				sy = h - 1 - sy
			}
			si := src.PixOffset(sx, sy)
			di := dst.PixOffset(x, y)
			copy(dst.Pix[di:di+4], src.Pix[si:si+4])
		}
	}

	return dst
}
