package imageproc

import (
	"image"
	"io"

	"github.com/spf13/afero"
	"golang.org/x/image/draw"

	"github.com/donmikel/fileupload/applications/server/domain"
)

// NewRasterBackend scales with the standard codecs and x/image/draw.
func NewRasterBackend(fsys afero.Fs) Backend {
	return &inProcess{name: "raster", fs: fsys, ops: rasterOps{}}
}

type rasterOps struct{}

func (rasterOps) orient(img image.Image, orientation int) image.Image {
	m, ok := rasterOrientations[orientation]
	if !ok {
		return img
	}
	return m.apply(img)
}

func (rasterOps) resize(img image.Image, width, height int) image.Image {
	dst := image.NewNRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

func (r rasterOps) fill(img image.Image, width, height int) image.Image {
	b := img.Bounds()
	cw, ch := coverSize(b.Dx(), b.Dy(), width, height)
	cover := r.resize(img, cw, ch)

	dst := image.NewNRGBA(image.Rect(0, 0, width, height))
	draw.Draw(dst, dst.Bounds(), cover, image.Pt((cw-width)/2, (ch-height)/2), draw.Src)
	return dst
}

func (rasterOps) encode(w io.Writer, img image.Image, format string, v domain.Version) error {
	return encode(w, img, format, v)
}
