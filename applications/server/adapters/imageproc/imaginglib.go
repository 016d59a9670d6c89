package imageproc

import (
	"fmt"
	"image"
	"io"

	"github.com/disintegration/imaging"
	"github.com/spf13/afero"

	"github.com/donmikel/fileupload/applications/server/domain"
)

// NewImagingBackend scales with github.com/disintegration/imaging using a Lanczos filter.
func NewImagingBackend(fsys afero.Fs) Backend {
	return &inProcess{name: "imaging", fs: fsys, ops: imagingOps{}}
}

type imagingOps struct{}

func (imagingOps) orient(img image.Image, orientation int) image.Image {
	fix, ok := imagingOrientations[orientation]
	if !ok {
		return img
	}
	return fix(img)
}

func (imagingOps) resize(img image.Image, width, height int) image.Image {
	return imaging.Resize(img, width, height, imaging.Lanczos)
}

func (imagingOps) fill(img image.Image, width, height int) image.Image {
	return imaging.Fill(img, width, height, imaging.Center, imaging.Lanczos)
}

func (imagingOps) encode(w io.Writer, img image.Image, format string, v domain.Version) error {
	var f imaging.Format
	switch format {
	case "jpeg":
		f = imaging.JPEG
	case "png":
		f = imaging.PNG
	case "gif":
		f = imaging.GIF
	default:
		return fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}

	return imaging.Encode(w, img, f,
		imaging.JPEGQuality(jpegQuality(v)),
		imaging.PNGCompressionLevel(pngLevel(v.PNGQuality)),
	)
}
