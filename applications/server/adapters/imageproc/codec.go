package imageproc

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"golang.org/x/image/draw"

	"github.com/donmikel/fileupload/applications/server/domain"
)

const defaultJPEGQuality = 75

var errUnsupportedFormat = errors.New("unsupported image format")

// source is a decoded image ready for scaling.
type source struct {
	img      image.Image
	format   string
	oriented bool
}

// formatFromName picks the output codec from a file extension.
func formatFromName(name string) (string, error) {
	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(name), ".")) {
	case "jpg", "jpeg":
		return "jpeg", nil
	case "png":
		return "png", nil
	case "gif":
		return "gif", nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, name)
	}
}

// decodeFile decodes path. Animated GIFs are coalesced onto their logical screen
// and only the first frame is kept.
func decodeFile(fsys afero.Fs, path string) (image.Image, string, []byte, error) {
	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		return nil, "", nil, fmt.Errorf("can't read image: %w", err)
	}

	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", nil, fmt.Errorf("can't decode image config: %w", err)
	}

	if format == "gif" {
		img, err := coalesceGIF(bytes.NewReader(data))
		return img, format, data, err
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", nil, fmt.Errorf("can't decode image: %w", err)
	}

	return img, format, data, nil
}

func coalesceGIF(r io.Reader) (image.Image, error) {
	g, err := gif.DecodeAll(r)
	if err != nil {
		return nil, fmt.Errorf("can't decode gif: %w", err)
	}
	if len(g.Image) == 0 {
		return nil, errors.New("gif has no frames")
	}

	w, h := g.Config.Width, g.Config.Height
	if w == 0 || h == 0 {
		b := g.Image[0].Bounds()
		w, h = b.Max.X, b.Max.Y
	}

	canvas := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(color.Transparent), image.Point{}, draw.Src)
	frame := g.Image[0]
	draw.Draw(canvas, frame.Bounds(), frame, frame.Bounds().Min, draw.Over)

	return canvas, nil
}

func pngLevel(q int) png.CompressionLevel {
	switch {
	case q == 0:
		return png.DefaultCompression
	case q <= 3:
		return png.BestSpeed
	case q <= 6:
		return png.DefaultCompression
	default:
		return png.BestCompression
	}
}

func jpegQuality(v domain.Version) int {
	if v.JPEGQuality > 0 {
		return v.JPEGQuality
	}
	return defaultJPEGQuality
}

func encode(w io.Writer, img image.Image, format string, v domain.Version) error {
	switch format {
	case "jpeg":
		return jpeg.Encode(w, img, &jpeg.Options{Quality: jpegQuality(v)})
	case "png":
		enc := png.Encoder{CompressionLevel: pngLevel(v.PNGQuality)}
		return enc.Encode(w, img)
	case "gif":
		return gif.Encode(w, img, nil)
	default:
		return fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

// writeAtomic writes through a hidden temp file in the destination directory and
// renames it into place, so a failed encode never truncates dst.
func writeAtomic(fsys afero.Fs, dst string, write func(io.Writer) error) error {
	tmp, err := afero.TempFile(fsys, filepath.Dir(dst), ".derive-*"+filepath.Ext(dst))
	if err != nil {
		return fmt.Errorf("can't create temp file: %w", err)
	}
	tmpName := tmp.Name()

	err = write(tmp)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		fsys.Remove(tmpName)
		return err
	}

	if err = fsys.Rename(tmpName, dst); err != nil {
		fsys.Remove(tmpName)
		return fmt.Errorf("can't move derivative into place: %w", err)
	}

	return nil
}

func copyFile(fsys afero.Fs, src, dst string) error {
	in, err := fsys.Open(src)
	if err != nil {
		return fmt.Errorf("can't open source: %w", err)
	}
	defer in.Close()

	return writeAtomic(fsys, dst, func(w io.Writer) error {
		_, err := io.Copy(w, in)
		return err
	})
}
