package imageproc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"math"

	"github.com/spf13/afero"

	"github.com/donmikel/fileupload/applications/server/domain"
)

// Backend produces one derivative of a source image.
type Backend interface {
	Name() string
	// Ping reads the image dimensions without decoding pixel data.
	Ping(ctx context.Context, path string) (width, height int, err error)
	Scale(ctx context.Context, src, dst string, v domain.Version) error
}

// pixelOps are the operations an in-process backend needs from its image library.
type pixelOps interface {
	orient(img image.Image, orientation int) image.Image
	resize(img image.Image, width, height int) image.Image
	fill(img image.Image, width, height int) image.Image
	encode(w io.Writer, img image.Image, format string, v domain.Version) error
}

// inProcess scales images inside the process; ops selects the image library.
type inProcess struct {
	name string
	fs   afero.Fs
	ops  pixelOps
}

type decoded struct {
	img         image.Image
	format      string
	orientation int
}

func (p *inProcess) Name() string {
	return p.name
}

func (p *inProcess) Ping(ctx context.Context, path string) (int, int, error) {
	f, err := p.fs.Open(path)
	if err != nil {
		return 0, 0, fmt.Errorf("can't open image: %w", err)
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, fmt.Errorf("can't read image header: %w", err)
	}

	return cfg.Width, cfg.Height, nil
}

func (p *inProcess) load(ctx context.Context, path string) (*decoded, error) {
	v, err := sessionFrom(ctx).remember(cacheKey(path, "decoded"), func() (interface{}, error) {
		img, format, data, err := decodeFile(p.fs, path)
		if err != nil {
			return nil, err
		}
		d := &decoded{img: img, format: format}
		if format == "jpeg" {
			d.orientation = readOrientation(bytes.NewReader(data))
		}
		return d, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*decoded), nil
}

func (p *inProcess) source(ctx context.Context, path string, autoOrient bool) (source, error) {
	d, err := p.load(ctx, path)
	if err != nil {
		return source{}, err
	}

	if !autoOrient || d.orientation < 2 {
		return source{img: d.img, format: d.format}, nil
	}

	v, err := sessionFrom(ctx).remember(cacheKey(path, "oriented"), func() (interface{}, error) {
		return p.ops.orient(d.img, d.orientation), nil
	})
	if err != nil {
		return source{}, err
	}

	return source{img: v.(image.Image), format: d.format, oriented: true}, nil
}

func (p *inProcess) Scale(ctx context.Context, src, dst string, v domain.Version) error {
	format, err := formatFromName(dst)
	if err != nil {
		return err
	}

	s, err := p.source(ctx, src, v.AutoOrient)
	if err != nil {
		return err
	}

	b := s.img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return errors.New("image has no pixels")
	}

	maxW, maxH := w, h
	if v.MaxWidth > 0 {
		maxW = v.MaxWidth
	}
	if v.MaxHeight > 0 {
		maxH = v.MaxHeight
	}

	scale := math.Min(float64(maxW)/float64(w), float64(maxH)/float64(h))
	if scale >= 1 {
		if s.oriented {
			return p.write(dst, s.img, format, v)
		}
		if src != dst {
			return copyFile(p.fs, src, dst)
		}
		return nil
	}

	var out image.Image
	if v.Crop {
		out = p.ops.fill(s.img, maxW, maxH)
	} else {
		out = p.ops.resize(s.img, scaled(w, scale), scaled(h, scale))
	}

	return p.write(dst, out, format, v)
}

func (p *inProcess) write(dst string, img image.Image, format string, v domain.Version) error {
	return writeAtomic(p.fs, dst, func(w io.Writer) error {
		if err := p.ops.encode(w, img, format, v); err != nil {
			return fmt.Errorf("can't encode %s: %w", format, err)
		}
		return nil
	})
}

func scaled(n int, scale float64) int {
	v := int(math.Round(float64(n) * scale))
	if v < 1 {
		return 1
	}
	return v
}

// coverSize returns the smallest size with the source aspect ratio that covers a w x h box.
func coverSize(sw, sh, w, h int) (int, int) {
	if float64(sw)/float64(sh) >= float64(w)/float64(h) {
		cw := int(math.Round(float64(sw) * float64(h) / float64(sh)))
		if cw < w {
			cw = w
		}
		return cw, h
	}
	ch := int(math.Round(float64(sh) * float64(w) / float64(sw)))
	if ch < h {
		ch = h
	}
	return w, ch
}
