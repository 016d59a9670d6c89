// Package imageproc derives resized and re-oriented variants of uploaded images.
//
// Three interchangeable backends implement Backend: "raster" (standard codecs
// with golang.org/x/image/draw), "imaging" (github.com/disintegration/imaging)
// and "convert" (the ImageMagick binaries run as subprocesses). The Engine
// applies every configured version to a stored file using one of them.
package imageproc

import (
	"context"
	"fmt"
	"os"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/spf13/afero"

	"github.com/donmikel/fileupload/applications/server/config"
	"github.com/donmikel/fileupload/applications/server/domain"
	"github.com/donmikel/fileupload/applications/server/interfaces"
	"github.com/donmikel/fileupload/applications/server/layout"
)

// originalLabel names the canonical version in failure reports.
const originalLabel = "original"

var imageTypes = []string{"image/jpeg", "image/png", "image/gif"}

type Engine struct {
	fs        afero.Fs
	layout    layout.Layout
	backend   Backend
	mkdirMode os.FileMode
	log       log.Logger
}

// NewBackend builds the backend named by cfg.ImageLibrary.
func NewBackend(fsys afero.Fs, cfg config.Upload, logger log.Logger) (Backend, error) {
	switch cfg.ImageLibrary {
	case config.LibraryRaster:
		return NewRasterBackend(fsys), nil
	case config.LibraryImaging:
		return NewImagingBackend(fsys), nil
	case config.LibraryConvert:
		return NewConvertBackend(fsys, cfg.ConvertBin, cfg.IdentifyBin, cfg.ConvertParams, cfg.ConvertTimeout, logger)
	default:
		return nil, fmt.Errorf("unknown image library %q", cfg.ImageLibrary)
	}
}

func NewEngine(fsys afero.Fs, l layout.Layout, backend Backend, mkdirMode os.FileMode, logger log.Logger) interfaces.ImageEngine {
	return &Engine{
		fs:        fsys,
		layout:    l,
		backend:   backend,
		mkdirMode: mkdirMode,
		log:       logger,
	}
}

func (e *Engine) WithSession(ctx context.Context) (context.Context, func()) {
	s := newSession()
	return context.WithValue(ctx, sessionKey{}, s), s.Close
}

// IsImage sniffs the content of path for one of the supported image codecs.
func (e *Engine) IsImage(path string) bool {
	f, err := e.fs.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	mtype, err := mimetype.DetectReader(f)
	if err != nil {
		return false
	}

	return mimetype.EqualsAny(mtype.String(), imageTypes...)
}

func (e *Engine) Orientation(path string) int {
	f, err := e.fs.Open(path)
	if err != nil {
		return 0
	}
	defer f.Close()

	return readOrientation(f)
}

// Dimensions pings the backend and falls back to a full decode when that fails.
func (e *Engine) Dimensions(ctx context.Context, path string) (int, int, error) {
	w, h, err := e.backend.Ping(ctx, path)
	if err == nil {
		return w, h, nil
	}

	level.Debug(e.log).Log("msg", "image ping failed, decoding",
		"backend", e.backend.Name(),
		"path", path,
		"err", err,
	)

	img, _, _, err := decodeFile(e.fs, path)
	if err != nil {
		return 0, 0, err
	}
	b := img.Bounds()

	return b.Dx(), b.Dy(), nil
}

// Derive applies every configured version to the stored file. A failing version
// does not stop the others.
func (e *Engine) Derive(ctx context.Context, ns, name string) domain.DeriveResult {
	var res domain.DeriveResult
	src := e.layout.FilePath(ns, name, "")

	for _, tag := range e.layout.Versions.Tags() {
		v := e.layout.Versions[tag]
		label := tag
		if label == "" {
			label = originalLabel
		}

		if v.MinWidth > 0 || v.MinHeight > 0 {
			small, err := e.belowMinimum(ctx, src, v)
			if err != nil {
				level.Warn(e.log).Log("msg", "can't read image dimensions", "path", src, "version", label, "err", err)
				res.Failed = append(res.Failed, label)
				continue
			}
			if small {
				level.Debug(e.log).Log("msg", "image below version minimum, skipped", "path", src, "version", label)
				continue
			}
		}

		dst := src
		if tag != "" {
			if err := e.fs.MkdirAll(e.layout.Dir(ns, tag), e.mkdirMode); err != nil {
				level.Error(e.log).Log("msg", "can't create version dir", "version", label, "err", err)
				res.Failed = append(res.Failed, label)
				continue
			}
			dst = e.layout.FilePath(ns, name, tag)
		}

		if err := e.backend.Scale(ctx, src, dst, v); err != nil {
			level.Error(e.log).Log("msg", "can't create image version",
				"backend", e.backend.Name(),
				"path", src,
				"version", label,
				"err", err,
			)
			res.Failed = append(res.Failed, label)
			continue
		}

		if dst == src {
			sessionFrom(ctx).forget(src)
		}
		if tag != "" {
			res.Produced = append(res.Produced, tag)
		}
	}

	return res
}

func (e *Engine) belowMinimum(ctx context.Context, path string, v domain.Version) (bool, error) {
	w, h, err := e.Dimensions(ctx, path)
	if err != nil {
		return false, err
	}
	if v.AutoOrient && swapsAxes(e.Orientation(path)) {
		w, h = h, w
	}
	return w < v.MinWidth || h < v.MinHeight, nil
}
