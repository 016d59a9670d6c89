package services

import (
	"context"
	"fmt"

	"github.com/donmikel/fileupload/applications/server/config"
	"github.com/donmikel/fileupload/applications/server/domain"
	"github.com/donmikel/fileupload/applications/server/interfaces"
)

// candidate is what the pre-write checks know about one incoming file.
type candidate struct {
	Namespace      string
	Name           string
	TransportError int
	// ContentLength is the size of the whole request, 0 if unknown.
	ContentLength int64
	// Received is the number of bytes the transport buffered, -1 if unknown.
	Received int64
	// Declared is the final size the client announced for the file.
	Declared     uint64
	Continuation bool
}

// Validator runs the ordered upload checks. The first failing check wins.
type Validator struct {
	cfg      config.Upload
	patterns config.Patterns
	storage  interfaces.Storage
	images   interfaces.ImageEngine
}

func NewValidator(cfg config.Upload, patterns config.Patterns, storage interfaces.Storage, images interfaces.ImageEngine) *Validator {
	return &Validator{
		cfg:      cfg,
		patterns: patterns,
		storage:  storage,
		images:   images,
	}
}

// PreWrite runs the checks that do not need the file bytes: transport error,
// request size, name pattern, file size bounds and the file count cap.
func (v *Validator) PreWrite(ctx context.Context, c candidate) error {
	if c.TransportError != 0 {
		return domain.TransportError(c.TransportError)
	}

	if limit := uint64(v.cfg.MaxRequestSize); limit > 0 && c.ContentLength > 0 && uint64(c.ContentLength) > limit {
		return domain.ErrPostMaxSize
	}

	if !v.patterns.Accept.MatchString(c.Name) {
		return domain.ErrAcceptFileTypes
	}

	size := c.Declared
	if c.Received >= 0 {
		size = domain.FixSize(c.Received)
	}
	if limit := uint64(v.cfg.MaxFileSize); limit > 0 && (size > limit || c.Declared > limit) {
		return domain.ErrMaxFileSize
	}
	if limit := uint64(v.cfg.MinFileSize); limit > 0 && size < limit {
		return domain.ErrMinFileSize
	}

	if v.cfg.MaxNumberOfFiles > 0 && !c.Continuation {
		n, err := v.storage.Count(ctx, c.Namespace)
		if err != nil {
			return fmt.Errorf("can't count stored files: %w", err)
		}
		if n >= v.cfg.MaxNumberOfFiles {
			return domain.ErrMaxNumberOfFiles
		}
	}

	return nil
}

func (v *Validator) checksDimensions() bool {
	return v.cfg.MaxWidth > 0 || v.cfg.MaxHeight > 0 || v.cfg.MinWidth > 0 || v.cfg.MinHeight > 0
}

// Dimensions checks the stored image at path against the configured bounds.
// An image whose dimensions can't be read is rejected.
func (v *Validator) Dimensions(ctx context.Context, name, path string) error {
	if !v.patterns.Image.MatchString(name) || !v.checksDimensions() {
		return nil
	}

	w, h, err := v.images.Dimensions(ctx, path)
	if err != nil {
		return domain.ErrUnreadableImage
	}

	if v.cfg.ImageVersions[""].AutoOrient && v.images.Orientation(path) >= 5 {
		w, h = h, w
	}

	switch {
	case v.cfg.MaxWidth > 0 && w > v.cfg.MaxWidth:
		return domain.ErrMaxWidth
	case v.cfg.MaxHeight > 0 && h > v.cfg.MaxHeight:
		return domain.ErrMaxHeight
	case v.cfg.MinWidth > 0 && w < v.cfg.MinWidth:
		return domain.ErrMinWidth
	case v.cfg.MinHeight > 0 && h < v.cfg.MinHeight:
		return domain.ErrMinHeight
	}

	return nil
}
