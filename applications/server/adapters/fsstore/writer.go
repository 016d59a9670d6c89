package fsstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/go-kit/log/level"
	"github.com/spf13/afero"

	"github.com/donmikel/fileupload/applications/server/domain"
)

// Write stores the bytes of req.Body and returns the resulting on-disk size.
//
// A fresh name is claimed with exclusive creation and domain.ErrNameTaken is
// returned when another writer got there first. A continuation appends when the
// declared total still exceeds the current size and overwrites otherwise.
func (s *storage) Write(ctx context.Context, req domain.WriteRequest) (uint64, error) {
	if err := s.checkNamespace(req.Namespace); err != nil {
		return 0, err
	}
	if !validName(req.Name) {
		return 0, fmt.Errorf("%w: %q", domain.ErrInvalidName, req.Name)
	}

	dir := s.layout.Dir(req.Namespace, "")
	if err := s.fs.MkdirAll(dir, s.mkdirMode); err != nil {
		return 0, fmt.Errorf("can't create upload dir: %w", err)
	}

	p := s.Path(req.Namespace, req.Name, "")
	unlock := s.locks.lock(p)
	defer unlock()

	var (
		f          afero.File
		fresh      bool
		appendMode bool
		err        error
	)

	if req.Continuation {
		info, statErr := s.fs.Stat(p)
		switch {
		case errors.Is(statErr, fs.ErrNotExist):
			fresh = true
		case statErr != nil:
			return 0, fmt.Errorf("can't stat file: %w", statErr)
		default:
			appendMode = req.Ranged && req.Total > domain.FixSize(info.Size())
		}
	} else {
		fresh = true
	}

	switch {
	case fresh:
		f, err = s.fs.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, filePerm)
		if errors.Is(err, fs.ErrExist) {
			return 0, domain.ErrNameTaken
		}
	case appendMode:
		f, err = s.fs.OpenFile(p, os.O_WRONLY|os.O_APPEND, filePerm)
	default:
		f, err = s.fs.OpenFile(p, os.O_WRONLY|os.O_TRUNC, filePerm)
	}
	if err != nil {
		return 0, fmt.Errorf("can't open file for writing: %w", err)
	}

	written, err := io.Copy(f, req.Body)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		if fresh {
			s.fs.Remove(p)
		}
		return 0, fmt.Errorf("can't write file: %w", err)
	}

	info, err := s.fs.Stat(p)
	if err != nil {
		return 0, fmt.Errorf("can't stat written file: %w", err)
	}
	size := domain.FixSize(info.Size())

	level.Debug(s.log).Log("msg", "file chunk written",
		"path", p,
		"append", appendMode,
		"written", humanize.Bytes(uint64(written)),
		"size", humanize.Bytes(size),
		"total", humanize.Bytes(req.Total),
	)

	return size, nil
}
