package fsstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sort"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/spf13/afero"

	"github.com/donmikel/fileupload/applications/server/domain"
	"github.com/donmikel/fileupload/applications/server/interfaces"
	"github.com/donmikel/fileupload/applications/server/layout"
)

const filePerm = 0o644

type storage struct {
	fs        afero.Fs
	layout    layout.Layout
	mkdirMode os.FileMode
	locks     *pathLocks
	log       log.Logger
}

func NewStorage(fsys afero.Fs, l layout.Layout, mkdirMode os.FileMode, logger log.Logger) interfaces.Storage {
	return &storage{
		fs:        fsys,
		layout:    l,
		mkdirMode: mkdirMode,
		locks:     newPathLocks(),
		log:       logger,
	}
}

// validName rejects names that could leave their directory or address hidden entries.
func validName(name string) bool {
	return name != "" &&
		!strings.HasPrefix(name, ".") &&
		!strings.ContainsAny(name, "/\\\x00")
}

func (s *storage) checkNamespace(ns string) error {
	if !s.layout.UserDirs || validName(ns) {
		return nil
	}
	return fmt.Errorf("%w: namespace %q", domain.ErrInvalidName, ns)
}

func (s *storage) Path(ns, name, tag string) string {
	return s.layout.FilePath(ns, name, tag)
}

func (s *storage) URL(ns, name, tag string) string {
	return s.layout.URL(ns, name, tag)
}

// Count returns the number of visible regular files in the namespace directory.
func (s *storage) Count(ctx context.Context, ns string) (int, error) {
	if err := s.checkNamespace(ns); err != nil {
		return 0, err
	}

	infos, err := afero.ReadDir(s.fs, s.layout.Dir(ns, ""))
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("can't read upload dir: %w", err)
	}

	n := 0
	for _, info := range infos {
		if info.Mode().IsRegular() && validName(info.Name()) {
			n++
		}
	}

	return n, nil
}

func (s *storage) Size(ctx context.Context, ns, name string) (uint64, error) {
	info, err := s.fs.Stat(s.Path(ns, name, ""))
	if err != nil {
		return 0, fmt.Errorf("can't stat file: %w", err)
	}
	return domain.FixSize(info.Size()), nil
}

func (s *storage) Stat(ctx context.Context, ns, name string) (domain.StoredFile, error) {
	if err := s.checkNamespace(ns); err != nil {
		return domain.StoredFile{}, err
	}
	if !validName(name) {
		return domain.StoredFile{}, domain.ErrNotFound
	}

	p := s.Path(ns, name, "")
	info, err := s.fs.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return domain.StoredFile{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.StoredFile{}, fmt.Errorf("can't stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return domain.StoredFile{}, domain.ErrNotFound
	}

	stored := domain.StoredFile{
		Name:    name,
		Path:    p,
		Size:    domain.FixSize(info.Size()),
		ModTime: info.ModTime(),
	}

	for _, tag := range s.layout.Versions.Tags() {
		if tag == "" {
			continue
		}
		dp := s.Path(ns, name, tag)
		di, err := s.fs.Stat(dp)
		if err != nil || !di.Mode().IsRegular() {
			continue
		}
		stored.Derivatives = append(stored.Derivatives, domain.Derivative{
			Tag:  tag,
			Path: dp,
			Size: domain.FixSize(di.Size()),
		})
	}

	return stored, nil
}

func (s *storage) List(ctx context.Context, ns string) ([]domain.StoredFile, error) {
	if err := s.checkNamespace(ns); err != nil {
		return nil, err
	}

	infos, err := afero.ReadDir(s.fs, s.layout.Dir(ns, ""))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("can't read upload dir: %w", err)
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Name() < infos[j].Name() })

	files := make([]domain.StoredFile, 0, len(infos))
	for _, info := range infos {
		if !info.Mode().IsRegular() || !validName(info.Name()) {
			continue
		}
		stored, err := s.Stat(ctx, ns, info.Name())
		if err != nil {
			continue
		}
		files = append(files, stored)
	}

	return files, nil
}

func (s *storage) Open(ctx context.Context, ns, name, tag string) (io.ReadCloser, os.FileInfo, error) {
	if err := s.checkNamespace(ns); err != nil {
		return nil, nil, err
	}
	if !validName(name) {
		return nil, nil, domain.ErrNotFound
	}
	if _, ok := s.layout.Versions[tag]; tag != "" && !ok {
		return nil, nil, domain.ErrNotFound
	}

	p := s.Path(ns, name, tag)
	if !s.layout.Contains(p) {
		return nil, nil, domain.ErrNotFound
	}

	f, err := s.fs.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("can't open file: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("can't stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		f.Close()
		return nil, nil, domain.ErrNotFound
	}

	return f, info, nil
}

// Remove deletes a visible regular file inside the managed root together with all its derivatives.
func (s *storage) Remove(ctx context.Context, ns, name string) error {
	if err := s.checkNamespace(ns); err != nil || !validName(name) {
		return fmt.Errorf("%w: invalid name %q", domain.ErrDeletionDenied, name)
	}

	p := s.Path(ns, name, "")
	if !s.layout.Contains(p) {
		return fmt.Errorf("%w: %q resolves outside the upload root", domain.ErrDeletionDenied, name)
	}

	unlock := s.locks.lock(p)
	defer unlock()

	info, err := s.fs.Stat(p)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrDeletionDenied, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%w: %q is not a regular file", domain.ErrDeletionDenied, name)
	}

	if err = s.fs.Remove(p); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrDeletionDenied, err)
	}

	s.removeDerivatives(ns, name)

	level.Info(s.log).Log("msg", "file deleted",
		"path", p,
	)

	return nil
}

// Discard drops an artifact the upload pipeline rejected.
func (s *storage) Discard(ctx context.Context, ns, name string) error {
	if !validName(name) {
		return fmt.Errorf("%w: %q", domain.ErrInvalidName, name)
	}

	p := s.Path(ns, name, "")
	unlock := s.locks.lock(p)
	defer unlock()

	if err := s.fs.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("can't remove file: %w", err)
	}

	s.removeDerivatives(ns, name)

	level.Debug(s.log).Log("msg", "file discarded",
		"path", p,
	)

	return nil
}

func (s *storage) removeDerivatives(ns, name string) {
	for tag := range s.layout.Versions {
		if tag == "" {
			continue
		}
		dp := s.Path(ns, name, tag)
		info, err := s.fs.Stat(dp)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		if err = s.fs.Remove(dp); err != nil {
			level.Warn(s.log).Log("msg", "can't remove derivative",
				"path", dp,
				"err", err,
			)
		}
	}
}
