package services

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/donmikel/fileupload/applications/server"
	"github.com/donmikel/fileupload/applications/server/config"
	"github.com/donmikel/fileupload/applications/server/domain"
	"github.com/donmikel/fileupload/applications/server/interfaces"
)

const (
	// maxClaimAttempts bounds how often a name is re-resolved after a concurrent writer claimed it.
	maxClaimAttempts = 8
	// sniffLen is how much of a streamed body is buffered to detect its image type.
	sniffLen = 3072

	octetStream = "application/octet-stream"
)

type service struct {
	cfg       config.Upload
	patterns  config.Patterns
	storage   interfaces.Storage
	images    interfaces.ImageEngine
	validator *Validator
	// namespaces keeps the file count cap exact under parallel uploads.
	namespaces *namespaceLocks
	// sources holds the temp files spooled by the transport.
	sources afero.Fs
	log     log.Logger
}

func NewService(
	cfg config.Upload,
	patterns config.Patterns,
	storage interfaces.Storage,
	images interfaces.ImageEngine,
	sources afero.Fs,
	logger log.Logger,
) server.FileService {
	return &service{
		cfg:        cfg,
		patterns:   patterns,
		storage:    storage,
		images:     images,
		validator:  NewValidator(cfg, patterns, storage, images),
		namespaces: newNamespaceLocks(),
		sources:    sources,
		log:        logger,
	}
}

func (s *service) Upload(ctx context.Context, req domain.UploadRequest) ([]domain.FileResult, error) {
	ctx, done := s.images.WithSession(ctx)
	defer done()

	results := make([]domain.FileResult, len(req.Files))

	if s.cfg.Workers <= 1 {
		for i, f := range req.Files {
			results[i] = s.handleFile(ctx, req, f)
		}
		return results, ctx.Err()
	}

	var group errgroup.Group
	group.SetLimit(s.cfg.Workers)
	for i, f := range req.Files {
		i, f := i, f
		group.Go(func() error {
			results[i] = s.handleFile(ctx, req, f)
			return nil
		})
	}
	_ = group.Wait()

	return results, ctx.Err()
}

// source is the byte stream of one incoming file.
type source struct {
	body     io.Reader
	received int64
	close    func() error
}

func (s *service) openSource(f domain.IncomingFile) (source, error) {
	if f.TempPath == "" {
		body := f.Body
		if body == nil {
			body = bytes.NewReader(nil)
		}
		return source{body: body, received: f.Received, close: func() error { return nil }}, nil
	}

	file, err := s.sources.Open(f.TempPath)
	if err != nil {
		return source{}, fmt.Errorf("can't open uploaded temp file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return source{}, fmt.Errorf("can't stat uploaded temp file: %w", err)
	}

	return source{body: file, received: info.Size(), close: file.Close}, nil
}

// correctExtension sniffs the head of src and fixes an image extension that lies
// about the content. The consumed head stays part of the body.
func (s *service) correctExtension(name string, src *source) string {
	if seeker, ok := src.body.(io.ReadSeeker); ok {
		fixed := CorrectImageExtension(name, io.LimitReader(seeker, sniffLen))
		if _, err := seeker.Seek(0, io.SeekStart); err != nil {
			level.Warn(s.log).Log("msg", "can't rewind upload body", "err", err)
		}
		return fixed
	}

	buffered := bufio.NewReaderSize(src.body, sniffLen)
	head, _ := buffered.Peek(sniffLen)
	src.body = buffered

	return CorrectImageExtension(name, bytes.NewReader(head))
}

func (s *service) handleFile(ctx context.Context, req domain.UploadRequest, f domain.IncomingFile) domain.FileResult {
	declared := domain.FixSize(f.Size)
	if f.Range != nil {
		declared = domain.FixSize(f.Range.Total)
	}

	name := FixExtension(SanitizeName(f.Name), f.Type)
	res := domain.FileResult{Name: name, Size: declared, Type: f.Type}

	if err := ctx.Err(); err != nil {
		res.Fail(err)
		return res
	}

	if f.TransportError != 0 {
		res.Fail(domain.TransportError(f.TransportError))
		return res
	}

	src, err := s.openSource(f)
	if err != nil {
		level.Error(s.log).Log("msg", "can't open upload source", "name", name, "err", err)
		res.Fail(domain.TransportError(4))
		return res
	}
	defer src.close()

	if s.cfg.CorrectImageExtensions {
		name = s.correctExtension(name, &src)
		res.Name = name
	}

	size, err := s.store(ctx, req, f, src, &res, declared)
	if err != nil {
		res.Fail(err)
		return res
	}
	name = res.Name

	if size != declared {
		res.Size = size
		if f.Range == nil && s.cfg.DiscardAbortedUploads {
			if err = s.storage.Discard(ctx, req.Namespace, name); err != nil {
				level.Error(s.log).Log("msg", "can't discard aborted upload", "name", name, "err", err)
			}
			res.Fail(domain.ErrAbort)
			return res
		}
		level.Info(s.log).Log("msg", "partial upload stored",
			"name", name,
			"size", humanize.Bytes(size),
			"total", humanize.Bytes(declared),
		)
		return res
	}

	res.URL = s.storage.URL(req.Namespace, name, "")

	path := s.storage.Path(req.Namespace, name, "")
	if s.patterns.Image.MatchString(name) && s.images.IsImage(path) {
		s.handleImage(ctx, req.Namespace, path, &res)
	}

	if res.Err == nil {
		level.Info(s.log).Log("msg", "file uploaded",
			"name", name,
			"size", humanize.Bytes(res.Size),
		)
	}

	return res
}

// store resolves the final name, runs the pre-write checks and writes the bytes.
// A name lost to a concurrent writer is resolved again.
func (s *service) store(ctx context.Context, req domain.UploadRequest, f domain.IncomingFile, src source, res *domain.FileResult, declared uint64) (uint64, error) {
	if s.cfg.MaxNumberOfFiles > 0 {
		unlock := s.namespaces.lock(req.Namespace)
		defer unlock()
	}

	for attempt := 1; ; attempt++ {
		resolution, err := s.storage.Resolve(ctx, req.Namespace, res.Name, f.Range)
		if err != nil {
			if errors.Is(err, domain.ErrInvalidName) {
				return 0, domain.ErrInvalidName
			}
			level.Error(s.log).Log("msg", "can't resolve file name", "name", res.Name, "err", err)
			return 0, domain.ErrWriteFailed
		}
		res.Name = resolution.Name

		err = s.validator.PreWrite(ctx, candidate{
			Namespace:      req.Namespace,
			Name:           resolution.Name,
			TransportError: f.TransportError,
			ContentLength:  req.ContentLength,
			Received:       src.received,
			Declared:       declared,
			Continuation:   resolution.Continuation,
		})
		if err != nil {
			level.Debug(s.log).Log("msg", "upload rejected", "name", resolution.Name, "err", err)
			return 0, err
		}

		size, err := s.storage.Write(ctx, domain.WriteRequest{
			Namespace:    req.Namespace,
			Name:         resolution.Name,
			Body:         src.body,
			Total:        declared,
			Ranged:       f.Range != nil,
			Continuation: resolution.Continuation,
		})
		switch {
		case err == nil:
			return size, nil
		case errors.Is(err, domain.ErrNameTaken) && attempt < maxClaimAttempts:
			level.Debug(s.log).Log("msg", "file name claimed concurrently, resolving again", "name", resolution.Name)
		default:
			level.Error(s.log).Log("msg", "can't write file", "name", resolution.Name, "err", err)
			return 0, domain.ErrWriteFailed
		}
	}
}

// handleImage checks the bounds of a complete image and creates its versions.
func (s *service) handleImage(ctx context.Context, ns, path string, res *domain.FileResult) {
	if err := s.validator.Dimensions(ctx, res.Name, path); err != nil {
		if discardErr := s.storage.Discard(ctx, ns, res.Name); discardErr != nil {
			level.Error(s.log).Log("msg", "can't discard rejected image", "name", res.Name, "err", discardErr)
		}
		res.URL = ""
		res.Fail(err)
		return
	}

	derived := s.images.Derive(ctx, ns, res.Name)
	for _, tag := range derived.Produced {
		if res.DerivativeURLs == nil {
			res.DerivativeURLs = make(map[string]string, len(derived.Produced))
		}
		res.DerivativeURLs[tag] = s.storage.URL(ns, res.Name, tag)
	}

	// the canonical version may have been rewritten
	if size, err := s.storage.Size(ctx, ns, res.Name); err == nil {
		res.Size = size
	}

	if len(derived.Failed) > 0 {
		res.Fail(domain.DerivativeError(derived.Failed))
	}
}

func (s *service) Delete(ctx context.Context, ns string, names []string) map[string]bool {
	deleted := make(map[string]bool, len(names))
	for _, name := range names {
		err := s.storage.Remove(ctx, ns, name)
		if err != nil {
			level.Warn(s.log).Log("msg", "file not deleted", "name", name, "err", err)
		}
		deleted[name] = err == nil
	}
	return deleted
}

func (s *service) result(ns string, stored domain.StoredFile) domain.FileResult {
	res := domain.FileResult{
		Name: stored.Name,
		Size: stored.Size,
		Type: mime.TypeByExtension(filepath.Ext(stored.Name)),
		URL:  s.storage.URL(ns, stored.Name, ""),
	}
	for _, d := range stored.Derivatives {
		if res.DerivativeURLs == nil {
			res.DerivativeURLs = make(map[string]string, len(stored.Derivatives))
		}
		res.DerivativeURLs[d.Tag] = s.storage.URL(ns, stored.Name, d.Tag)
	}
	return res
}

func (s *service) Get(ctx context.Context, ns, name string) (domain.FileResult, error) {
	stored, err := s.storage.Stat(ctx, ns, name)
	if err != nil {
		return domain.FileResult{}, fmt.Errorf("can't stat file %q: %w", name, err)
	}
	return s.result(ns, stored), nil
}

func (s *service) List(ctx context.Context, ns string) ([]domain.FileResult, error) {
	files, err := s.storage.List(ctx, ns)
	if err != nil {
		return nil, fmt.Errorf("can't list files: %w", err)
	}

	results := make([]domain.FileResult, 0, len(files))
	for _, stored := range files {
		results = append(results, s.result(ns, stored))
	}
	return results, nil
}

// Open returns a stored file or derivative for download. Only names matching
// the inline pattern keep their content type and may be shown in the browser.
func (s *service) Open(ctx context.Context, ns, name, tag string) (domain.Download, error) {
	body, info, err := s.storage.Open(ctx, ns, name, tag)
	if err != nil {
		return domain.Download{}, fmt.Errorf("can't open file %q: %w", name, err)
	}

	d := domain.Download{
		Name:        name,
		Size:        domain.FixSize(info.Size()),
		ModTime:     info.ModTime(),
		ContentType: octetStream,
		Body:        body,
	}
	if s.patterns.Inline.MatchString(name) {
		if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
			d.ContentType = ct
			d.Inline = true
		}
	}

	return d, nil
}
