package interfaces

import (
	"context"
	"io"
	"os"

	"github.com/donmikel/fileupload/applications/server/domain"
)

type Storage interface {
	Resolve(ctx context.Context, ns, name string, rng *domain.ByteRange) (domain.Resolution, error)
	Write(ctx context.Context, req domain.WriteRequest) (uint64, error)
	Count(ctx context.Context, ns string) (int, error)
	Size(ctx context.Context, ns, name string) (uint64, error)
	Stat(ctx context.Context, ns, name string) (domain.StoredFile, error)
	List(ctx context.Context, ns string) ([]domain.StoredFile, error)
	Open(ctx context.Context, ns, name, tag string) (io.ReadCloser, os.FileInfo, error)
	Remove(ctx context.Context, ns, name string) error
	Discard(ctx context.Context, ns, name string) error
	Path(ns, name, tag string) string
	URL(ns, name, tag string) string
}
