package interfaces

import (
	"context"

	"github.com/donmikel/fileupload/applications/server/domain"
)

type ImageEngine interface {
	// WithSession attaches a decoded image cache to ctx; the returned func releases it.
	WithSession(ctx context.Context) (context.Context, func())
	IsImage(path string) bool
	Orientation(path string) int
	Dimensions(ctx context.Context, path string) (width, height int, err error)
	Derive(ctx context.Context, ns, name string) domain.DeriveResult
}
