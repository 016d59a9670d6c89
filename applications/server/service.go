package server

import (
	"context"

	"github.com/donmikel/fileupload/applications/server/domain"
)

type FileService interface {
	// Upload stores every file of the request and reports one result per file, in request order.
	Upload(ctx context.Context, req domain.UploadRequest) ([]domain.FileResult, error)
	// Delete removes the named files with their derivatives and reports success per name.
	Delete(ctx context.Context, ns string, names []string) map[string]bool
	Get(ctx context.Context, ns, name string) (domain.FileResult, error)
	List(ctx context.Context, ns string) ([]domain.FileResult, error)
	Open(ctx context.Context, ns, name, tag string) (domain.Download, error)
}
