package http

import (
	"net/http"

	"github.com/go-kit/log"

	"github.com/donmikel/fileupload/applications/server"
	"github.com/donmikel/fileupload/applications/server/config"
)

func NewHTTPServer(conf config.Api, chunkSize config.ByteSize, fileService server.FileService, logger log.Logger) *http.Server {
	mux := NewRouter(fileService, int(chunkSize), logger)
	return &http.Server{
		Addr:    conf.HTTPAddr,
		Handler: mux,
	}
}
