package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/donmikel/fileupload/applications/server"
	"github.com/donmikel/fileupload/applications/server/domain"
)

const (
	// namespaceHeader selects the per-user directory when user_dirs is on.
	namespaceHeader = "X-Upload-Namespace"
	requestIDHeader = "X-Request-Id"

	// maxMemory is how much of a multipart body is kept in memory before spooling to temp files.
	maxMemory = 32 << 20

	defaultChunkSize = 32 << 10
)

var contentRangePattern = regexp.MustCompile(`^bytes (\d+)-(\d+)/(\d+)$`)

func NewRouter(svc server.FileService, chunkSize int, logger log.Logger) http.Handler {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}

	r := mux.NewRouter()
	r.Use(requestLogger(logger))

	r.HandleFunc("/files", UploadHandler(svc, logger)).Methods(http.MethodPost, http.MethodPut, http.MethodPatch)
	r.HandleFunc("/files", ListHandler(svc, logger)).Methods(http.MethodGet)
	r.HandleFunc("/files", DeleteHandler(svc, logger)).Methods(http.MethodDelete)
	r.HandleFunc("/files/{name}", GetFileHandler(svc, chunkSize, logger)).Methods(http.MethodGet)
	r.HandleFunc("/files/{name}", DeleteHandler(svc, logger)).Methods(http.MethodDelete)

	return r
}

func requestLogger(logger log.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(requestIDHeader)
			if id == "" {
				id = uuid.NewString()
			}
			w.Header().Set(requestIDHeader, id)

			start := time.Now()
			next.ServeHTTP(w, r)

			level.Debug(logger).Log("msg", "request served",
				"request_id", id,
				"method", r.Method,
				"path", r.URL.Path,
				"took", time.Since(start),
			)
		})
	}
}

// ParseContentRange parses a "bytes start-end/total" header value.
func ParseContentRange(v string) (*domain.ByteRange, error) {
	if v == "" {
		return nil, nil
	}

	m := contentRangePattern.FindStringSubmatch(v)
	if m == nil {
		return nil, fmt.Errorf("malformed content range %q", v)
	}

	var (
		rng domain.ByteRange
		err error
	)
	if rng.Start, err = strconv.ParseInt(m[1], 10, 64); err != nil {
		return nil, fmt.Errorf("can't parse range start: %w", err)
	}
	if rng.End, err = strconv.ParseInt(m[2], 10, 64); err != nil {
		return nil, fmt.Errorf("can't parse range end: %w", err)
	}
	if rng.Total, err = strconv.ParseInt(m[3], 10, 64); err != nil {
		return nil, fmt.Errorf("can't parse range total: %w", err)
	}
	if rng.End < rng.Start || rng.End >= rng.Total {
		return nil, fmt.Errorf("inconsistent content range %q", v)
	}

	return &rng, nil
}

// dispositionName returns the file name of a Content-Disposition header, if any.
func dispositionName(v string) string {
	if v == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(v)
	if err != nil {
		return ""
	}
	return params["filename"]
}

func UploadHandler(svc server.FileService, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rng, err := ParseContentRange(r.Header.Get("Content-Range"))
		if err != nil {
			writeErr(w, err, http.StatusBadRequest)
			return
		}
		name := dispositionName(r.Header.Get("Content-Disposition"))

		req := domain.UploadRequest{
			Namespace:     r.Header.Get(namespaceHeader),
			ContentLength: r.ContentLength,
		}

		mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if mediaType == "multipart/form-data" {
			if err = r.ParseMultipartForm(maxMemory); err != nil {
				level.Error(logger).Log("msg", "can't parse multipart form", "err", err)
				writeErr(w, err, http.StatusBadRequest)
				return
			}
			defer r.MultipartForm.RemoveAll()

			headers := r.MultipartForm.File["files[]"]
			if len(headers) == 0 {
				headers = r.MultipartForm.File["files"]
			}
			if len(headers) == 0 {
				writeErr(w, errors.New("no files in request"), http.StatusBadRequest)
				return
			}

			for _, h := range headers {
				f, closeFile := multipartFile(h, name, rng)
				defer closeFile()
				req.Files = append(req.Files, f)
			}
		} else {
			size := r.ContentLength
			if rng != nil {
				size = rng.Total
			} else if size < 0 {
				writeErr(w, errors.New("request body length required"), http.StatusLengthRequired)
				return
			}
			req.Files = []domain.IncomingFile{{
				Body:     r.Body,
				Received: -1,
				Name:     name,
				Size:     size,
				Type:     r.Header.Get("Content-Type"),
				Range:    rng,
			}}
		}

		results, err := svc.Upload(r.Context(), req)
		if err != nil {
			level.Warn(logger).Log("msg", "upload interrupted", "err", err)
		}

		if len(results) > 0 && results[0].Size > 0 {
			w.Header().Set("Range", "0-"+strconv.FormatUint(results[0].Size-1, 10))
		}
		writeJSON(w, map[string]interface{}{"files": results}, logger)
	}
}

// multipartFile turns a multipart part into an incoming file. A name or range sent
// with request headers wins over the part's own.
func multipartFile(h *multipart.FileHeader, name string, rng *domain.ByteRange) (domain.IncomingFile, func()) {
	f := domain.IncomingFile{
		Received: h.Size,
		Name:     h.Filename,
		Size:     h.Size,
		Type:     h.Header.Get("Content-Type"),
		Range:    rng,
	}
	if name != "" {
		f.Name = name
	}
	if rng != nil {
		f.Size = rng.Total
	}

	body, err := h.Open()
	if err != nil {
		f.TransportError = 3
		return f, func() {}
	}
	f.Body = body

	return f, func() { body.Close() }
}

func ListHandler(svc server.FileService, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		files, err := svc.List(r.Context(), r.Header.Get(namespaceHeader))
		if err != nil {
			level.Error(logger).Log("msg", "can't list files", "err", err)
			writeErr(w, err, http.StatusInternalServerError)
			return
		}
		if files == nil {
			files = []domain.FileResult{}
		}
		writeJSON(w, map[string]interface{}{"files": files}, logger)
	}
}

func GetFileHandler(svc server.FileService, chunkSize int, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := mux.Vars(r)["name"]
		ns := r.Header.Get(namespaceHeader)

		q := r.URL.Query()
		if download, _ := strconv.ParseBool(q.Get("download")); !download {
			file, err := svc.Get(r.Context(), ns, name)
			if err != nil {
				writeErr(w, err, statusOf(err))
				return
			}
			writeJSON(w, map[string]interface{}{"file": file}, logger)
			return
		}

		d, err := svc.Open(r.Context(), ns, name, q.Get("version"))
		if err != nil {
			writeErr(w, err, statusOf(err))
			return
		}
		defer d.Body.Close()

		disposition := "attachment"
		if d.Inline {
			disposition = "inline"
		} else {
			w.Header().Set("Content-Description", "File Transfer")
		}

		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Content-Type", d.ContentType)
		w.Header().Set("Content-Disposition", mime.FormatMediaType(disposition, map[string]string{"filename": d.Name}))
		w.Header().Set("Content-Length", strconv.FormatUint(d.Size, 10))
		w.Header().Set("Last-Modified", d.ModTime.UTC().Format(http.TimeFormat))

		// plain wrappers keep io.CopyBuffer from bypassing the bounded buffer
		buf := make([]byte, chunkSize)
		if _, err = io.CopyBuffer(struct{ io.Writer }{w}, struct{ io.Reader }{d.Body}, buf); err != nil {
			level.Error(logger).Log("msg", "error body copy", "name", name, "err", err)
		}
	}
}

func DeleteHandler(svc server.FileService, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var names []string
		if name, ok := mux.Vars(r)["name"]; ok {
			names = []string{name}
		} else {
			q := r.URL.Query()
			names = append(q["files"], q["files[]"]...)
		}
		if len(names) == 0 {
			writeErr(w, errors.New("no file names given"), http.StatusBadRequest)
			return
		}

		writeJSON(w, svc.Delete(r.Context(), r.Header.Get(namespaceHeader), names), logger)
	}
}

func statusOf(err error) int {
	if errors.Is(err, domain.ErrNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, v interface{}, logger log.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		level.Error(logger).Log("msg", "can't write response", "err", err)
	}
}

func writeErr(w http.ResponseWriter, err error, status int) {
	w.WriteHeader(status)
	_, err = w.Write([]byte(err.Error()))
	if err != nil {
		fmt.Println("can't write response ", err)
	}
}
