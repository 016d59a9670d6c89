package domain

import (
	"io"
	"time"
)

// ByteRange is the parsed form of a "bytes start-end/total" content range.
type ByteRange struct {
	Start int64
	End   int64
	Total int64
}

// IncomingFile describes one upload attempt as handed over by the transport.
type IncomingFile struct {
	// TempPath is a file already spooled by the transport. Body is used when it is empty.
	TempPath string
	Body     io.Reader
	// Received is the number of bytes the transport buffered for this file, -1 if unknown.
	Received       int64
	Name           string
	Size           int64
	Type           string
	TransportError int
	Range          *ByteRange
}

type UploadRequest struct {
	Namespace     string
	ContentLength int64
	Files         []IncomingFile
}

type Derivative struct {
	Tag  string
	Path string
	Size uint64
}

// StoredFile is the canonical artifact under the upload root. It owns its derivatives.
type StoredFile struct {
	Name        string
	Path        string
	Size        uint64
	ModTime     time.Time
	Derivatives []Derivative
}

type FileResult struct {
	Name           string            `json:"name"`
	Size           uint64            `json:"size"`
	Type           string            `json:"type,omitempty"`
	URL            string            `json:"url,omitempty"`
	DerivativeURLs map[string]string `json:"derivatives,omitempty"`
	Error          string            `json:"error,omitempty"`

	Err error `json:"-"`
}

func (r *FileResult) Fail(err error) {
	r.Err = err
	r.Error = err.Error()
}

// Download is an opened stored file ready to be streamed.
type Download struct {
	Name        string
	Size        uint64
	ModTime     time.Time
	ContentType string
	Inline      bool
	Body        io.ReadCloser
}

// FixSize corrects sizes that reached us as overflowed signed 32-bit integers.
func FixSize(v int64) uint64 {
	if v < 0 {
		v += 1 << 32
	}
	if v < 0 {
		return 0
	}
	return uint64(v)
}
