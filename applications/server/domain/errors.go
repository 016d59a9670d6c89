package domain

import (
	"fmt"
	"strings"
)

type Kind uint8

const (
	KindTransport Kind = iota + 1
	KindSize
	KindName
	KindCount
	KindDimension
	KindAborted
	KindDerivative
	KindDeletionDenied
	KindWrite
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "TransportError"
	case KindSize:
		return "SizeViolation"
	case KindName:
		return "NameRejected"
	case KindCount:
		return "CountExceeded"
	case KindDimension:
		return "DimensionViolation"
	case KindAborted:
		return "AbortedTransfer"
	case KindDerivative:
		return "DerivativeFailure"
	case KindDeletionDenied:
		return "DeletionDenied"
	case KindWrite:
		return "WriteFailure"
	default:
		return "Unknown"
	}
}

// Error is an upload failure reported on a single file result.
type Error struct {
	Kind   Kind
	Reason string
}

func (e *Error) Error() string {
	return e.Reason
}

// Is matches any *Error with the same kind and reason, so wrapped sentinels compare equal.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Reason == e.Reason
}

var (
	ErrPostMaxSize      = &Error{Kind: KindSize, Reason: "The uploaded file exceeds the maximum request size"}
	ErrMaxFileSize      = &Error{Kind: KindSize, Reason: "File is too big"}
	ErrMinFileSize      = &Error{Kind: KindSize, Reason: "File is too small"}
	ErrAcceptFileTypes  = &Error{Kind: KindName, Reason: "Filetype not allowed"}
	ErrInvalidName      = &Error{Kind: KindName, Reason: "Invalid file name"}
	ErrMaxNumberOfFiles = &Error{Kind: KindCount, Reason: "Maximum number of files exceeded"}
	ErrMaxWidth         = &Error{Kind: KindDimension, Reason: "Image exceeds maximum width"}
	ErrMinWidth         = &Error{Kind: KindDimension, Reason: "Image requires a minimum width"}
	ErrMaxHeight        = &Error{Kind: KindDimension, Reason: "Image exceeds maximum height"}
	ErrMinHeight        = &Error{Kind: KindDimension, Reason: "Image requires a minimum height"}
	ErrUnreadableImage  = &Error{Kind: KindDimension, Reason: "Image dimensions could not be read"}
	ErrAbort            = &Error{Kind: KindAborted, Reason: "File upload aborted"}
	ErrImageResize      = &Error{Kind: KindDerivative, Reason: "Failed to resize image"}
	ErrWriteFailed      = &Error{Kind: KindWrite, Reason: "Failed to write file to disk"}
	ErrDeletionDenied   = &Error{Kind: KindDeletionDenied, Reason: "File can't be deleted"}
)

var transportErrors = map[int]string{
	1: "The uploaded file exceeds the upload_max_filesize directive",
	2: "The uploaded file exceeds the MAX_FILE_SIZE that was specified in the HTML form",
	3: "The uploaded file was only partially uploaded",
	4: "No file was uploaded",
	6: "Missing a temporary folder",
	7: "Failed to write file to disk",
	8: "An extension stopped the file upload",
}

// TransportError maps a transport-reported error code to its fixed reason.
func TransportError(code int) *Error {
	reason, ok := transportErrors[code]
	if !ok {
		reason = fmt.Sprintf("Upload failed with transport error code %d", code)
	}
	return &Error{Kind: KindTransport, Reason: reason}
}

// DerivativeError lists the versions that could not be produced.
func DerivativeError(failed []string) error {
	return fmt.Errorf("%w (%s)", ErrImageResize, strings.Join(failed, ", "))
}

