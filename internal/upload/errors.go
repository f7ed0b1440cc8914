package upload

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode identifies a protocol-level rejection reason
type ErrorCode string

const (
	CodeMalformedRange    ErrorCode = "malformed_range"
	CodeRangeSizeMismatch ErrorCode = "range_size_mismatch"
	CodeSizeLimitExceeded ErrorCode = "size_limit_exceeded"
	CodeOffsetMismatch    ErrorCode = "offset_mismatch"
	CodeSessionNotFound   ErrorCode = "session_not_found"
	CodeSessionExpired    ErrorCode = "session_expired"
	CodeSessionComplete   ErrorCode = "session_already_complete"
	CodeChecksumMismatch  ErrorCode = "checksum_mismatch"
	CodeMissingField      ErrorCode = "missing_required_field"
	CodeConcurrentUpdate  ErrorCode = "concurrent_update"
	CodeStorageFailure    ErrorCode = "storage_io_failure"
)

// Error is a structured protocol error carrying the HTTP status to respond
// with. OffsetMismatch errors additionally carry the authoritative current
// offset so the client can resync without re-fetching the session.
type Error struct {
	Status int
	Code   ErrorCode
	Detail string
	Offset *int64
}

func (e *Error) Error() string {
	return e.Detail
}

// AsError unwraps err into a protocol *Error if it is one
func AsError(err error) (*Error, bool) {
	var ue *Error
	if errors.As(err, &ue) {
		return ue, true
	}
	return nil, false
}

func errMalformedRange() *Error {
	return &Error{
		Status: http.StatusBadRequest,
		Code:   CodeMalformedRange,
		Detail: "error in Content-Range header",
	}
}

func errRangeSizeMismatch(actual, declared int64) *Error {
	return &Error{
		Status: http.StatusBadRequest,
		Code:   CodeRangeSizeMismatch,
		Detail: fmt.Sprintf("file size doesn't match headers: file size is %d but %d reported", actual, declared),
	}
}

func errSizeLimitExceeded(max int64) *Error {
	return &Error{
		Status: http.StatusBadRequest,
		Code:   CodeSizeLimitExceeded,
		Detail: fmt.Sprintf("size of file exceeds the limit (%d bytes)", max),
	}
}

func errOffsetMismatch(expected int64) *Error {
	return &Error{
		Status: http.StatusBadRequest,
		Code:   CodeOffsetMismatch,
		Detail: "offsets do not match",
		Offset: &expected,
	}
}

func errSessionNotFound() *Error {
	return &Error{
		Status: http.StatusNotFound,
		Code:   CodeSessionNotFound,
		Detail: "upload session not found",
	}
}

func errSessionExpired() *Error {
	return &Error{
		Status: http.StatusGone,
		Code:   CodeSessionExpired,
		Detail: "upload has expired",
	}
}

func errSessionComplete() *Error {
	return &Error{
		Status: http.StatusBadRequest,
		Code:   CodeSessionComplete,
		Detail: `upload has already been marked as "complete"`,
	}
}

func errChecksumMismatch() *Error {
	return &Error{
		Status: http.StatusBadRequest,
		Code:   CodeChecksumMismatch,
		Detail: "checksum does not match",
	}
}

func errMissingField(detail string) *Error {
	return &Error{
		Status: http.StatusBadRequest,
		Code:   CodeMissingField,
		Detail: detail,
	}
}

func errConcurrentUpdate() *Error {
	return &Error{
		Status: http.StatusConflict,
		Code:   CodeConcurrentUpdate,
		Detail: "another request is modifying this upload",
	}
}

func errStorageFailure(err error) *Error {
	return &Error{
		Status: http.StatusInternalServerError,
		Code:   CodeStorageFailure,
		Detail: fmt.Sprintf("storage operation failed: %v", err),
	}
}
