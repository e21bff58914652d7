package apierr

import (
	"fmt"
	"net/http"
)

// --- Common ---

func InvalidRequestBody() *Error {
	return New(CodeInvalidRequestBody, http.StatusBadRequest, "Invalid request body")
}

func InvalidID(entity string) *Error {
	return New(CodeInvalidID, http.StatusBadRequest, "Invalid "+entity+" ID")
}

func InternalError(cause error) *Error {
	return Wrap(CodeInternalError, http.StatusInternalServerError, "Internal server error", cause)
}

// --- Upload ---

func FileRequired() *Error {
	return New(CodeFileRequired, http.StatusBadRequest, "File is required (multipart field 'file')")
}

func FileTooLarge(limit int64) *Error {
	return New(CodeFileTooLarge, http.StatusRequestEntityTooLarge,
		fmt.Sprintf("File exceeds the %d MB upload limit", limit/(1024*1024))).With("limit_bytes", limit)
}

func UnsupportedFileType(mimeType string) *Error {
	return New(CodeUnsupportedType, http.StatusUnsupportedMediaType,
		"Invalid file type "+mimeType+". Only CSV and Excel files are allowed.").With("mime_type", mimeType)
}

func UploadFailed(cause error) *Error {
	return Wrap(CodeUploadFailed, http.StatusInternalServerError, "Failed to upload file", cause)
}

func UploadNotFound(id string) *Error {
	return New(CodeUploadNotFound, http.StatusNotFound, "Upload not found").With("upload_id", id)
}

func UploadListFailed(cause error) *Error {
	return Wrap(CodeUploadListFailed, http.StatusInternalServerError, "Failed to list uploads", cause)
}

func ErrorsListFailed(cause error) *Error {
	return Wrap(CodeErrorsListFailed, http.StatusInternalServerError, "Failed to list processing errors", cause)
}

func ChunksListFailed(cause error) *Error {
	return Wrap(CodeChunksListFailed, http.StatusInternalServerError, "Failed to list chunks", cause)
}

func QueueUnavailable(cause error) *Error {
	return Wrap(CodeQueueUnavailable, http.StatusServiceUnavailable, "Job queue unavailable", cause)
}

// --- Health ---

func DatabaseNotReady() *Error {
	return New(CodeDatabaseNotReady, http.StatusServiceUnavailable, "Database not ready")
}
