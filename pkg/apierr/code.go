package apierr

// Code is a machine-readable error code returned in API responses.
type Code string

// Common errors.
const (
	CodeInvalidRequestBody Code = "INVALID_REQUEST_BODY"
	CodeInvalidID          Code = "INVALID_ID"
	CodeInternalError      Code = "INTERNAL_ERROR"
)

// Upload errors.
const (
	CodeFileRequired     Code = "FILE_REQUIRED"
	CodeFileTooLarge     Code = "FILE_TOO_LARGE"
	CodeUnsupportedType  Code = "UNSUPPORTED_FILE_TYPE"
	CodeUploadFailed     Code = "UPLOAD_FAILED"
	CodeUploadNotFound   Code = "UPLOAD_NOT_FOUND"
	CodeUploadListFailed Code = "UPLOAD_LIST_FAILED"
	CodeErrorsListFailed Code = "PROCESSING_ERRORS_LIST_FAILED"
	CodeChunksListFailed Code = "CHUNKS_LIST_FAILED"
	CodeQueueUnavailable Code = "QUEUE_UNAVAILABLE"
)

// Health errors.
const (
	CodeDatabaseNotReady Code = "DATABASE_NOT_READY"
)
