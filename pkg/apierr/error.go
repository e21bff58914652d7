package apierr

import (
	"errors"
	"fmt"
	"maps"

	"github.com/jackc/pgx/v5"
)

// Error is an API error: a code clients can branch on, the status it is
// served with, and optional details such as the offending upload ID or MIME
// type. The cause is only logged.
type Error struct {
	code    Code
	status  int
	message string
	details map[string]any
	cause   error
}

func New(code Code, status int, message string) *Error {
	return &Error{code: code, status: status, message: message}
}

func Wrap(code Code, status int, message string, cause error) *Error {
	return &Error{code: code, status: status, message: message, cause: cause}
}

// With returns a copy of e carrying one more detail.
func (e *Error) With(key string, value any) *Error {
	c := *e
	c.details = make(map[string]any, len(e.details)+1)
	maps.Copy(c.details, e.details)
	c.details[key] = value
	return &c
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s (%d): %s: %v", e.code, e.status, e.message, e.cause)
	}
	return fmt.Sprintf("%s (%d): %s", e.code, e.status, e.message)
}

func (e *Error) Unwrap() error { return e.cause }

func (e *Error) Code() Code              { return e.code }
func (e *Error) Message() string         { return e.message }
func (e *Error) Status() int             { return e.status }
func (e *Error) Details() map[string]any { return e.details }

// ErrorResponse is the JSON body of every non-2xx API response.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

type ErrorBody struct {
	Code    Code           `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *Error) Response() ErrorResponse {
	return ErrorResponse{Error: ErrorBody{Code: e.code, Message: e.message, Details: e.details}}
}

// IsNotFound reports whether err wraps pgx.ErrNoRows.
func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
