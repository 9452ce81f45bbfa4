package utils

import "errors"

// ErrorKind classifies application errors for transport mapping: validation
// errors are safe to resubmit corrected, conflicts reflect listing state the
// caller cannot fix by retrying, not-found is self-explanatory, and anything
// unclassified is treated as an infrastructure failure.
type ErrorKind int

const (
	KindValidation ErrorKind = iota
	KindConflict
	KindNotFound
	KindInfrastructure
)

// AppError carries a stable machine code plus a human message.
type AppError struct {
	Kind    ErrorKind
	Code    string
	Message string
}

func (e *AppError) Error() string {
	return e.Message
}

// ValidationError rejects malformed input before any state mutation.
func ValidationError(code, message string) *AppError {
	return &AppError{Kind: KindValidation, Code: code, Message: message}
}

// ConflictError reports listing/reservation state that blocks the operation.
func ConflictError(code, message string) *AppError {
	return &AppError{Kind: KindConflict, Code: code, Message: message}
}

// NotFoundError reports a missing resource.
func NotFoundError(code, message string) *AppError {
	return &AppError{Kind: KindNotFound, Code: code, Message: message}
}

// AsAppError unwraps err to an *AppError if it is one.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsConflict reports whether err is a state-conflict error.
func IsConflict(err error) bool {
	appErr, ok := AsAppError(err)
	return ok && appErr.Kind == KindConflict
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool {
	appErr, ok := AsAppError(err)
	return ok && appErr.Kind == KindValidation
}

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool {
	appErr, ok := AsAppError(err)
	return ok && appErr.Kind == KindNotFound
}
