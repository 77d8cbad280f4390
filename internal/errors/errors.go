package errors

import (
	stderrors "errors"
	"fmt"
)

type ErrorType string

const (
	ErrorTypeInvalidPath      ErrorType = "INVALID_PATH"
	ErrorTypeNotFound         ErrorType = "NOT_FOUND"
	ErrorTypeUnreadable       ErrorType = "UNREADABLE"
	ErrorTypeIO               ErrorType = "IO_ERROR"
	ErrorTypeNameInvalid      ErrorType = "NAME_INVALID"
	ErrorTypeAlreadyExists    ErrorType = "ALREADY_EXISTS"
	ErrorTypeNotEmpty         ErrorType = "NOT_EMPTY"
	ErrorTypePathUnsafe       ErrorType = "PATH_UNSAFE"
	ErrorTypeReferenceInvalid ErrorType = "REFERENCE_INVALID"
	ErrorTypeValidation       ErrorType = "VALIDATION"
	ErrorTypeCanceled         ErrorType = "CANCELED"
	ErrorTypeInternal         ErrorType = "INTERNAL"
)

// Exit codes reported by the CLI. Caller mistakes exit with 2.
const (
	CodeFailure = 1
	CodeInput   = 2
)

// Sentinels for matching with Is. Only the Type is compared.
var (
	ErrInvalidPath      = &Error{Type: ErrorTypeInvalidPath}
	ErrNotFound         = &Error{Type: ErrorTypeNotFound}
	ErrUnreadable       = &Error{Type: ErrorTypeUnreadable}
	ErrIO               = &Error{Type: ErrorTypeIO}
	ErrNameInvalid      = &Error{Type: ErrorTypeNameInvalid}
	ErrAlreadyExists    = &Error{Type: ErrorTypeAlreadyExists}
	ErrNotEmpty         = &Error{Type: ErrorTypeNotEmpty}
	ErrPathUnsafe       = &Error{Type: ErrorTypePathUnsafe}
	ErrReferenceInvalid = &Error{Type: ErrorTypeReferenceInvalid}
	ErrCanceled         = &Error{Type: ErrorTypeCanceled}
)

type Error struct {
	Type    ErrorType `json:"code"`
	Message string    `json:"message"`
	Path    string    `json:"path,omitempty"`
	Code    int       `json:"-"`
	Details any       `json:"details,omitempty"`
	Err     error     `json:"-"`
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Type)
	}
	if e.Path != "" {
		msg = fmt.Sprintf("%s: %s", e.Path, msg)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same Type, so sentinels work through wrap chains.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Type == e.Type
}

func InvalidPath(path, message string) *Error {
	return &Error{
		Type:    ErrorTypeInvalidPath,
		Message: message,
		Path:    path,
		Code:    CodeInput,
	}
}

func NotFound(path, message string) *Error {
	return &Error{
		Type:    ErrorTypeNotFound,
		Message: message,
		Path:    path,
		Code:    CodeInput,
	}
}

func Unreadable(path string, err error) *Error {
	return &Error{
		Type:    ErrorTypeUnreadable,
		Message: "content cannot be read",
		Path:    path,
		Code:    CodeFailure,
		Err:     err,
	}
}

func IO(path, message string, err error) *Error {
	return &Error{
		Type:    ErrorTypeIO,
		Message: message,
		Path:    path,
		Code:    CodeFailure,
		Err:     err,
	}
}

func NameInvalid(name, message string) *Error {
	return &Error{
		Type:    ErrorTypeNameInvalid,
		Message: message,
		Code:    CodeInput,
		Details: map[string]string{"name": name},
	}
}

func AlreadyExists(path string) *Error {
	return &Error{
		Type:    ErrorTypeAlreadyExists,
		Message: "already exists",
		Path:    path,
		Code:    CodeInput,
	}
}

func NotEmpty(path string, err error) *Error {
	return &Error{
		Type:    ErrorTypeNotEmpty,
		Message: "directory not empty",
		Path:    path,
		Code:    CodeFailure,
		Err:     err,
	}
}

// PathUnsafe wraps a PathSafety failure, keeping the original in the chain.
func PathUnsafe(path string, cause error) *Error {
	return &Error{
		Type:    ErrorTypePathUnsafe,
		Message: "path failed safety validation",
		Path:    path,
		Code:    CodeInput,
		Err:     cause,
	}
}

func ReferenceInvalid(message string) *Error {
	return &Error{
		Type:    ErrorTypeReferenceInvalid,
		Message: message,
		Code:    CodeInput,
	}
}

func ValidationError(message string, details any) *Error {
	return &Error{
		Type:    ErrorTypeValidation,
		Message: message,
		Code:    CodeInput,
		Details: details,
	}
}

// Canceled wraps a context error. The cause stays matchable with Is.
func Canceled(err error) *Error {
	return &Error{
		Type:    ErrorTypeCanceled,
		Message: "operation canceled",
		Code:    CodeFailure,
		Err:     err,
	}
}

// TypeOf returns the Type of the first *Error in err's chain, or INTERNAL.
func TypeOf(err error) ErrorType {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Type
	}
	return ErrorTypeInternal
}

// ExitCode maps err to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var e *Error
	if stderrors.As(err, &e) && e.Code != 0 {
		return e.Code
	}
	return CodeFailure
}

func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target any) bool { return stderrors.As(err, target) }

func New(text string) error { return stderrors.New(text) }
