// Package vfserr provides a structured, POSIX-errno-keyed error system for
// the VFS kernel: every operation failure carries a libc-style code, an
// optional path, and an optional stack trace, and is JSON-serializable so it
// can cross a backend boundary (overlay, folder adapter, mount dispatch) and
// have its path rewritten without losing its identity.
package vfserr

import (
	"encoding/json"
	"fmt"
	"runtime"
	"strings"
)

// Code is a libc-style errno code.
type Code string

// Error codes, with their POSIX errno numbers, per spec 4.A.
const (
	EPERM     Code = "EPERM"
	ENOENT    Code = "ENOENT"
	EIO       Code = "EIO"
	EBADF     Code = "EBADF"
	EACCES    Code = "EACCES"
	ELOOP     Code = "ELOOP"
	EBUSY     Code = "EBUSY"
	EEXIST    Code = "EEXIST"
	ENOTDIR   Code = "ENOTDIR"
	EISDIR    Code = "EISDIR"
	EINVAL    Code = "EINVAL"
	EFBIG     Code = "EFBIG"
	ENOSPC    Code = "ENOSPC"
	EROFS     Code = "EROFS"
	ENOTEMPTY Code = "ENOTEMPTY"
	ENOTSUP   Code = "ENOTSUP"
)

// Errno returns the libc errno number for a code.
func (c Code) Errno() int {
	switch c {
	case EPERM:
		return 1
	case ENOENT:
		return 2
	case EIO:
		return 5
	case EBADF:
		return 9
	case EACCES:
		return 13
	case EBUSY:
		return 16
	case EEXIST:
		return 17
	case ENOTDIR:
		return 20
	case EISDIR:
		return 21
	case EINVAL:
		return 22
	case EFBIG:
		return 27
	case ENOSPC:
		return 28
	case EROFS:
		return 30
	case ENOTEMPTY:
		return 39
	case ENOTSUP:
		return 95
	case ELOOP:
		return 40
	default:
		return 0
	}
}

// Category groups codes by kind, following spec 7's error-handling design.
type Category string

const (
	CategoryPermission  Category = "permission"
	CategoryExistence   Category = "existence"
	CategoryType        Category = "type"
	CategoryDescriptor  Category = "descriptor"
	CategoryValidity    Category = "validity"
	CategoryCapability  Category = "capability"
	CategoryConcurrency Category = "concurrency"
	CategoryStorage     Category = "storage"
	CategoryCapacity    Category = "capacity"
)

// GetCategory returns the error category for a code.
func GetCategory(code Code) Category {
	switch code {
	case EPERM, EACCES, EROFS:
		return CategoryPermission
	case ENOENT, EEXIST:
		return CategoryExistence
	case EISDIR, ENOTDIR, ENOTEMPTY:
		return CategoryType
	case EBADF:
		return CategoryDescriptor
	case EINVAL:
		return CategoryValidity
	case ENOTSUP:
		return CategoryCapability
	case EBUSY:
		return CategoryConcurrency
	case EIO:
		return CategoryStorage
	case ENOSPC, EFBIG:
		return CategoryCapacity
	case ELOOP:
		return CategoryType
	default:
		return CategoryStorage
	}
}

// Error is the structured error type returned by every VFS operation.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Path    string `json:"path,omitempty"`
	Stack   string `json:"stack,omitempty"`

	Cause error `json:"-"`
}

// Error implements the error interface, formatted per spec 7:
// "Error: <CODE>: <message>, '<path>'".
func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("Error: %s: %s, '%s'", e.Code, e.Message, e.Path)
	}
	return fmt.Sprintf("Error: %s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/errors.As compatibility.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches on code, so errors.Is(err, vfserr.New(vfserr.ENOENT, "")) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Errno returns the libc errno number for this error's code.
func (e *Error) Errno() int {
	return e.Code.Errno()
}

// Category returns the category for this error's code.
func (e *Error) Category() Category {
	return GetCategory(e.Code)
}

// New creates an Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an Error with a formatted message.
func Newf(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithPath returns a copy of e with Path set.
func (e *Error) WithPath(path string) *Error {
	clone := *e
	clone.Path = path
	return &clone
}

// WithCause returns a copy of e with Cause set.
func (e *Error) WithCause(cause error) *Error {
	clone := *e
	clone.Cause = cause
	return &clone
}

// WithStack returns a copy of e with a captured stack trace.
func (e *Error) WithStack() *Error {
	clone := *e
	clone.Stack = CaptureStack(2)
	return &clone
}

// RewritePath rewrites an intra-backend path prefix back to the caller's
// view after an error escapes a backend boundary (overlay, folder adapter,
// mount dispatch), per spec 4.A's invariant.
func (e *Error) RewritePath(from, to string) *Error {
	clone := *e
	if strings.HasPrefix(clone.Path, from) {
		clone.Path = to + strings.TrimPrefix(clone.Path, from)
	}
	clone.Message = strings.ReplaceAll(clone.Message, from, to)
	return &clone
}

// CaptureStack captures the current stack trace for debugging, skipping the
// given number of frames.
func CaptureStack(skip int) string {
	const depth = 16
	var pcs [depth]uintptr
	n := runtime.Callers(skip+2, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])

	var stack []string
	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.File, "vfserr.go") {
			stack = append(stack, fmt.Sprintf("%s:%d %s", frame.File, frame.Line, frame.Function))
		}
		if !more {
			break
		}
	}
	return strings.Join(stack, "\n")
}

// JSON serializes the error, per spec 4.A: "u32 length || utf-8 JSON" for the
// wire form; JSON returns just the payload half.
func (e *Error) JSON() (string, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// FromJSON deserializes the JSON payload half of the wire form.
func FromJSON(data []byte) (*Error, error) {
	var e Error
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// As extracts a *Error from a generic error, if it is one (directly or
// wrapped).
func As(err error) (*Error, bool) {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil, false
		}
		err = u.Unwrap()
	}
	return nil, false
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	e, ok := As(err)
	return ok && e.Code == code
}
