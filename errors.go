package goarc

import (
	"errors"
)

// Code is a stable result code. The values are part of the public
// contract and never renumber; callers shipping them across process or
// FFI boundaries can rely on them.
type Code int

const (
	CodeOK                Code = 0
	CodeCreateArchive     Code = -1
	CodeOpenFile          Code = -2
	CodeReadEntry         Code = -3
	CodeExtract           Code = -4
	CodeCompress          Code = -5
	CodePasswordRequired  Code = -6
	CodeWrongPassword     Code = -7
	CodeUnsupportedFormat Code = -8
	CodeCancelled         Code = -9
)

func (c Code) String() string {
	switch c {
	case CodeOK:
		return "ok"
	case CodeCreateArchive:
		return "create archive failed"
	case CodeOpenFile:
		return "open failed"
	case CodeReadEntry:
		return "read entry failed"
	case CodeExtract:
		return "extract failed"
	case CodeCompress:
		return "compress failed"
	case CodePasswordRequired:
		return "password required"
	case CodeWrongPassword:
		return "wrong password"
	case CodeUnsupportedFormat:
		return "unsupported format"
	case CodeCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Error is the failure type returned by every operation in this package.
// Cancellation wraps the context error, so errors.Is against
// context.Canceled and context.DeadlineExceeded keeps working.
type Error struct {
	Code Code
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	s := e.Op
	if e.Path != "" {
		s += " " + e.Path
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

// CodeOf extracts the result code from err. A nil error is CodeOK;
// errors that did not come from this package map to CodeExtract.
func CodeOf(err error) Code {
	if err == nil {
		return CodeOK
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeExtract
}

func wrap(code Code, op, path string, err error) *Error {
	return &Error{Code: code, Op: op, Path: path, Err: err}
}
