// Package apperr carries the closed set of error kinds the API distinguishes.
// Business logic returns these instead of raw status codes; the HTTP layer
// owns the kind-to-status mapping.
package apperr

import "errors"

type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindConflict
	KindValidation
	KindUnauthorized
	KindForbidden
	KindUnavailable
)

type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "internal error"
}

func (e *Error) Unwrap() error { return e.Err }

func NotFound(msg string) *Error     { return &Error{Kind: KindNotFound, Msg: msg} }
func Conflict(msg string) *Error     { return &Error{Kind: KindConflict, Msg: msg} }
func Validation(msg string) *Error   { return &Error{Kind: KindValidation, Msg: msg} }
func Unauthorized(msg string) *Error { return &Error{Kind: KindUnauthorized, Msg: msg} }
func Forbidden(msg string) *Error    { return &Error{Kind: KindForbidden, Msg: msg} }
func Unavailable(msg string) *Error  { return &Error{Kind: KindUnavailable, Msg: msg} }

// Internal wraps an unexpected failure, keeping the cause for logs while the
// message stays generic for callers.
func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Msg: "Internal server error", Err: err}
}

// KindOf extracts the kind from err, defaulting to KindInternal for anything
// that is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
