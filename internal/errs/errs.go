// Package errs carries the typed error kinds the core surfaces across its
// transaction boundary, per the core's error handling design: callers at
// the HTTP/JSON boundary map Kind to a status code instead of string
// sniffing a reject reason.
package errs

import "fmt"

type Kind string

const (
	NotFound          Kind = "not_found"
	InvalidState      Kind = "invalid_state"
	InvalidInput      Kind = "invalid_input"
	InsufficientFunds Kind = "insufficient_funds"
	PermissionDenied  Kind = "permission_denied"
	Conflict          Kind = "conflict"
	ContentionTimeout Kind = "contention_timeout"
	Internal          Kind = "internal"
)

type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Message: msg}
}

func Newf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, msg string, cause error) error {
	return &Error{Kind: kind, Message: msg, cause: cause}
}

// KindOf extracts the Kind from err, defaulting to Internal for errors not
// constructed by this package.
func KindOf(err error) Kind {
	var e *Error
	if as(err, &e) {
		return e.Kind
	}
	return Internal
}

func as(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
