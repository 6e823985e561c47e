// Package hoferr defines the tagged error kinds surfaced by the core.
// The mapping of each kind to an HTTP status lives at the transport
// boundary, not here.
package hoferr

import (
	"errors"
	"fmt"
	"time"
)

type Kind string

const (
	KindInvalidPayload     Kind = "invalid-payload"
	KindInvalidCityName    Kind = "invalid-city-name"
	KindInvalidImageFormat Kind = "invalid-image-format"
	KindRateLimitExceeded  Kind = "rate-limit-exceeded"
	KindInvalidCreatorID   Kind = "invalid-creator-id"
	KindInvalidCreatorName Kind = "invalid-creator-name"
	KindCreatorNotFound    Kind = "creator-not-found"
	KindIncorrectCreatorID Kind = "incorrect-creator-id"
	KindBannedIdentity     Kind = "banned-identity"
	KindBannedCreator      Kind = "banned-creator"
	KindNotFound           Kind = "not-found-by-id"
	KindAlreadyApproved    Kind = "screenshot-already-approved"
	KindAlreadyFavorited   Kind = "already-favorited"
	KindNotFavorited       Kind = "not-favorited"
	KindConflict           Kind = "conflict"
	KindUnauthorized       Kind = "unauthorized"
	KindForbidden          Kind = "forbidden"
)

// Error is a domain error carrying a stable kind and message.
// NotBefore is only set on rate-limit errors.
type Error struct {
	Kind      Kind
	Message   string
	NotBefore time.Time
	cause     error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// New creates a domain error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates a domain error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying error.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, cause: err}
}

// RateLimit creates a rate-limit error carrying the next allowed time.
func RateLimit(message string, notBefore time.Time) *Error {
	return &Error{Kind: KindRateLimitExceeded, Message: message, NotBefore: notBefore}
}

// KindOf returns the kind of err, or an empty kind when err is not a
// domain error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err is a domain error of the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
