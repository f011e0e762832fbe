// Package apperr defines the typed domain errors returned by the scheduling
// core and their HTTP status mapping.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a domain failure.
type Kind string

const (
	KindNotFound                 Kind = "not_found"
	KindForbidden                Kind = "forbidden"
	KindValidation               Kind = "validation"
	KindPaymentRequired          Kind = "payment_required"
	KindInsufficientNotice       Kind = "insufficient_notice"
	KindOverlap                  Kind = "overlap"
	KindSlotNotAvailable         Kind = "slot_not_available"
	KindCancellationWindowClosed Kind = "cancellation_window_closed"
	KindJoinWindowNotYetOpen     Kind = "join_window_not_yet_open"
	KindJoinWindowClosed         Kind = "join_window_closed"
	KindExtensionLimitReached    Kind = "extension_limit_reached"
	KindInvalidState             Kind = "invalid_state"
)

// Error is a domain error carrying a kind and optional structured details.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same kind, so sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// With returns a copy carrying an extra detail.
func (e *Error) With(key string, value any) *Error {
	details := make(map[string]any, len(e.Details)+1)
	for k, v := range e.Details {
		details[k] = v
	}
	details[key] = value
	return &Error{Kind: e.Kind, Message: e.Message, Details: details, Err: e.Err}
}

// Sentinels for errors.Is comparisons.
var (
	ErrNotFound                 = &Error{Kind: KindNotFound, Message: "not found"}
	ErrForbidden                = &Error{Kind: KindForbidden, Message: "forbidden"}
	ErrValidation               = &Error{Kind: KindValidation, Message: "invalid request"}
	ErrPaymentRequired          = &Error{Kind: KindPaymentRequired, Message: "payment required"}
	ErrInsufficientNotice       = &Error{Kind: KindInsufficientNotice, Message: "insufficient notice"}
	ErrOverlap                  = &Error{Kind: KindOverlap, Message: "overlaps an existing slot"}
	ErrSlotNotAvailable         = &Error{Kind: KindSlotNotAvailable, Message: "slot is not available"}
	ErrCancellationWindowClosed = &Error{Kind: KindCancellationWindowClosed, Message: "cancellation window has closed"}
	ErrJoinWindowNotYetOpen     = &Error{Kind: KindJoinWindowNotYetOpen, Message: "join window is not open yet"}
	ErrJoinWindowClosed         = &Error{Kind: KindJoinWindowClosed, Message: "join window has closed"}
	ErrExtensionLimitReached    = &Error{Kind: KindExtensionLimitReached, Message: "extension limit reached"}
	ErrInvalidState             = &Error{Kind: KindInvalidState, Message: "invalid state"}
)

// New builds an error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an underlying error.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func NotFound(format string, args ...any) *Error   { return New(KindNotFound, format, args...) }
func Forbidden(format string, args ...any) *Error  { return New(KindForbidden, format, args...) }
func Validation(format string, args ...any) *Error { return New(KindValidation, format, args...) }
func InvalidState(format string, args ...any) *Error {
	return New(KindInvalidState, format, args...)
}

// KindOf extracts the kind of a domain error, or "" for infrastructure errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// HTTPStatus maps an error to a response status code.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindNotFound:
		return http.StatusNotFound
	case KindForbidden:
		return http.StatusForbidden
	case KindValidation:
		return http.StatusBadRequest
	case KindPaymentRequired:
		return http.StatusPaymentRequired
	case KindSlotNotAvailable, KindOverlap, KindInvalidState, KindExtensionLimitReached:
		return http.StatusConflict
	case KindInsufficientNotice, KindCancellationWindowClosed, KindJoinWindowNotYetOpen, KindJoinWindowClosed:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
