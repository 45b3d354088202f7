package apierr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Error is the only error type surfaced by the pipeline and the streaming
// client. Code is set for ServerError (and carries the raw status for the
// other HTTP-derived kinds); RetryAfter is set for RateLimited when the
// server advertised one.
type Error struct {
	Kind       Kind
	Code       int
	RetryAfter *time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Kind.String()
	if e.Kind == KindServerError && e.Code != 0 {
		msg = fmt.Sprintf("%s(%d)", msg, e.Code)
	}
	if e.Kind == KindRateLimited && e.RetryAfter != nil {
		msg = fmt.Sprintf("%s(retry after %s)", msg, *e.RetryAfter)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// StatusCode reports the HTTP status that produced the error, or 0.
func (e *Error) StatusCode() int {
	if e == nil {
		return 0
	}
	return e.Code
}

// Is matches any *Error of the same kind, so errors.Is(err, apierr.Unauthorized)
// style sentinels work regardless of payload.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil {
		return false
	}
	return t.Kind == e.Kind && t.Code == 0 && t.RetryAfter == nil && t.Err == nil
}

// Retryable reports whether the retry loop may attempt the request again.
// Unauthorized is retryable only through refresh-and-replay, never backoff;
// the pipeline handles that distinction.
func (e *Error) Retryable() bool {
	if e == nil {
		return false
	}
	switch e.Kind {
	case KindUnauthorized, KindRateLimited, KindNetworkUnavailable, KindTimeout:
		return true
	case KindServerError:
		return e.Code >= http.StatusInternalServerError
	default:
		return false
	}
}

// Sentinels for errors.Is comparisons.
var (
	Unauthorized       = &Error{Kind: KindUnauthorized}
	NotFound           = &Error{Kind: KindNotFound}
	ServerError        = &Error{Kind: KindServerError}
	RateLimited        = &Error{Kind: KindRateLimited}
	NetworkUnavailable = &Error{Kind: KindNetworkUnavailable}
	Timeout            = &Error{Kind: KindTimeout}
	DecodeFailed       = &Error{Kind: KindDecodeFailed}
	EncodeFailed       = &Error{Kind: KindEncodeFailed}
	InvalidRequest     = &Error{Kind: KindInvalidRequest}
	Cancelled          = &Error{Kind: KindCancelled}
)

func New(kind Kind, cause error) *Error {
	return &Error{Kind: kind, Err: cause}
}

func NewServerError(code int, cause error) *Error {
	return &Error{Kind: KindServerError, Code: code, Err: cause}
}

func NewRateLimited(retryAfter *time.Duration) *Error {
	return &Error{Kind: KindRateLimited, Code: http.StatusTooManyRequests, RetryAfter: retryAfter}
}

// KindOf extracts the Kind of err. Context errors that were never wrapped map
// to Cancelled / Timeout; any other foreign error reports 0.
func KindOf(err error) Kind {
	if err == nil {
		return 0
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	switch {
	case errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	}
	return 0
}

// As returns err as *Error when it is one.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
