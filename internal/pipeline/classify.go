package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nghyane/gameday-net/internal/apierr"
)

// classifyStatus maps a non-2xx status to the error taxonomy. now is used to
// resolve an HTTP-date Retry-After.
func classifyStatus(code int, header http.Header, now time.Time) *apierr.Error {
	switch {
	case code == http.StatusUnauthorized:
		return &apierr.Error{Kind: apierr.KindUnauthorized, Code: code}
	case code == http.StatusNotFound:
		return &apierr.Error{Kind: apierr.KindNotFound, Code: code}
	case code == http.StatusTooManyRequests:
		return apierr.NewRateLimited(parseRetryAfter(header.Get("Retry-After"), now))
	default:
		return apierr.NewServerError(code, nil)
	}
}

// parseRetryAfter accepts delta-seconds or an HTTP-date. Past dates clamp to
// zero; anything unparsable yields nil.
func parseRetryAfter(value string, now time.Time) *time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	if secs, err := strconv.ParseInt(value, 10, 64); err == nil {
		if secs < 0 {
			return nil
		}
		d := time.Duration(secs) * time.Second
		return &d
	}
	if at, err := http.ParseTime(value); err == nil {
		d := at.Sub(now)
		if d < 0 {
			d = 0
		}
		return &d
	}
	return nil
}

// classifyTransport maps a failed round trip. parent is the caller's context,
// so a per-attempt deadline can be told apart from caller cancellation.
func classifyTransport(parent context.Context, err error) *apierr.Error {
	if ctxErr := parent.Err(); ctxErr != nil {
		return contextError(ctxErr)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apierr.New(apierr.KindTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return apierr.New(apierr.KindTimeout, err)
	}
	return apierr.New(apierr.KindNetworkUnavailable, err)
}

// contextError maps a caller context error: cancellation is cancelled, an
// expired caller deadline is a timeout.
func contextError(err error) *apierr.Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apierr.New(apierr.KindTimeout, err)
	}
	return apierr.New(apierr.KindCancelled, err)
}

func decodeError(err error) *apierr.Error {
	return apierr.New(apierr.KindDecodeFailed, fmt.Errorf("decode response: %w", err))
}
