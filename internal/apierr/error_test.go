package apierr

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestRetryable(t *testing.T) {
	tests := []struct {
		err  *Error
		want bool
	}{
		{New(KindUnauthorized, nil), true},
		{NewRateLimited(nil), true},
		{New(KindNetworkUnavailable, nil), true},
		{New(KindTimeout, nil), true},
		{NewServerError(503, nil), true},
		{NewServerError(500, nil), true},
		{NewServerError(400, nil), false},
		{NewServerError(409, nil), false},
		{New(KindNotFound, nil), false},
		{New(KindDecodeFailed, nil), false},
		{New(KindEncodeFailed, nil), false},
		{New(KindInvalidRequest, nil), false},
		{New(KindCancelled, nil), false},
	}
	for _, tt := range tests {
		if got := tt.err.Retryable(); got != tt.want {
			t.Errorf("%v.Retryable() = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestMessagesAreDistinct(t *testing.T) {
	seen := make(map[string]Kind)
	for k := KindUnauthorized; k <= KindCancelled; k++ {
		msg := k.Message()
		if prev, ok := seen[msg]; ok {
			t.Errorf("kinds %v and %v share message %q", prev, k, msg)
		}
		seen[msg] = k
	}
}

func TestErrorsIsMatchesKind(t *testing.T) {
	wrapped := fmt.Errorf("send: %w", NewServerError(502, errors.New("bad gateway")))
	if !errors.Is(wrapped, ServerError) {
		t.Error("expected wrapped server error to match sentinel")
	}
	if errors.Is(wrapped, NotFound) {
		t.Error("server error must not match not_found")
	}
	if KindOf(wrapped) != KindServerError {
		t.Errorf("KindOf = %v", KindOf(wrapped))
	}
}

func TestKindOfContextErrors(t *testing.T) {
	if KindOf(context.Canceled) != KindCancelled {
		t.Error("context.Canceled should map to cancelled")
	}
	if KindOf(context.DeadlineExceeded) != KindTimeout {
		t.Error("context.DeadlineExceeded should map to timeout")
	}
	if KindOf(errors.New("other")) != 0 {
		t.Error("foreign error should have no kind")
	}
}

func TestErrorString(t *testing.T) {
	d := 5 * time.Second
	if got := NewRateLimited(&d).Error(); got != "rate_limited(retry after 5s)" {
		t.Errorf("unexpected string: %q", got)
	}
	if got := NewServerError(503, nil).Error(); got != "server_error(503)" {
		t.Errorf("unexpected string: %q", got)
	}
}
