package speech

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_Retryable(t *testing.T) {
	cases := []struct {
		kind ErrorKind
		want bool
	}{
		{KindTimeout, true},
		{KindQuotaExceeded, true},
		{KindServiceUnavailable, true},
		{KindInvalidInput, false},
	}
	for _, tc := range cases {
		e := NewError("vendor", tc.kind, "boom")
		if e.Retryable() != tc.want {
			t.Errorf("Retryable(%s) = %v, want %v", tc.kind, e.Retryable(), tc.want)
		}
	}
}

func TestIsRetryable_WrappedError(t *testing.T) {
	inner := NewError("vendor", KindTimeout, "deadline exceeded")
	wrapped := fmt.Errorf("synthesize: %w", inner)

	if !IsRetryable(wrapped) {
		t.Error("wrapped retryable provider error should be retryable")
	}
	if IsRetryable(errors.New("plain")) {
		t.Error("plain errors must not be retryable")
	}
}

func TestKindOf(t *testing.T) {
	err := fmt.Errorf("outer: %w", NewError("v", KindInvalidInput, "bad audio"))
	if got := KindOf(err); got != KindInvalidInput {
		t.Errorf("KindOf = %q, want %q", got, KindInvalidInput)
	}
	if got := KindOf(errors.New("x")); got != "" {
		t.Errorf("KindOf(plain) = %q, want empty", got)
	}
}

func TestError_UnwrapChain(t *testing.T) {
	cause := errors.New("connection reset")
	err := NewError("vendor", KindServiceUnavailable, "upstream").WithCause(cause)
	if !errors.Is(err, cause) {
		t.Error("errors.Is should reach the cause through Unwrap")
	}
}
