package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestWrapReturnsNilForNilError(t *testing.T) {
	if err := Wrap(Internal, "op", nil); err != nil {
		t.Errorf("Wrap(nil) = %v, want nil", err)
	}
}

func TestWrapPreservesKindAndMessage(t *testing.T) {
	base := errors.New("boom")
	err := Wrap(TransientNetwork, "dial", base)

	if err == nil {
		t.Fatal("expected a non-nil error")
	}
	if got := KindOf(err); got != TransientNetwork {
		t.Errorf("KindOf = %v, want %v", got, TransientNetwork)
	}
	if !errors.Is(err, base) {
		t.Error("expected Wrap to preserve unwrap chain to the base error")
	}
	if got := err.Error(); got == "" {
		t.Error("expected a non-empty error message")
	}
}

func TestKindOfDefaultsToInternalForPlainErrors(t *testing.T) {
	if got := KindOf(errors.New("plain")); got != Internal {
		t.Errorf("KindOf(plain error) = %v, want Internal", got)
	}
}

func TestKindOfUnwrapsThroughFmtWrapping(t *testing.T) {
	inner := Wrap(RateLimited, "upstream", errors.New("429"))
	outer := fmt.Errorf("calling api: %w", inner)

	if got := KindOf(outer); got != RateLimited {
		t.Errorf("KindOf(wrapped) = %v, want RateLimited", got)
	}
}

func TestIsRetryableForTransientAndRateLimitedOnly(t *testing.T) {
	cases := []struct {
		kind Kind
		want bool
	}{
		{TransientNetwork, true},
		{RateLimited, true},
		{ProtocolInvalid, false},
		{ConstraintViolation, false},
		{Fatal, false},
		{Internal, false},
	}
	for _, c := range cases {
		err := Wrap(c.kind, "op", errors.New("x"))
		if got := IsRetryable(err); got != c.want {
			t.Errorf("IsRetryable(%v) = %v, want %v", c.kind, got, c.want)
		}
	}
}

func TestKindStringValues(t *testing.T) {
	cases := map[Kind]string{
		Internal:            "internal",
		TransientNetwork:    "transient_network",
		RateLimited:         "rate_limited",
		ProtocolInvalid:     "protocol_invalid",
		ConstraintViolation: "constraint_violation",
		Fatal:               "fatal",
	}
	for k, want := range cases {
		if got := k.String(); got != want {
			t.Errorf("Kind(%d).String() = %q, want %q", k, got, want)
		}
	}
}
