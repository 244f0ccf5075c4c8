package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOfWrapped(t *testing.T) {
	base := New(KindInsufficientFunds, "need %s have %s", "2", "1")
	wrapped := fmt.Errorf("multipayout: %w", base)

	if !IsKind(wrapped, KindInsufficientFunds) {
		t.Fatalf("expected insufficient_funds kind, got %s", KindOf(wrapped))
	}
}

func TestKindOfPlainError(t *testing.T) {
	if KindOf(errors.New("boom")) != KindUnknown {
		t.Fatal("plain error should classify as unknown")
	}
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrap(KindRPC, cause, "get slot")

	if !errors.Is(err, cause) {
		t.Fatal("wrapped cause lost")
	}
	if IsKind(err, KindValidation) {
		t.Fatal("wrong kind match")
	}
}
