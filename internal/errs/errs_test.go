package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	err := New(InsufficientFunds, "not enough available balance")
	if KindOf(err) != InsufficientFunds {
		t.Fatalf("expected InsufficientFunds, got %s", KindOf(err))
	}

	if KindOf(errors.New("plain")) != Internal {
		t.Fatal("expected a non-typed error to default to Internal")
	}
}

func TestKindOfUnwrapsWrapped(t *testing.T) {
	base := New(NotFound, "market not found")
	wrapped := fmt.Errorf("placeOrder: %w", base)
	if KindOf(wrapped) != NotFound {
		t.Fatalf("expected NotFound through fmt.Errorf wrap, got %s", KindOf(wrapped))
	}
}

func TestWrapCarriesCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrap(ContentionTimeout, "settle market", cause)
	if !errors.Is(err, cause) {
		t.Fatal("expected Wrap's error to unwrap to its cause")
	}
	if KindOf(err) != ContentionTimeout {
		t.Fatalf("expected ContentionTimeout, got %s", KindOf(err))
	}
}
