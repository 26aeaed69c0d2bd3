package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestMetadataFor_KnownCode(t *testing.T) {
	meta := MetadataFor(CodeInsufficientStock)
	if meta.HTTPStatus != http.StatusConflict {
		t.Fatalf("expected 409 for insufficient stock, got %d", meta.HTTPStatus)
	}
	if meta.Retryable {
		t.Fatal("insufficient stock should not be retryable")
	}
}

func TestMetadataFor_UnknownCodeFallsBackToInternal(t *testing.T) {
	meta := MetadataFor(Code("SOMETHING_ELSE"))
	if meta.HTTPStatus != http.StatusInternalServerError {
		t.Fatalf("expected internal fallback, got %d", meta.HTTPStatus)
	}
}

func TestWrap_PreservesCause(t *testing.T) {
	cause := stdErrors.New("row locked")
	err := Wrap(CodeDependency, cause, "fetch wallet")

	if !stdErrors.Is(err, cause) {
		t.Fatal("expected wrapped error to match its cause")
	}
	if err.Code() != CodeDependency {
		t.Fatalf("unexpected code %s", err.Code())
	}
}

func TestAs_FindsTypedErrorThroughWrapping(t *testing.T) {
	inner := New(CodeOverbooking, "slot full").WithDetails(map[string]any{"slot_id": "abc"})
	wrapped := fmt.Errorf("booking failed: %w", inner)

	typed := As(wrapped)
	if typed == nil {
		t.Fatal("expected As to recover the typed error")
	}
	if typed.Code() != CodeOverbooking {
		t.Fatalf("unexpected code %s", typed.Code())
	}
	if typed.Details() == nil {
		t.Fatal("expected details to survive wrapping")
	}
}

func TestIsCode(t *testing.T) {
	err := New(CodeAlreadyProcessed, "withdrawal resolved twice")
	if !IsCode(err, CodeAlreadyProcessed) {
		t.Fatal("expected IsCode to match")
	}
	if IsCode(err, CodeNotFound) {
		t.Fatal("expected IsCode to reject a different code")
	}
	if IsCode(nil, CodeNotFound) {
		t.Fatal("expected IsCode(nil) to be false")
	}
}
