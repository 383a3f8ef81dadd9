package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestCodeAndStatusFollowWrappedSentinel(t *testing.T) {
	err := fmt.Errorf("%w: trainer already booked", ErrConflict)

	if got := Code(err); got != CodeConflict {
		t.Fatalf("expected %s, got %s", CodeConflict, got)
	}
	if got := HTTPStatus(err); got != http.StatusConflict {
		t.Fatalf("expected 409, got %d", got)
	}
}

func TestBatchErrorUnwrapsToSentinel(t *testing.T) {
	err := &BatchError{Index: 3, Err: fmt.Errorf("%w: start must be in the future", ErrValidation)}

	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected batch error to match ErrValidation")
	}
	var batchErr *BatchError
	if !errors.As(fmt.Errorf("create: %w", err), &batchErr) || batchErr.Index != 3 {
		t.Fatalf("expected index 3, got %+v", batchErr)
	}
}

func TestUnknownErrorsAreInternal(t *testing.T) {
	err := errors.New("boom")
	if Code(err) != CodeInternal {
		t.Fatalf("expected internal code, got %s", Code(err))
	}
	if HTTPStatus(err) != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", HTTPStatus(err))
	}
}

func TestFromCodeRoundTripsTaxonomy(t *testing.T) {
	for _, sentinel := range []error{
		ErrValidation, ErrInvalidTransition, ErrConflict, ErrForbidden,
		ErrNotFound, ErrPreconditionFailed, ErrTimeout, ErrUnavailable,
	} {
		if got := FromCode(Code(sentinel)); got != sentinel {
			t.Fatalf("expected %v, got %v", sentinel, got)
		}
	}
	if FromCode("NOPE") != nil {
		t.Fatalf("expected nil for unknown code")
	}
}
