package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestConflictErrorDetection(t *testing.T) {
	err := fmt.Errorf("save rejected: %w", ConflictError{Code: "13-001", Holder: LockHolder{Owner: "sato"}})
	if !IsConflict(err) {
		t.Fatalf("wrapped ConflictError not detected")
	}
	var ce ConflictError
	if !errors.As(err, &ce) || ce.Holder.Owner != "sato" {
		t.Fatalf("holder lost through wrapping: %+v", ce)
	}
	if IsNotHeld(err) || IsNotFound(err) {
		t.Fatalf("conflict misclassified")
	}
}

func TestNotHeldAndNotFound(t *testing.T) {
	if !IsNotHeld(NotHeldError{Code: "c", Owner: "o"}) {
		t.Fatalf("NotHeldError not detected")
	}
	if !IsNotFound(NotFoundError{Code: "c"}) {
		t.Fatalf("NotFoundError not detected")
	}
}

func TestAuditWriteSentinel(t *testing.T) {
	err := fmt.Errorf("%w: disk full", ErrAuditWrite)
	if !errors.Is(err, ErrAuditWrite) {
		t.Fatalf("wrapped sentinel not detected")
	}
}
