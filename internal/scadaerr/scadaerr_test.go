package scadaerr_test

import (
	"errors"
	"testing"

	"github.com/watertreat/scada-core/internal/scadaerr"
)

func TestErrorFormatsWithAndWithoutCause(t *testing.T) {
	plain := scadaerr.New(scadaerr.NotFound, "sensor rtu-tank-1")
	if plain.Error() != "NOT_FOUND: sensor rtu-tank-1" {
		t.Fatalf("unexpected message: %q", plain.Error())
	}

	wrapped := scadaerr.Wrap(scadaerr.IO, "send Connect Request", errors.New("connection refused"))
	if wrapped.Error() != "IO: send Connect Request: connection refused" {
		t.Fatalf("unexpected message: %q", wrapped.Error())
	}
}

func TestIsUnwrapsNestedCause(t *testing.T) {
	inner := scadaerr.New(scadaerr.Timeout, "Connect Response")
	outer := scadaerr.Wrap(scadaerr.Protocol, "resilient connect", inner)

	if !scadaerr.Is(outer, scadaerr.Protocol) {
		t.Fatal("expected outer code to match")
	}
	if !scadaerr.Is(outer, scadaerr.Timeout) {
		t.Fatal("expected Is to unwrap to inner code")
	}
	if scadaerr.Is(outer, scadaerr.NotFound) {
		t.Fatal("did not expect NotFound to match")
	}
}

func TestIsReturnsFalseForPlainError(t *testing.T) {
	if scadaerr.Is(errors.New("boom"), scadaerr.Internal) {
		t.Fatal("expected plain errors to never match a scadaerr code")
	}
}

func TestUnwrapReturnsNilWithoutCause(t *testing.T) {
	e := scadaerr.New(scadaerr.NotFound, "x")
	if e.Unwrap() != nil {
		t.Fatal("expected Unwrap() to be nil when no Cause was set")
	}
}
