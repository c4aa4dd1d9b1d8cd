package errs

import (
	"errors"
	"testing"
)

func TestNewAssignsClassFromKind(t *testing.T) {
	err := New(KindManifestNotFound, "fetch manifest", nil)
	if err.Class != ClassNetwork {
		t.Fatalf("expected ClassNetwork for KindManifestNotFound, got %s", err.Class)
	}
}

func TestRetriableNetworkKindsAreRetriable(t *testing.T) {
	for _, kind := range []Kind{KindManifestNotFound, KindManifestNotAccessible, KindManifestInvalid, KindDataFileNotFound, KindDataFileNotAccessible} {
		err := New(kind, "x", nil)
		if !err.Retriable() {
			t.Fatalf("expected %s to be retriable", kind)
		}
	}
}

func TestConstraintViolationIsRetriable(t *testing.T) {
	if !New(KindConstraintViolation, "locked", nil).Retriable() {
		t.Fatal("expected constraint-violation to be retriable")
	}
}

func TestProtocolAndControlKindsAreNotRetriable(t *testing.T) {
	for _, kind := range []Kind{KindHeaderMissing, KindVersionMismatch, KindInvalidJSON, KindAbort, KindOverlappingUpdate, KindOffline, KindQuotaExceeded, KindEngineUnavailable} {
		err := New(kind, "x", nil)
		if err.Retriable() {
			t.Fatalf("expected %s to not be retriable", kind)
		}
	}
}

func TestErrorIsMatchesByKind(t *testing.T) {
	a := New(KindAbort, "canceled", nil)
	if !errors.Is(a, Abort) {
		t.Fatal("expected a freshly constructed abort error to match the Abort sentinel")
	}
	b := New(KindOffline, "no network", nil)
	if errors.Is(b, Abort) {
		t.Fatal("expected a different kind to not match the Abort sentinel")
	}
}

func TestUnwrapExposesCause(t *testing.T) {
	cause := errors.New("boom")
	err := New(KindEngineUnavailable, "open db", cause)
	if !errors.Is(err, cause) {
		t.Fatal("expected errors.Is to reach the wrapped cause")
	}
}

func TestErrorMessageIncludesKindAndClass(t *testing.T) {
	err := New(KindQuotaExceeded, "disk full", nil)
	msg := err.Error()
	if msg == "" {
		t.Fatal("expected a non-empty error message")
	}
}
