package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorString(t *testing.T) {
	err := New(PhaseGrow, KindLimitsExceeded, "expansion would exceed heap limit: %d", 128)
	want := "[grow] limits_exceeded: expansion would exceed heap limit: 128"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestErrorStringWithCause(t *testing.T) {
	cause := stderrors.New("mprotect failed")
	err := Internal(cause, "expand heap")
	if got := err.Error(); !strings.Contains(got, "caused by: mprotect failed") {
		t.Errorf("Error() = %q, missing cause", got)
	}
	if !stderrors.Is(err, cause) {
		t.Error("Unwrap chain does not reach cause")
	}
}

func TestIsMatchesOnKind(t *testing.T) {
	err := RegionFull(4)
	if !stderrors.Is(err, &Error{Kind: KindRegionFull}) {
		t.Error("kind-only target did not match")
	}
	if stderrors.Is(err, &Error{Kind: KindLimitsExceeded}) {
		t.Error("mismatched kind matched")
	}
	if stderrors.Is(err, &Error{Phase: PhaseRun, Kind: KindRegionFull}) {
		t.Error("mismatched phase matched")
	}
}

func TestIsKindThroughWrapping(t *testing.T) {
	err := fmt.Errorf("instantiate: %w", RegionFull(1))
	if !IsKind(err, KindRegionFull) {
		t.Error("IsKind did not unwrap fmt.Errorf")
	}
	if IsKind(err, KindInternal) {
		t.Error("IsKind matched wrong kind")
	}
	if IsKind(nil, KindInternal) {
		t.Error("IsKind(nil) = true")
	}
}

func TestPayloadCarried(t *testing.T) {
	type details struct{ reason string }
	err := RuntimeTerminated(details{reason: "remote"}, "terminated")
	d, ok := err.Payload.(details)
	if !ok || d.reason != "remote" {
		t.Errorf("Payload = %#v, want details{remote}", err.Payload)
	}
}
