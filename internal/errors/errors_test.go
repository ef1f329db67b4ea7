package errors

import (
	stderrors "errors"
	"io"
	"strings"
	"testing"
	"time"
)

// TestFatalSplit verifies the fatal/recoverable split of the taxonomy:
// transport and protocol errors kill the session, everything else does
// not.
func TestFatalSplit(t *testing.T) {
	fatal := []*DebugError{
		Transport("read", io.ErrUnexpectedEOF),
		Protocol("unknown message type"),
	}
	for _, e := range fatal {
		if !e.Fatal() {
			t.Errorf("%s should be fatal", e.Code)
		}
	}

	recoverable := []*DebugError{
		RequestFailed("evaluate", "not paused"),
		Timeout("continue", time.Second),
		NotFound("breakpoint", "app.py:3"),
		State("continue", "running"),
		Terminated(""),
	}
	for _, e := range recoverable {
		if e.Fatal() {
			t.Errorf("%s should not be fatal", e.Code)
		}
	}
}

// TestErrorsUnwrap verifies the cause chain survives for errors.Is.
func TestErrorsUnwrap(t *testing.T) {
	cause := io.ErrUnexpectedEOF
	err := Transport("read", cause)

	if !stderrors.Is(err, cause) {
		t.Error("cause lost from chain")
	}
	if CodeOf(err) != CodeTransport {
		t.Errorf("CodeOf = %s, want %s", CodeOf(err), CodeTransport)
	}
}

// TestCodeOfForeignError verifies non-engine errors report no code and
// FromError promotes them without inventing one.
func TestCodeOfForeignError(t *testing.T) {
	plain := stderrors.New("boom")

	if code := CodeOf(plain); code != "" {
		t.Errorf("CodeOf(plain) = %q, want empty", code)
	}

	de := FromError(plain)
	if de.Code == CodeTransport || de.Code == CodeProtocol {
		t.Errorf("FromError invented fatal code %s", de.Code)
	}
	if de.Message != "boom" {
		t.Errorf("message = %q", de.Message)
	}
	if !stderrors.Is(de, plain) {
		t.Error("original error lost")
	}
}

// TestFromErrorKeepsStructure verifies wrapped engine errors keep their
// code through FromError.
func TestFromErrorKeepsStructure(t *testing.T) {
	inner := NotFound("frame", "999")
	wrapped := &wrapper{inner}

	de := FromError(wrapped)
	if de.Code != CodeNotFound {
		t.Errorf("code = %s, want %s", de.Code, CodeNotFound)
	}
}

type wrapper struct{ err error }

func (w *wrapper) Error() string { return "wrapped: " + w.err.Error() }
func (w *wrapper) Unwrap() error { return w.err }

// TestErrorStringCarriesHint verifies the rendered error keeps the hint
// visible to tool callers.
func TestErrorStringCarriesHint(t *testing.T) {
	err := State("continue", "running")
	if !strings.Contains(err.Error(), "Hint:") {
		t.Errorf("error string lacks hint: %q", err.Error())
	}
	if !strings.Contains(err.Error(), "running") {
		t.Errorf("error string lacks state: %q", err.Error())
	}
}

// TestWithDetails verifies detail augmentation does not drop existing
// fields.
func TestWithDetails(t *testing.T) {
	err := Timeout("launch", 30*time.Second).WithDetails("program", "app.py")
	if err.Details["command"] != "launch" {
		t.Errorf("original detail lost: %+v", err.Details)
	}
	if err.Details["program"] != "app.py" {
		t.Errorf("added detail missing: %+v", err.Details)
	}
}
