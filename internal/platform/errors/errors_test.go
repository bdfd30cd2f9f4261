package errors

import (
	"context"
	stderrs "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatusCodeMapping(t *testing.T) {
	cases := []struct {
		code ErrorCode
		want int
	}{
		{ErrorCodeNotFound, http.StatusNotFound},
		{ErrorCodeInvalidArgument, http.StatusUnprocessableEntity},
		{ErrorCodeConflict, http.StatusConflict},
		{ErrorCodeValidation, http.StatusBadRequest},
		{ErrorCodeJSON, http.StatusBadRequest},
		{ErrorCodeUnavailable, http.StatusServiceUnavailable},
		{ErrorCodeConfig, http.StatusInternalServerError},
		{ErrorCodeIO, http.StatusInternalServerError},
		{ErrorCodeFit, http.StatusInternalServerError},
		{ErrorCodeDB, http.StatusInternalServerError},
		{ErrorCodePanic, http.StatusInternalServerError},
		{ErrorCodeUnknown, http.StatusInternalServerError},
		{9999, http.StatusInternalServerError}, // default branch
	}
	for _, c := range cases {
		if got := HTTPStatusCode(c.code); got != c.want {
			t.Fatalf("HTTPStatusCode(%v) = %d, want %d", c.code, got, c.want)
		}
	}
}

func TestCodeNames(t *testing.T) {
	if ErrorCodeFit.String() != "fit" || ErrorCodeIO.String() != "io" || ErrorCodeConfig.String() != "config" {
		t.Fatalf("unexpected code names: %s %s %s", ErrorCodeFit, ErrorCodeIO, ErrorCodeConfig)
	}
	if got := ErrorCode(999).String(); got != "code(999)" {
		t.Fatalf("unknown code name = %q", got)
	}
}

func TestErrorTypeAndMethods(t *testing.T) {
	var e *Error
	if e.Error() != "<nil>" {
		t.Fatalf("nil *Error render = %q, want <nil>", e.Error())
	}

	e1 := New(ErrorCodeValidation, "bad stuff")
	if CodeOf(e1) != ErrorCodeValidation {
		t.Fatalf("CodeOf(New) = %v", CodeOf(e1))
	}
	e2 := Newf(ErrorCodeJSON, "bad json %d", 12)
	if got := e2.Error(); got != "bad json 12" {
		t.Fatalf("Newf().Error = %q", got)
	}

	src := stderrs.New("root")
	e3 := Wrap(src, ErrorCodeDB, "db failed")
	if u := stderrs.Unwrap(e3); u == nil || u.Error() != "root" {
		t.Fatalf("Wrap did not keep orig")
	}
	e4 := Wrapf(src, ErrorCodeIO, "read %s", "a.jsonl")
	if want := "read a.jsonl: root"; e4.Error() != want {
		t.Fatalf("Wrapf().Error = %q, want %q", e4.Error(), want)
	}

	if got, ok := As(e4); !ok || got.Code() != ErrorCodeIO {
		t.Fatalf("As() failed for our error")
	}
	if _, ok := As(src); ok {
		t.Fatalf("As() true for foreign error")
	}

	e5 := Wrap(src, ErrorCodeInvalidArgument, "oops")
	e6 := WithField(e5, "met")
	e7 := WithOp(e6, "validate")
	if fe, ok := As(e6); !ok || fe.Field() != "met" {
		t.Fatalf("WithField failed")
	}
	if oe, ok := As(e7); !ok || oe.Op() != "validate" {
		t.Fatalf("WithOp failed")
	}
	if fe0, _ := As(e5); fe0.Field() != "" || fe0.Op() != "" {
		t.Fatalf("copy-on-write mutated original")
	}

	if wf := WireFrom(nil); wf != (Wire{}) {
		t.Fatalf("WireFrom(nil) expected zero, got %+v", wf)
	}
	if wf := WireFrom(src); wf.Code != ErrorCodeUnknown || wf.Message != "root" {
		t.Fatalf("WireFrom(foreign) mismatch: %+v", wf)
	}
	if wf := WireFrom(e7); wf.Op != "validate" || wf.Message != "oops" {
		t.Fatalf("WireFrom(ours) mismatch: %+v", wf)
	}

	if st, _ := HTTP(nil); st != http.StatusOK {
		t.Fatalf("HTTP(nil) status = %d", st)
	}

	if !IsCode(NotFoundf("x"), ErrorCodeNotFound) ||
		!IsCode(InvalidArgf("x"), ErrorCodeInvalidArgument) ||
		!IsCode(DBf("x"), ErrorCodeDB) ||
		!IsCode(JSONErrf("x"), ErrorCodeJSON) ||
		!IsCode(PanicErrf("x"), ErrorCodePanic) ||
		!IsCode(Conflictf("x"), ErrorCodeConflict) ||
		!IsCode(Unavailablef("x"), ErrorCodeUnavailable) ||
		!IsCode(Configf("x"), ErrorCodeConfig) ||
		!IsCode(IOf("x"), ErrorCodeIO) ||
		!IsCode(Fitf("x"), ErrorCodeFit) {
		t.Fatalf("sugar helpers code mismatch")
	}

	if WrapIf(nil, ErrorCodeDB, "ignored") != nil {
		t.Fatalf("WrapIf(nil) should return nil")
	}

	deep := fmt.Errorf("level2: %w", fmt.Errorf("level1: %w", src))
	if got := Root(deep); got == nil || got.Error() != "root" {
		t.Fatalf("Root() failed, got %v", got)
	}
}

func TestOpLabelInMessage(t *testing.T) {
	err := WithOp(Fitf("fewer than 2 non-empty bins in [0, 100]"), Op("DATA_2022", "PuppiMET", "y"))
	want := "DATA_2022/PuppiMET/y: fewer than 2 non-empty bins in [0, 100]"
	if err.Error() != want {
		t.Fatalf("got %q, want %q", err.Error(), want)
	}
	if Op("a", "", " b ") != "a/b" {
		t.Fatalf("Op should skip blanks, got %q", Op("a", "", " b "))
	}

	// foreign errors keep their chain
	wrapped := WithOp(context.Canceled, "tag")
	if !stderrs.Is(wrapped, context.Canceled) {
		t.Fatalf("WithOp lost the wrapped cause")
	}
	if wrapped.Error() != "tag: context canceled" {
		t.Fatalf("foreign op render = %q", wrapped.Error())
	}
	if WithOp(nil, "x") != nil {
		t.Fatalf("WithOp(nil) should be nil")
	}
}

func TestHasCodeWalksJoined(t *testing.T) {
	joined := stderrs.Join(
		Fitf("x"),
		fmt.Errorf("outer: %w", IOf("disk")),
	)
	if !HasCode(joined, ErrorCodeFit) || !HasCode(joined, ErrorCodeIO) {
		t.Fatalf("HasCode missed a joined code")
	}
	if HasCode(joined, ErrorCodeConfig) {
		t.Fatalf("HasCode false positive")
	}
	if HasCode(nil, ErrorCodeIO) {
		t.Fatalf("HasCode(nil) should be false")
	}
}

func TestRetryable(t *testing.T) {
	if !Retryable(Unavailablef("upstream 503")) {
		t.Fatalf("unavailable should be retryable")
	}
	if Retryable(IOf("corrupt gzip")) {
		t.Fatalf("io errors are not retryable")
	}
	if Retryable(nil) {
		t.Fatalf("nil is not retryable")
	}
}
