package net

import (
	"context"
	"net/http"
	"testing"

	perr "metxy/internal/platform/errors"
)

func TestWithRequest(t *testing.T) {
	ctx := WithRequest(context.Background(), "req-1")
	if RequestID(ctx) != "req-1" {
		t.Fatalf("got %q", RequestID(ctx))
	}
	if RequestID(WithRequest(context.Background(), "")) != "" {
		t.Fatal("empty id should not be stored")
	}
}

func TestError(t *testing.T) {
	status, w := Error(perr.WithField(perr.InvalidArgf("tag is not a path-safe identifier"), "tag"), "r")
	if status != http.StatusUnprocessableEntity || w.Code != perr.ErrorCodeInvalidArgument || w.Field != "tag" {
		t.Fatalf("%d %+v", status, w)
	}
	if w.Status != "Unprocessable Entity" || w.RequestID != "r" {
		t.Fatalf("%+v", w)
	}

	status, w = Error(perr.NotFoundf("no corrections"), "")
	if status != http.StatusNotFound || w.Error == "" {
		t.Fatalf("%d %+v", status, w)
	}

	status, w = Error(nil, "")
	if status != http.StatusOK || w.StatusCode != http.StatusOK {
		t.Fatalf("%d %+v", status, w)
	}
}
