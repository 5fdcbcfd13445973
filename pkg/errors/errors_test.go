package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestAppErrorIsByCode(t *testing.T) {
	err := Wrap(fmt.Errorf("eof"), CodeTransportError, "stream ended early")
	if !stderrors.Is(err, ErrTransport) {
		t.Fatalf("expected errors.Is to match by code")
	}
	if stderrors.Is(err, ErrEmptyResult) {
		t.Fatalf("different codes must not match")
	}

	wrapped := fmt.Errorf("session: %w", err)
	if !stderrors.Is(wrapped, ErrTransport) {
		t.Fatalf("expected match through fmt wrapping")
	}
}

func TestWithDetailDoesNotMutateSentinel(t *testing.T) {
	e := ErrTemplateInvalid.WithDetail("missing roleText")
	if ErrTemplateInvalid.Detail != "" {
		t.Fatalf("sentinel mutated: %q", ErrTemplateInvalid.Detail)
	}
	if e.Detail != "missing roleText" {
		t.Fatalf("detail = %q", e.Detail)
	}
}

func TestCodeOfAndStatus(t *testing.T) {
	cases := []struct {
		err    error
		code   ErrorCode
		status int
	}{
		{ErrTemplateNotFound, CodeTemplateNotFound, http.StatusNotFound},
		{ErrAuthMissing, CodeAuthMissing, http.StatusUnauthorized},
		{fmt.Errorf("x: %w", ErrPersistenceFailure), CodePersistenceFailure, http.StatusBadGateway},
		{stderrors.New("plain"), CodeUnknown, http.StatusInternalServerError},
	}
	for _, c := range cases {
		if got := CodeOf(c.err); got != c.code {
			t.Errorf("CodeOf(%v) = %s, want %s", c.err, got, c.code)
		}
		if got := AsAppError(c.err).HTTPStatus; got != c.status {
			t.Errorf("status(%v) = %d, want %d", c.err, got, c.status)
		}
	}
	if CodeOf(nil) != CodeSuccess {
		t.Fatalf("nil error should map to success")
	}
}
