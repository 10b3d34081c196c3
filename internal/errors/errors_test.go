package errors

import (
	"errors"
	"io"
	"net/http"
	"testing"
)

func TestAPIError(t *testing.T) {
	t.Parallel()
	e := NotFound("page").WithDetail("name", "x").Wrap(io.EOF)
	if e.StatusCode() != http.StatusNotFound || e.Code() != ErrNotFound {
		t.Errorf("status=%d code=%s", e.StatusCode(), e.Code())
	}
	if e.Message() != "page not found" {
		t.Errorf("Message() = %q", e.Message())
	}
	if e.Error() != "page not found: EOF" {
		t.Errorf("Error() = %q", e.Error())
	}
	if !errors.Is(e, io.EOF) {
		t.Error("Unwrap lost the wrapped error")
	}
	if e.Details()["name"] != "x" {
		t.Errorf("Details() = %v", e.Details())
	}
	var ews ErrorWithStatus
	if !errors.As(error(e), &ews) {
		t.Error("APIError must implement ErrorWithStatus")
	}
}

func TestConstructors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err    *APIError
		status int
		code   ErrorCode
	}{
		{BadRequest("x"), http.StatusBadRequest, ErrValidationFailed},
		{MissingField("body"), http.StatusBadRequest, ErrMissingField},
		{TooManyRequests(), http.StatusTooManyRequests, ErrRateLimited},
		{Internal(io.EOF), http.StatusInternalServerError, ErrInternal},
	}
	for _, tt := range tests {
		if tt.err.StatusCode() != tt.status || tt.err.Code() != tt.code {
			t.Errorf("%q: status=%d code=%s, want %d %s", tt.err.Error(), tt.err.StatusCode(), tt.err.Code(), tt.status, tt.code)
		}
	}
	if m := Internal(io.EOF).Message(); m != "Internal server error" {
		t.Errorf("Internal leaks details: %q", m)
	}
}
