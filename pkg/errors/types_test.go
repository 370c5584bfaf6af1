package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestErrorString(t *testing.T) {
	err := New(ErrCodeRevokedToken, "token revoked")
	if got, want := err.Error(), "[revoked_token] token revoked"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(nil, ErrCodeInternal, "ignored") != nil {
		t.Error("Wrap(nil) should return nil")
	}
}

func TestWrapUnwrap(t *testing.T) {
	base := stderrors.New("disk full")
	wrapped := Wrap(base, ErrCodeStorage, "persist token")
	if !stderrors.Is(wrapped, base) {
		t.Error("wrapped error should match base via errors.Is")
	}
	if got := wrapped.Error(); got != "[storage_error] persist token: disk full" {
		t.Errorf("unexpected message: %q", got)
	}
}

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"nil", nil, ""},
		{"plain", stderrors.New("x"), ErrCodeInternal},
		{"structured", New(ErrCodeWritesDisabled, "writes disabled"), ErrCodeWritesDisabled},
		{"wrapped deeper", fmt.Errorf("outer: %w", New(ErrCodeNotFound, "no job")), ErrCodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CodeOf(tt.err); got != tt.want {
				t.Errorf("CodeOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want int
	}{
		{ErrCodeMissingToken, http.StatusUnauthorized},
		{ErrCodeInvalidToken, http.StatusUnauthorized},
		{ErrCodeRevokedToken, http.StatusUnauthorized},
		{ErrCodeWriteScopeRequired, http.StatusForbidden},
		{ErrCodeWritesDisabled, http.StatusForbidden},
		{ErrCodeNotFound, http.StatusNotFound},
		{ErrCodeValidation, http.StatusBadRequest},
		{ErrCodeSessionBusy, http.StatusConflict},
		{ErrCodeStreamLimit, http.StatusTooManyRequests},
		{ErrCodeInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			if got := tt.code.HTTPStatus(); got != tt.want {
				t.Errorf("HTTPStatus() = %d, want %d", got, tt.want)
			}
		})
	}
}
