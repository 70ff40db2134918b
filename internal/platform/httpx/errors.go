// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"
)

// Sentinel errors handlers wrap domain errors into.
var (
	ErrNotFound      = errors.New("resource not found")
	ErrConflict      = errors.New("conflict")
	ErrValidation    = errors.New("validation failed")
	ErrUnprocessable = errors.New("cannot be processed")
	ErrUnavailable   = errors.New("service unavailable")
)

// RespondError maps errors to enveloped HTTP failures. Unknown errors are
// reported as 500 without leaking their text.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		Fail(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrConflict):
		Fail(w, http.StatusConflict, err.Error())
	case errors.Is(err, ErrValidation):
		Fail(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrUnprocessable):
		Fail(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ErrUnavailable):
		Fail(w, http.StatusServiceUnavailable, err.Error())
	default:
		Fail(w, http.StatusInternalServerError, "internal error")
	}
}
