package response

import (
	"errors"

	"github.com/fatflowers/academy/pkg/errs"
)

// New generic response spec
type APIResponseCode int

const (
	APIResponseCodeOK           APIResponseCode = 0
	APIResponseCodeBadRequest   APIResponseCode = 40000
	APIResponseCodeUnauthorized APIResponseCode = 40100
	APIResponseCodeForbidden    APIResponseCode = 40300
	APIResponseCodeNotFound     APIResponseCode = 40400
	APIResponseCodeError        APIResponseCode = 50000
	APIResponseCodeUnavailable  APIResponseCode = 50300
)

var codeToMsg = map[APIResponseCode]string{
	APIResponseCodeOK:           "ok",
	APIResponseCodeBadRequest:   "bad request",
	APIResponseCodeUnauthorized: "unauthorized",
	APIResponseCodeForbidden:    "forbidden",
	APIResponseCodeNotFound:     "not found",
	APIResponseCodeError:        "unexpected error",
	APIResponseCodeUnavailable:  "temporarily unavailable, retry later",
}

// APIResponse is the generic response envelope used by HTTP APIs.
// Use OKT / ErrorT helpers to construct instances.
type APIResponse[T any] struct {
	Code    APIResponseCode `json:"code"`
	Message string          `json:"message"`
	Data    T               `json:"data"`
}

// OKT returns a successful response with data.
func OKT[T any](data T) *APIResponse[T] {
	return &APIResponse[T]{Code: APIResponseCodeOK, Message: codeToMsg[APIResponseCodeOK], Data: data}
}

// ErrorT returns an error response with message and optional data.
func ErrorT[T any](code APIResponseCode, data T) *APIResponse[T] {
	return &APIResponse[T]{Code: code, Message: codeToMsg[code], Data: data}
}

// CodeForError maps the error taxonomy onto envelope codes.
func CodeForError(err error) APIResponseCode {
	switch {
	case err == nil:
		return APIResponseCodeOK
	case errors.Is(err, errs.ErrValidation), errors.Is(err, errs.ErrGatewayRejected), errors.Is(err, errs.ErrInvalidTransition):
		return APIResponseCodeBadRequest
	case errors.Is(err, errs.ErrNotFound):
		return APIResponseCodeNotFound
	case errors.Is(err, errs.ErrGatewayUnavailable), errors.Is(err, errs.ErrBusy):
		return APIResponseCodeUnavailable
	default:
		return APIResponseCodeError
	}
}
