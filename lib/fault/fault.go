// Package fault defines the business errors returned to API callers. Each error carries a stable code so that
// clients can react to it without parsing messages.
package fault

import (
	"errors"
	"net/http"
)

// Error codes.
const (
	CodeInvalidData         = "E99"
	CodeNoDataExists        = "E14"
	CodeAlreadyCompleted    = "already completed"
	CodeNumberMustGreater   = "E8"
	CodeRegisteredAsUser    = "E37"
	CodeAdminWalletExisted  = "E45"
	CodeAdminNameExisted    = "E46"
	CodeUserNotBDA          = "E50"
	CodeInvalidReferrer     = "E19"
	CodeEditionUnsuccessful = "E31"
	CodeInsufficientNFT     = "E24"
	CodeInvalidAddress      = "E18"
	CodePermission          = "E403"
	CodeInternal            = "E500"
)

// Error is a business error with a code and a message for the caller.
type Error struct {
	Code    string
	Message string
	Err     error // cause, not shown to callers
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New returns an error with the given code and message.
func New(code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// Wrap returns an error with the given code and message keeping err as its cause.
func Wrap(code, msg string, err error) *Error {
	return &Error{Code: code, Message: msg, Err: err}
}

func InvalidData(msg string) *Error { return New(CodeInvalidData, msg) }

func NotFound(msg string) *Error { return New(CodeNoDataExists, msg) }

func Permission(msg string) *Error { return New(CodePermission, msg) }

// Code returns the code of a business error, or CodeInternal for any other error.
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// Is returns true if err is a business error with the given code.
func Is(err error, code string) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}

// HTTPStatus maps an error to the status code replied to the caller.
func HTTPStatus(err error) int {
	var e *Error
	if !errors.As(err, &e) {
		return http.StatusInternalServerError
	}
	switch e.Code {
	case CodeNoDataExists:
		return http.StatusNotFound
	case CodePermission:
		return http.StatusForbidden
	case CodeInternal:
		return http.StatusInternalServerError
	}
	return http.StatusBadRequest
}

// Message returns the text replied to the caller. Internal errors are not exposed.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Code != CodeInternal {
		return e.Message
	}
	return "internal server error"
}
