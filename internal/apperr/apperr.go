package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is the integer error code surfaced in the {errcode, msg} payload.
type Code int

const (
	CodeInternal            Code = 1000
	CodeInvalidRequest      Code = 1001
	CodeUnauthorized        Code = 1002
	CodeNotFound            Code = 1003
	CodeModelNotConfigured  Code = 1010
	CodeProviderError       Code = 1011
	CodeOllamaConnection    Code = 1020
	CodeOllamaInvoke        Code = 1021
	CodeOllamaModelNotFound Code = 1022
	CodeOllamaMemory        Code = 1023
	CodeCollectionCreate    Code = 1030
	CodePartitionCreate     Code = 1031
	CodeEmbeddingDim        Code = 1032
	CodeFileUpload          Code = 1040
	CodeFileDelete          Code = 1041
	CodeRecursionLimit      Code = 1050
)

// Error carries an error code plus the HTTP status attached at the boundary.
type Error struct {
	Code   Code
	Status int
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

func New(code Code, status int, msg string) *Error {
	return &Error{Code: code, Status: status, Msg: msg}
}

func Wrap(code Code, status int, msg string, err error) *Error {
	return &Error{Code: code, Status: status, Msg: msg, Err: err}
}

func Invalid(msg string) *Error {
	return New(CodeInvalidRequest, http.StatusBadRequest, msg)
}

func Unauthorized(msg string) *Error {
	return New(CodeUnauthorized, http.StatusUnauthorized, msg)
}

func NotFound(msg string) *Error {
	return New(CodeNotFound, http.StatusNotFound, msg)
}

func Internal(err error) *Error {
	return Wrap(CodeInternal, http.StatusInternalServerError, "internal error", err)
}

// ErrTaskStopped is the cooperative cancellation token. It is never surfaced
// to the user as an error; producers observing it exit their loops.
var ErrTaskStopped = errors.New("task stopped")

// IsTaskStopped reports whether err is the cooperative stop token.
func IsTaskStopped(err error) bool { return errors.Is(err, ErrTaskStopped) }

// RecursionLimit builds the localized recursion-limit error.
func RecursionLimit(locale string, limit int) *Error {
	msg := fmt.Sprintf("recursion limit of %d reached; the request is too complex to finish", limit)
	if locale == "zh-CN" {
		msg = fmt.Sprintf("已达到递归上限 %d，请求过于复杂，无法完成", limit)
	}
	return New(CodeRecursionLimit, http.StatusInternalServerError, msg)
}

// AsError extracts an *Error from err, falling back to Internal.
func AsError(err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return Internal(err)
}
