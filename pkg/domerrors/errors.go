package domerrors

import (
	"errors"
	"fmt"
)

// Code classifies a domain error. Codes are stable identifiers exposed to
// callers so the front end and auditors can distinguish "try again later"
// from "this will never succeed".
type Code string

const (
	// Caller lacks the required role or tier for the operation.
	CodeUnauthorized Code = "unauthorized"
	// Operation attempted outside its valid lifecycle state.
	CodeInvalidState Code = "invalid_state"
	// Balance or vote weight below the required threshold.
	CodeInsufficientWeight Code = "insufficient_weight"
	// Double vote, double settle, or other repeated one-shot action.
	CodeAlreadyActed Code = "already_acted"
	// Deposit against a token with zero outstanding shares.
	CodeZeroShares Code = "zero_shares"
	// Degenerate zero or negative amount.
	CodeZeroAmount Code = "zero_amount"
	// Execution window has passed.
	CodeExpired Code = "expired"

	CodeValidation Code = "validation"
	CodeBadRequest Code = "bad_request"
	CodeNotFound   Code = "not_found"
	CodeConflict   Code = "conflict"
	CodeInternal   Code = "internal_error"
)

// Error is a coded domain error. The code is the contract; the message is
// advisory detail for logs and non-internal responses.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New constructs a coded error with no underlying cause.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Newf constructs a coded error with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error. A nil err yields
// nil so call sites can wrap unconditionally.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, cause: err}
}

// HasCode reports whether any error in the chain carries the given code.
func HasCode(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// CodeOf returns the code of the outermost coded error, or CodeInternal when
// the error carries no code.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// MessageOf returns the message of the outermost coded error, or empty.
func MessageOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Message
	}
	return ""
}
