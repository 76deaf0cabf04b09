package domain

import "errors"

// ErrorCode identifies a matchmaker error returned to callers.
type ErrorCode string

const (
	ErrCodeNotFound         ErrorCode = "not_found"
	ErrCodeForbidden        ErrorCode = "forbidden"
	ErrCodeOutOfTurn        ErrorCode = "out_of_turn"
	ErrCodeNotActive        ErrorCode = "not_active"
	ErrCodeLimitReached     ErrorCode = "limit_reached"
	ErrCodeAlreadySubmitted ErrorCode = "already_submitted"
	ErrCodeInvalidVerdict   ErrorCode = "invalid_verdict"
	ErrCodeInvalidInput     ErrorCode = "invalid_input"
)

// Error is a validation or protocol failure. It is never retried.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func (e *Error) Error() string {
	return e.Message
}

// Is matches errors by code so wrapped and re-messaged errors compare equal.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Sentinel errors, one per code.
var (
	ErrNotFound         = &Error{Code: ErrCodeNotFound, Message: "not found"}
	ErrForbidden        = &Error{Code: ErrCodeForbidden, Message: "agent is not a participant"}
	ErrOutOfTurn        = &Error{Code: ErrCodeOutOfTurn, Message: "not your turn"}
	ErrNotActive        = &Error{Code: ErrCodeNotActive, Message: "conversation is not active"}
	ErrLimitReached     = &Error{Code: ErrCodeLimitReached, Message: "maximum messages reached"}
	ErrAlreadySubmitted = &Error{Code: ErrCodeAlreadySubmitted, Message: "verdict already submitted"}
	ErrInvalidVerdict   = &Error{Code: ErrCodeInvalidVerdict, Message: "verdict must be MATCH or PASS"}
	ErrInvalidInput     = &Error{Code: ErrCodeInvalidInput, Message: "invalid input"}
)

// NewError returns an error with the given code and a specific message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// CodeOf extracts the ErrorCode from err, or "" when err is not a domain error.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
