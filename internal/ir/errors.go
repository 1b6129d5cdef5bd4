package ir

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes engine errors. Codes are stable and exposed to
// callers together with a numeric form.
type ErrorCode string

const (
	// Construction errors, returned synchronously when building query nodes.
	CodeReferenceNotFound  ErrorCode = "REFERENCE_NOT_FOUND"
	CodeInvalidArguments   ErrorCode = "INVALID_ARGUMENTS"
	CodeIncompatibleGenome ErrorCode = "INCOMPATIBLE_GENOME"

	// Materialization errors, captured inside a failed request.
	CodeUnknownColumn             ErrorCode = "UNKNOWN_COLUMN"
	CodeTypeIncompatible          ErrorCode = "TYPE_INCOMPATIBLE"
	CodeInstructionBudgetExceeded ErrorCode = "INSTRUCTION_BUDGET_EXCEEDED"
	CodeScriptParseError          ErrorCode = "SCRIPT_PARSE_ERROR"
	CodeOutOfRangeRegion          ErrorCode = "OUT_OF_RANGE_REGION"
	CodeScriptRuntimeError        ErrorCode = "SCRIPT_RUNTIME_ERROR"

	// Lifecycle errors, returned by status and data retrieval.
	CodeRequestNotFound    ErrorCode = "REQUEST_NOT_FOUND"
	CodeRequestNotFinished ErrorCode = "REQUEST_NOT_FINISHED"
	CodeRequestCanceled    ErrorCode = "REQUEST_CANCELED"
	CodeRequestRemoved     ErrorCode = "REQUEST_REMOVED"
	CodeRequestFailed      ErrorCode = "REQUEST_FAILED"
	CodeQuotaExceeded      ErrorCode = "QUOTA_EXCEEDED"

	CodeInternal ErrorCode = "INTERNAL"
)

var codeNumbers = map[ErrorCode]int{
	CodeReferenceNotFound:         101,
	CodeInvalidArguments:          102,
	CodeIncompatibleGenome:        103,
	CodeUnknownColumn:             201,
	CodeTypeIncompatible:          202,
	CodeInstructionBudgetExceeded: 203,
	CodeScriptParseError:          204,
	CodeOutOfRangeRegion:          205,
	CodeScriptRuntimeError:        206,
	CodeRequestNotFound:           300,
	CodeRequestNotFinished:        301,
	CodeRequestCanceled:           302,
	CodeRequestRemoved:            303,
	CodeRequestFailed:             304,
	CodeQuotaExceeded:             305,
	CodeInternal:                  500,
}

// Number returns the numeric form of the code.
func (c ErrorCode) Number() int {
	if n, ok := codeNumbers[c]; ok {
		return n
	}
	return codeNumbers[CodeInternal]
}

// Error is the single error type surfaced by the engine.
//
// Line and Column are meaningful only when HasPosition is set; line numbers
// of raw region text and script positions both use it. Line numbers of raw
// region text start at 0, so a zero Line is a real position.
type Error struct {
	Code        ErrorCode `json:"code"`
	Message     string    `json:"message"`
	RequestID   string    `json:"request_id,omitempty"`
	Token       string    `json:"token,omitempty"`
	HasPosition bool      `json:"has_position,omitempty"`
	Line        int       `json:"line"`
	Column      int       `json:"column"`
	Err         error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.RequestID != "" {
		msg = fmt.Sprintf("%s (request=%s)", msg, e.RequestID)
	}
	return msg
}

// Unwrap exposes the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf creates an Error with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithToken records the offending input token.
func (e *Error) WithToken(token string) *Error {
	e.Token = token
	return e
}

// At records a position.
func (e *Error) At(line, column int) *Error {
	e.HasPosition = true
	e.Line = line
	e.Column = column
	return e
}

// CodeOf returns the code of the first *Error in err's chain, or
// CodeInternal when there is none.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// IsCode reports whether err carries the given code.
// Uses errors.As to handle wrapped errors.
func IsCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// AsError converts any error into an *Error, wrapping foreign errors as
// internal ones. The original error stays reachable through Unwrap.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Code: CodeInternal, Message: err.Error(), Err: err}
}

// Cause returns the innermost *Error in err's chain, or nil when there is
// none. A failed request wraps its materialization error; Cause recovers it.
func Cause(err error) *Error {
	var last *Error
	for err != nil {
		if e, ok := err.(*Error); ok {
			last = e
		}
		err = errors.Unwrap(err)
	}
	return last
}
