package types

import (
	"context"
	"errors"
	"fmt"
)

// ErrorCode is the stable error taxonomy surfaced to clients.
type ErrorCode string

const (
	CodeRuntime               ErrorCode = "E101"
	CodeModelNotLoaded        ErrorCode = "E201"
	CodeInvalidInput          ErrorCode = "E301"
	CodePermissionDenied      ErrorCode = "E401"
	CodeRunnerNotFound        ErrorCode = "E404"
	CodeCapabilityUnsupported ErrorCode = "E405"
	CodeStreamingUnsupported  ErrorCode = "E406"
	CodeModelLoadFailed       ErrorCode = "E501"
	CodeInsufficientResources ErrorCode = "E502"
)

var codeText = map[ErrorCode]string{
	CodeRuntime:               "runtime error",
	CodeModelNotLoaded:        "model not loaded",
	CodeInvalidInput:          "invalid input",
	CodePermissionDenied:      "permission denied",
	CodeRunnerNotFound:        "runner not found",
	CodeCapabilityUnsupported: "capability not supported",
	CodeStreamingUnsupported:  "streaming not supported",
	CodeModelLoadFailed:       "model load failed",
	CodeInsufficientResources: "insufficient resources",
}

// Text returns the short human description of the code.
func (c ErrorCode) Text() string {
	if s, ok := codeText[c]; ok {
		return s
	}
	return string(c)
}

// EngineError carries an ErrorCode across the dispatch boundary.
type EngineError struct {
	Code    ErrorCode `json:"code" example:"E404"`
	Message string    `json:"message" example:"runner not found: llama-server"`
	Cause   error     `json:"-"`
}

func (e *EngineError) Error() string {
	if e.Message == "" {
		return string(e.Code) + ": " + e.Code.Text()
	}
	return string(e.Code) + ": " + e.Message
}

func (e *EngineError) Unwrap() error { return e.Cause }

// Errorf builds an EngineError with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *EngineError {
	return &EngineError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches code to err unless err already carries a code.
func Wrap(code ErrorCode, err error) *EngineError {
	if err == nil {
		return nil
	}
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee
	}
	return &EngineError{Code: code, Message: err.Error(), Cause: err}
}

// CodeOf returns the code carried by err, or CodeRuntime.
func CodeOf(err error) ErrorCode {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return CodeRuntime
}

// IsCode reports whether err carries code.
func IsCode(err error, code ErrorCode) bool {
	var ee *EngineError
	return errors.As(err, &ee) && ee.Code == code
}

// IsCancellation reports whether err is a context cancellation.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled)
}
