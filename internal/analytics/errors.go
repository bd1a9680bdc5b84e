package analytics

import (
	"encoding/json"
	"fmt"
)

// ErrorType is the error_type vocabulary of the analytics CLI.
type ErrorType string

const (
	ErrorTypeNone       ErrorType = ""
	ErrorTypeNotFound   ErrorType = "NotFoundError"
	ErrorTypeValidation ErrorType = "ValidationError"
	ErrorTypeRejected   ErrorType = "Rejected"
)

// structuredErrorExitCode is the exit status the CLI uses when stderr carries
// a JSON {"message", "error_type"} payload.
const structuredErrorExitCode = 65

// MissingBinaryError means the CLI executable is not at its configured path.
type MissingBinaryError struct {
	Path string
}

func (e *MissingBinaryError) Error() string {
	return "Analytics CLI not found"
}

// UnsupportedPlatformError means the host cannot run any published CLI build.
type UnsupportedPlatformError struct {
	OS       string
	Arch     string
	WordSize int
}

func (e *UnsupportedPlatformError) Error() string {
	return fmt.Sprintf("Unsupported architecture %s %d", e.OS, e.WordSize)
}

// ExecutionError is a non-zero exit of the CLI process.
type ExecutionError struct {
	ExitCode  int
	Message   string
	ErrorType ErrorType
	Stderr    []byte
}

func (e *ExecutionError) Error() string {
	return e.Message
}

// Structured reports whether stderr carried a decodable error payload.
func (e *ExecutionError) Structured() bool {
	return e.ExitCode == structuredErrorExitCode && e.ErrorType != ErrorTypeNone
}

// classifyFailure turns a non-zero exit into an ExecutionError. Stderr is only
// decoded for the structured exit code; anything else keeps stderr verbatim.
func classifyFailure(exitCode int, stderr []byte) *ExecutionError {
	out := &ExecutionError{
		ExitCode: exitCode,
		Message:  string(stderr),
		Stderr:   stderr,
	}
	if exitCode != structuredErrorExitCode {
		return out
	}

	var payload struct {
		Message   *string `json:"message"`
		ErrorType *string `json:"error_type"`
	}
	if err := json.Unmarshal(stderr, &payload); err != nil {
		return out
	}
	if payload.Message != nil {
		out.Message = *payload.Message
	}
	if payload.ErrorType != nil {
		out.ErrorType = ErrorType(*payload.ErrorType)
	}
	return out
}
