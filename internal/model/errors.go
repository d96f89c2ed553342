package model

import "fmt"

// ExitCode defines the CLI exit codes. Scripts and CI jobs can rely on them
// to tell a missing template apart from a failed stack operation.
type ExitCode int

const (
	// ExitSuccess indicates the command completed successfully.
	ExitSuccess ExitCode = 0

	// ExitGeneralError indicates an unspecified error occurred.
	ExitGeneralError ExitCode = 1

	// ExitInvalidArgs indicates missing or malformed flags or configuration.
	ExitInvalidArgs ExitCode = 2

	// ExitTemplateError indicates the template file is missing, unreadable
	// or does not declare the parameters the CLI supplies.
	ExitTemplateError ExitCode = 3

	// ExitAPIError indicates the orchestration API rejected a request or the
	// stack operation ended in a failed state.
	ExitAPIError ExitCode = 4

	// ExitStackPrecondition indicates the stack is in the wrong existence
	// state for the requested action (create on existing, update on missing).
	ExitStackPrecondition ExitCode = 5

	// ExitTimeout indicates the polling loop hit its wall-clock timeout
	// before the stack reached a terminal state.
	ExitTimeout ExitCode = 6

	// ExitUserCancelled indicates the user declined a confirmation prompt.
	ExitUserCancelled ExitCode = 7

	// ExitGPUCheckFailed indicates nvidia-smi or the CUDA probe failed.
	ExitGPUCheckFailed ExitCode = 8

	// ExitDequantMismatch indicates the two dequantization routines
	// produced outputs that differ beyond the tolerance.
	ExitDequantMismatch ExitCode = 9
)

// CLIError is a custom error type that carries an exit code.
// This allows the CLI layer to translate domain errors into
// appropriate process exit codes.
type CLIError struct {
	// Code is the exit code to return to the OS.
	Code ExitCode

	// Message is the human-readable error description.
	Message string

	// Err is the underlying error, if any.
	Err error
}

// Error returns the human-readable message, followed by the underlying
// error when there is one.
func (e *CLIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *CLIError) Unwrap() error {
	return e.Err
}

// NewCLIError creates a new CLIError with the given exit code and message.
func NewCLIError(code ExitCode, message string) *CLIError {
	return &CLIError{Code: code, Message: message}
}

// WrapCLIError creates a new CLIError that wraps an existing error.
func WrapCLIError(code ExitCode, message string, err error) *CLIError {
	return &CLIError{Code: code, Message: message, Err: err}
}
