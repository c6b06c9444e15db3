package clierror

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"
)

// Exit codes for the upload invocation. CI pipelines key off these.
const (
	ExitSuccess    = 0 // Artifact confirmed stored
	ExitGeneral    = 1 // Unknown/unhandled error
	ExitConfig     = 2 // Missing or invalid parameter, bad certificate material
	ExitAuth       = 3 // Broker rejected the client certificate
	ExitConnection = 4 // Transport-level failure reaching the broker
	ExitTimeout    = 5 // No correlated response within the budget
	ExitRejected   = 6 // Broker-side explicit denial
	ExitTransfer   = 7 // Artifact PUT failed
)

// Error codes (strings) for programmatic error handling.
const (
	CodeMissingParameter    = "CONFIGURATION_ERROR"
	CodeInvalidParameter    = "CONFIGURATION_INVALID"
	CodeAuthenticationError = "AUTHENTICATION_ERROR"
	CodeConnectionError     = "CONNECTION_ERROR"
	CodeTimedOut            = "TIMED_OUT"
	CodeRejected            = "REJECTED"
	CodeTransferError       = "TRANSFER_ERROR"
	CodeInternalError       = "INTERNAL_ERROR"
)

// CLIError represents a structured error for CLI output.
type CLIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Hint      string `json:"hint,omitempty"`
	Retryable bool   `json:"retryable"`
	ExitCode  int    `json:"-"` // Not serialized, used for os.Exit
}

// Error implements the error interface.
func (e *CLIError) Error() string {
	return e.Message
}

// WithHint returns a copy of the error with the given troubleshooting hint.
func (e *CLIError) WithHint(hint string) *CLIError {
	c := *e
	c.Hint = hint
	return &c
}

// MissingParameter creates an error for a required field resolved by
// neither an explicit parameter nor its environment fallback. envVar may
// be empty for fields that have no environment fallback.
func MissingParameter(field, envVar string) *CLIError {
	hint := fmt.Sprintf("Pass --%s", field)
	if envVar != "" {
		hint = fmt.Sprintf("Pass --%s or set the %s environment variable", field, envVar)
	}
	return &CLIError{
		Code:      CodeMissingParameter,
		Message:   fmt.Sprintf("required parameter '%s' not provided", field),
		Hint:      hint,
		Retryable: false,
		ExitCode:  ExitConfig,
	}
}

// InvalidParameter creates an error for a parameter that resolved but
// failed validation.
func InvalidParameter(field, reason string) *CLIError {
	return &CLIError{
		Code:      CodeInvalidParameter,
		Message:   fmt.Sprintf("invalid value for '%s': %s", field, reason),
		Retryable: false,
		ExitCode:  ExitConfig,
	}
}

// CertificateConfig creates an error for unusable certificate material.
func CertificateConfig(reason string) *CLIError {
	return &CLIError{
		Code:      CodeInvalidParameter,
		Message:   fmt.Sprintf("certificate configuration: %s", reason),
		Hint:      "Supply ULOGGER_CERT_DATA/ULOGGER_KEY_DATA or valid --cert-path/--key-path files",
		Retryable: false,
		ExitCode:  ExitConfig,
	}
}

// AuthenticationFailed creates an error for a certificate rejected by the broker.
func AuthenticationFailed(broker string, cause error) *CLIError {
	return &CLIError{
		Code:      CodeAuthenticationError,
		Message:   fmt.Sprintf("broker '%s' rejected the client certificate: %v", broker, cause),
		Hint:      "Verify the certificate and key belong to this customer account",
		Retryable: false,
		ExitCode:  ExitAuth,
	}
}

// ConnectionFailed creates an error for a transport-level broker failure.
func ConnectionFailed(broker string, cause error) *CLIError {
	return &CLIError{
		Code:      CodeConnectionError,
		Message:   fmt.Sprintf("failed to connect to broker '%s': %v", broker, cause),
		Hint:      "Check network connectivity and the broker address",
		Retryable: true,
		ExitCode:  ExitConnection,
	}
}

// ResponseTimeout creates an error for an exchange that saw no correlated
// response within its budget.
func ResponseTimeout(budget time.Duration) *CLIError {
	return &CLIError{
		Code:      CodeTimedOut,
		Message:   fmt.Sprintf("no upload response received within %s", budget),
		Hint:      "Re-run the pipeline step; the platform may be under load",
		Retryable: true,
		ExitCode:  ExitTimeout,
	}
}

// RequestRejected creates an error for an explicit broker-side denial of
// a correlated request.
func RequestRejected(detail string) *CLIError {
	return &CLIError{
		Code:      CodeRejected,
		Message:   fmt.Sprintf("upload request rejected: %s", detail),
		Hint:      "Check that customer, application, and device identifiers are valid",
		Retryable: false,
		ExitCode:  ExitRejected,
	}
}

// TransferFailed creates an error for a failed artifact PUT.
func TransferFailed(detail string) *CLIError {
	return &CLIError{
		Code:      CodeTransferError,
		Message:   fmt.Sprintf("artifact transfer failed: %s", detail),
		Retryable: true,
		ExitCode:  ExitTransfer,
	}
}

// InternalError creates an error for unexpected internal failures.
func InternalError(err error) *CLIError {
	msg := "an unexpected internal error occurred"
	if err != nil {
		msg = fmt.Sprintf("internal error: %s", err.Error())
	}
	return &CLIError{
		Code:      CodeInternalError,
		Message:   msg,
		Retryable: false,
		ExitCode:  ExitGeneral,
	}
}

// ErrorCode extracts the error code from an error.
// Returns empty string if the error is not (and does not wrap) a CLIError.
func ErrorCode(err error) string {
	var cliErr *CLIError
	if errors.As(err, &cliErr) {
		return cliErr.Code
	}
	return ""
}

// ExitCode maps an error to the process exit code. nil maps to
// ExitSuccess; non-CLIError values map to ExitGeneral.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var cliErr *CLIError
	if errors.As(err, &cliErr) {
		return cliErr.ExitCode
	}
	return ExitGeneral
}

// FormatError returns the error formatted for the given output format.
// Supported formats: "json" for JSON output, anything else for the
// human-readable form.
func FormatError(err *CLIError, outputFormat string) string {
	if outputFormat == "json" {
		data, jsonErr := json.MarshalIndent(err, "", "  ")
		if jsonErr != nil {
			return fmt.Sprintf(`{"code":"%s","message":"%s"}`, err.Code, err.Message)
		}
		return string(data)
	}

	output := fmt.Sprintf("Error [%s]: %s", err.Code, err.Message)
	if err.Hint != "" {
		output += fmt.Sprintf("\nHint: %s", err.Hint)
	}
	return output
}

// PrintError prints the error to stderr in the appropriate format.
func PrintError(err *CLIError, outputFormat string) {
	fmt.Fprintln(os.Stderr, FormatError(err, outputFormat))
}
