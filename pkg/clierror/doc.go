// Package clierror provides structured error handling for the upload CLI.
//
// Every terminal failure of an upload invocation maps to a CLIError with
// an error code, exit code, user-facing message, and optional
// troubleshooting hint. This separates internal error details from what
// gets displayed to CI logs.
//
// # Usage
//
//	if err != nil {
//	    return clierror.ResponseTimeout(30 * time.Second).
//	        WithHint("Re-run the pipeline step; the broker may be slow")
//	}
//
// TimedOut and Rejected share one diagnostic schema: both render as
// "Error [CODE]: message" with the code distinguishing them, so CI log
// scrapers need a single pattern.
package clierror
