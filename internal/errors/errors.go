// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package errors provides structured error handling for the mlingest CLI.
//
// This package defines UserError, a type that carries structured error information
// including what went wrong, why it happened, and how to fix it. It also defines
// consistent exit codes for the failure categories of an ingestion run.
//
// # Usage Example
//
// Creating and displaying errors:
//
//	err := errors.NewConfigError(
//	    "Cannot load configuration",
//	    "configs/main_config.yaml does not exist",
//	    "Pass the file with --config or create configs/main_config.yaml",
//	    underlyingErr,
//	)
//	os.Exit(errors.Print(os.Stderr, err, jsonOutput, noColor))
//
// # Formatted Output
//
// The Format() method provides colored terminal output:
//
//	fmt.Fprint(os.Stderr, err.Format(false))
//	// Output (with colors):
//	// Error: Cannot load configuration
//	// Cause: configs/main_config.yaml does not exist
//	// Fix:   Pass the file with --config or create configs/main_config.yaml
//
// For JSON output:
//
//	jsonData := err.ToJSON()
//	json.NewEncoder(os.Stderr).Encode(jsonData)
//	// Output:
//	// {
//	//   "error": "Cannot load configuration",
//	//   "cause": "configs/main_config.yaml does not exist",
//	//   "fix": "Pass the file with --config or create configs/main_config.yaml",
//	//   "exit_code": 1
//	// }
//
// # Exit Codes
//
//   - ExitSuccess (0): Successful execution
//   - ExitConfig (1): Configuration errors (missing file, invalid YAML, missing key)
//   - ExitTracking (2): Tracking server errors (unreachable, rejected request)
//   - ExitNotFound (3): Raw data file not found
//   - ExitParse (4): Raw data could not be parsed or decoded
//   - ExitUnsupported (5): Source type not supported
//   - ExitOutput (6): Processed data could not be written
//   - ExitInternal (10): Internal errors (bugs, panics)
package errors

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
)

// Exit codes for different error categories.
const (
	// ExitSuccess indicates successful execution.
	ExitSuccess = 0

	// ExitConfig indicates configuration errors (missing/invalid config files).
	ExitConfig = 1

	// ExitTracking indicates the tracking server could not be used.
	ExitTracking = 2

	// ExitNotFound indicates the raw data file does not exist.
	ExitNotFound = 3

	// ExitParse indicates raw data that could not be parsed or decoded.
	ExitParse = 4

	// ExitUnsupported indicates a source type that cannot be read.
	ExitUnsupported = 5

	// ExitOutput indicates the processed dataset could not be written.
	ExitOutput = 6

	// ExitInternal indicates internal errors (bugs, unexpected panics).
	// Exit code 10 signals "this is a bug that should be reported".
	ExitInternal = 10
)

// UserError represents an error with structured context for end users.
//
// It provides three levels of information:
//   - Message: What went wrong (user-facing error description)
//   - Cause: Why it happened (diagnostic information)
//   - Fix: How to fix it (actionable suggestion)
//
// UserError also carries an exit code for consistent CLI exit behavior
// and optionally wraps an underlying error for error chain compatibility.
type UserError struct {
	// Message describes what went wrong in user-friendly language.
	Message string

	// Cause explains why the error occurred (diagnostic information).
	Cause string

	// Fix provides an actionable suggestion on how to resolve the error.
	Fix string

	// ExitCode is the exit code that should be used when exiting due to this error.
	ExitCode int

	// Err is the underlying error that caused this error (optional).
	Err error
}

// Error implements the error interface.
func (e *UserError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *UserError) Unwrap() error {
	return e.Err
}

func newUserError(code int, msg, cause, fix string, err error) *UserError {
	return &UserError{
		Message:  msg,
		Cause:    cause,
		Fix:      fix,
		ExitCode: code,
		Err:      err,
	}
}

// NewConfigError creates a configuration error with exit code ExitConfig.
//
// Use this for a configuration file that is missing, malformed, or lacks a
// key the run needs.
func NewConfigError(msg, cause, fix string, err error) *UserError {
	return newUserError(ExitConfig, msg, cause, fix, err)
}

// NewTrackingError creates a tracking error with exit code ExitTracking.
//
// Example:
//
//	return NewTrackingError(
//	    "Cannot reach the tracking server",
//	    "dial tcp 127.0.0.1:5000: connection refused",
//	    "Start the MLflow server or fix mlflow_server_uri",
//	    err,
//	)
func NewTrackingError(msg, cause, fix string, err error) *UserError {
	return newUserError(ExitTracking, msg, cause, fix, err)
}

// NewNotFoundError creates a data not found error with exit code ExitNotFound.
func NewNotFoundError(msg, cause, fix string, err error) *UserError {
	return newUserError(ExitNotFound, msg, cause, fix, err)
}

// NewParseError creates a parse error with exit code ExitParse.
func NewParseError(msg, cause, fix string, err error) *UserError {
	return newUserError(ExitParse, msg, cause, fix, err)
}

// NewUnsupportedError creates an unsupported source error with exit code
// ExitUnsupported.
func NewUnsupportedError(msg, cause, fix string, err error) *UserError {
	return newUserError(ExitUnsupported, msg, cause, fix, err)
}

// NewOutputError creates an output error with exit code ExitOutput.
func NewOutputError(msg, cause, fix string, err error) *UserError {
	return newUserError(ExitOutput, msg, cause, fix, err)
}

// NewInternalError creates an internal error with exit code ExitInternal.
//
// Use this for unexpected errors that indicate bugs in the program.
// Internal errors should be reported to the maintainers.
func NewInternalError(msg, cause, fix string, err error) *UserError {
	return newUserError(ExitInternal, msg, cause, fix, err)
}

// Color definitions for error formatting.
var (
	colorError = color.New(color.FgRed, color.Bold)
	colorCause = color.New(color.FgYellow)
	colorFix   = color.New(color.FgGreen)
)

// Format returns a formatted error message for terminal display.
//
// The output includes colored sections for Error (red/bold), Cause (yellow),
// and Fix (green). Color output respects the NO_COLOR environment variable
// and can be explicitly disabled with the noColor parameter.
// Empty Cause or Fix fields are omitted from the output.
//
// Note: This method temporarily modifies the global color.NoColor state
// and restores it after formatting.
func (e *UserError) Format(noColor bool) string {
	originalNoColor := color.NoColor
	defer func() { color.NoColor = originalNoColor }()

	if noColor || os.Getenv("NO_COLOR") != "" {
		color.NoColor = true
	}

	var out strings.Builder
	out.WriteString(colorError.Sprint("Error: "))
	out.WriteString(e.Message)
	out.WriteString("\n")

	if e.Cause != "" {
		out.WriteString(colorCause.Sprint("Cause: "))
		out.WriteString(e.Cause)
		out.WriteString("\n")
	}

	if e.Fix != "" {
		out.WriteString(colorFix.Sprint("Fix:   "))
		out.WriteString(e.Fix)
		out.WriteString("\n")
	}

	return out.String()
}

// ErrorJSON represents error information in JSON format.
type ErrorJSON struct {
	Error    string `json:"error"`
	Cause    string `json:"cause,omitempty"`
	Fix      string `json:"fix,omitempty"`
	ExitCode int    `json:"exit_code"`
}

// ToJSON converts the UserError to a JSON-serializable structure.
func (e *UserError) ToJSON() ErrorJSON {
	return ErrorJSON{
		Error:    e.Message,
		Cause:    e.Cause,
		Fix:      e.Fix,
		ExitCode: e.ExitCode,
	}
}

// Print writes err to w and returns the exit code it maps to.
//
// A UserError is written with Format() or, in JSON mode, as ErrorJSON. Any
// other error is written as a plain message and maps to ExitInternal. A nil
// error writes nothing and returns ExitSuccess.
func Print(w io.Writer, err error, jsonOutput, noColor bool) int {
	if err == nil {
		return ExitSuccess
	}

	ue, ok := err.(*UserError)
	if !ok {
		ue = &UserError{Message: err.Error(), ExitCode: ExitInternal}
	}
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		// The exit code is still returned if encoding fails.
		_ = enc.Encode(ue.ToJSON())
	} else {
		fmt.Fprint(w, ue.Format(noColor))
	}
	return ue.ExitCode
}
