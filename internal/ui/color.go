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

// Package ui provides user interface utilities for the mlingest CLI.
//
// This package offers color output helpers that respect the --no-color flag
// and NO_COLOR environment variable. Messages go to stdout unless SetOutput
// redirects them.
//
// Color usage guidelines:
//   - Red: Errors, failures
//   - Yellow: Warnings, cautions
//   - Green: Success, completions
//   - Cyan: Info, counts
//   - Bold: Headers, important labels
//   - Dim: Less important details, paths
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"
)

// Pre-configured color instances for consistent CLI output.
var (
	// Red is used for error messages and failures.
	Red = color.New(color.FgRed)

	// Yellow is used for warnings and cautions.
	Yellow = color.New(color.FgYellow)

	// Green is used for success messages and completions.
	Green = color.New(color.FgGreen)

	// Cyan is used for informational messages.
	Cyan = color.New(color.FgCyan)

	// Bold is used for headers and important labels.
	Bold = color.New(color.Bold)

	// Dim is used for less important details like paths.
	Dim = color.New(color.Faint)
)

var (
	mu  sync.Mutex
	out io.Writer = os.Stdout
)

// InitColors configures global color output based on the noColor flag.
//
// This should be called early in main() after parsing flags.
func InitColors(noColor bool) {
	color.NoColor = noColor
}

// SetOutput redirects the message functions to w and returns the previous
// writer. A nil w discards messages.
func SetOutput(w io.Writer) io.Writer {
	mu.Lock()
	defer mu.Unlock()
	prev := out
	if w == nil {
		w = io.Discard
	}
	out = w
	return prev
}

func printLine(c *color.Color, prefix, msg string) {
	mu.Lock()
	defer mu.Unlock()
	_, _ = c.Fprintln(out, prefix+msg)
}

// Success prints a green success message with a checkmark prefix.
//
// Example output: "✓ Data ingested successfully from data/raw.csv"
func Success(msg string) {
	printLine(Green, "✓ ", msg)
}

// Warning prints a yellow warning message with a warning symbol prefix.
func Warning(msg string) {
	printLine(Yellow, "⚠ ", msg)
}

// Error prints a red error message with an X prefix.
//
// Example output: "✗ Data ingestion failed."
func Error(msg string) {
	printLine(Red, "✗ ", msg)
}

// Errorf prints a formatted red error message with an X prefix.
func Errorf(format string, args ...any) {
	Error(fmt.Sprintf(format, args...))
}

// Info prints a cyan informational message with an info symbol prefix.
func Info(msg string) {
	printLine(Cyan, "ℹ ", msg)
}

// Plain prints msg without color or prefix.
func Plain(msg string) {
	mu.Lock()
	defer mu.Unlock()
	_, _ = fmt.Fprintln(out, msg)
}

// Header prints a bold header with an underline separator.
//
// Example output:
//
//	Ingestion Summary
//	=================
func Header(text string) {
	mu.Lock()
	defer mu.Unlock()
	_, _ = Bold.Fprintln(out, text)
	_, _ = fmt.Fprintln(out, strings.Repeat("=", len(text)))
}

// SubHeader prints a bold sub-header without an underline.
func SubHeader(text string) {
	printLine(Bold, "", text)
}

// Label returns a bold-formatted label string for inline use.
//
// Example: fmt.Printf("%s %s\n", ui.Label("Run ID:"), runID)
func Label(text string) string {
	return Bold.Sprint(text)
}

// DimText returns a dim-formatted string for less important text.
func DimText(text string) string {
	return Dim.Sprint(text)
}

// CountText returns a cyan-formatted count value for statistics display.
func CountText(count int) string {
	return Cyan.Sprint(count)
}

// PercentText returns ratio as a percentage with one decimal, yellow when
// it is above zero.
func PercentText(ratio float64) string {
	text := fmt.Sprintf("%.1f%%", ratio*100)
	if ratio > 0 {
		return Yellow.Sprint(text)
	}
	return text
}
