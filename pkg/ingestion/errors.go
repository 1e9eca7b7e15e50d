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

package ingestion

import (
	"errors"
	"fmt"
)

// Failure kinds of a source read. A *SourceError matches exactly one of them
// with errors.Is.
var (
	// ErrNotFound means the raw data file does not exist.
	ErrNotFound = errors.New("data not found")

	// ErrParse means the file exists but its delimited content is malformed.
	ErrParse = errors.New("could not parse data")

	// ErrIngestion covers every other read failure: unknown encoding, empty
	// file, invalid separator, missing path, I/O errors.
	ErrIngestion = errors.New("data ingestion failed")

	// ErrUnsupportedSource means the configured source type cannot be read.
	ErrUnsupportedSource = errors.New("unsupported source type")
)

// ErrTracking marks failures talking to the tracking backend.
var ErrTracking = errors.New("tracking")

// SourceError is the failure of reading a configured data source.
type SourceError struct {
	// Kind is one of ErrNotFound, ErrParse, ErrIngestion, ErrUnsupportedSource.
	Kind   error
	Source string
	Path   string
	Err    error
}

func (e *SourceError) Error() string {
	switch {
	case e.Err == nil:
		return fmt.Sprintf("%v: %s", e.Kind, e.Source)
	case e.Path != "":
		return fmt.Sprintf("%v: %s: %v", e.Kind, e.Path, e.Err)
	default:
		return fmt.Sprintf("%v: %v", e.Kind, e.Err)
	}
}

func (e *SourceError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// IsSoftFailure reports whether err means "no dataset could be read": the
// not-found, parse and generic ingestion kinds. Those end a run quietly;
// everything else, including ErrUnsupportedSource, is propagated.
func IsSoftFailure(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrParse) || errors.Is(err, ErrIngestion)
}

// OutputError is a failure writing the processed dataset.
type OutputError struct {
	Path string
	Err  error
}

func (e *OutputError) Error() string {
	return fmt.Sprintf("write processed data %s: %v", e.Path, e.Err)
}

func (e *OutputError) Unwrap() error { return e.Err }

func trackingError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrTracking, op, err)
}
