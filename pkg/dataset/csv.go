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

package dataset

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

// ErrEmpty is returned by Read when the input has no header row.
var ErrEmpty = errors.New("no columns to parse from file")

// ParseError reports delimited content that cannot be turned into a table.
type ParseError struct {
	Line int
	Err  error
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %v", e.Line, e.Err)
	}
	return e.Err.Error()
}

func (e *ParseError) Unwrap() error { return e.Err }

// ReadOptions controls how delimited text is read.
type ReadOptions struct {
	// Separator is the field delimiter. Zero means comma.
	Separator rune
}

// ValidSeparator reports whether r can be used as a field delimiter.
func ValidSeparator(r rune) bool {
	return r != 0 && r != '"' && r != '\r' && r != '\n' && utf8.ValidRune(r) && r != utf8.RuneError
}

// Read parses delimited text with a header row into a Dataset. Blank lines
// are skipped. Rows shorter than the header are padded with missing cells.
// Longer rows, quoted fields left open at end of input and quotes inside
// unquoted fields fail with a *ParseError.
func Read(r io.Reader, opts ReadOptions) (*Dataset, error) {
	sep := opts.Separator
	if sep == 0 {
		sep = ','
	}
	if !ValidSeparator(sep) {
		return nil, fmt.Errorf("invalid separator %q", sep)
	}

	cr := csv.NewReader(r)
	cr.Comma = sep
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrEmpty
		}
		return nil, asParseError(err)
	}

	var rows [][]string
	for {
		rec, err := cr.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, asParseError(err)
		}
		if len(rec) > len(header) {
			line, _ := cr.FieldPos(0)
			return nil, &ParseError{
				Line: line,
				Err:  fmt.Errorf("expected %d fields, saw %d", len(header), len(rec)),
			}
		}
		rows = append(rows, rec)
	}

	return New(header, rows)
}

func asParseError(err error) error {
	var pe *csv.ParseError
	if errors.As(err, &pe) {
		return &ParseError{Line: pe.Line, Err: pe.Err}
	}
	return err
}

// Write serializes the dataset as comma-separated text: a header row, then
// one line per row with missing cells left empty. No index column is added.
func Write(w io.Writer, d *Dataset) error {
	bw := bufio.NewWriter(w)
	cw := csv.NewWriter(bw)

	if err := writeRecord(bw, cw, d.Header()); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i := 0; i < d.NumRows(); i++ {
		if err := writeRecord(bw, cw, d.Row(i)); err != nil {
			return fmt.Errorf("write row %d: %w", i+1, err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return err
	}
	return bw.Flush()
}

// writeRecord writes one record. A record made of a single empty field is
// written as "" so it is not read back as a blank line.
func writeRecord(bw *bufio.Writer, cw *csv.Writer, rec []string) error {
	if len(rec) == 1 && rec[0] == "" {
		cw.Flush()
		if err := cw.Error(); err != nil {
			return err
		}
		_, err := bw.WriteString("\"\"\n")
		return err
	}
	return cw.Write(rec)
}
