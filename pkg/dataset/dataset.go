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

// Package dataset holds an in-memory table read from a delimited text file.
//
// A Dataset is a list of named columns of equal length. Each column keeps
// the raw text of its cells, a missing-value mask and an inferred primitive
// type. Datasets are built once by Read or New and treated as read-only
// afterwards.
package dataset

import (
	"fmt"
	"strconv"
	"strings"
)

// DType is the inferred primitive type of a column. The values double as
// suffixes of the num_cols_<type> tracking metric.
type DType string

const (
	Int64   DType = "int64"
	Float64 DType = "float64"
	Bool    DType = "bool"
	Object  DType = "object"
)

// naValues are the cell texts treated as missing.
var naValues = map[string]struct{}{
	"":         {},
	"#N/A":     {},
	"#N/A N/A": {},
	"#NA":      {},
	"-1.#IND":  {},
	"-1.#QNAN": {},
	"-NaN":     {},
	"-nan":     {},
	"1.#IND":   {},
	"1.#QNAN":  {},
	"<NA>":     {},
	"N/A":      {},
	"NA":       {},
	"NULL":     {},
	"NaN":      {},
	"None":     {},
	"n/a":      {},
	"nan":      {},
	"null":     {},
}

// IsMissing reports whether a cell text denotes a missing value.
func IsMissing(s string) bool {
	_, ok := naValues[s]
	return ok
}

// Column is one named column of a Dataset.
type Column struct {
	Name    string
	Type    DType
	Values  []string
	Missing []bool
}

// Len returns the number of cells in the column.
func (c *Column) Len() int { return len(c.Values) }

// MissingCount returns the number of missing cells.
func (c *Column) MissingCount() int {
	n := 0
	for _, m := range c.Missing {
		if m {
			n++
		}
	}
	return n
}

// DistinctCount returns the number of distinct non-missing values. Numeric
// columns compare parsed values, so "1" and "1.0" count once.
func (c *Column) DistinctCount() int {
	seen := make(map[string]struct{})
	for i, v := range c.Values {
		if c.Missing[i] {
			continue
		}
		seen[c.valueKey(v)] = struct{}{}
	}
	return len(seen)
}

func (c *Column) valueKey(v string) string {
	switch c.Type {
	case Int64, Float64:
		if f, ok := parseFloat(v); ok {
			return strconv.FormatFloat(f, 'g', -1, 64)
		}
	case Bool:
		if b, ok := parseBool(v); ok {
			return strconv.FormatBool(b)
		}
	}
	return v
}

// Dataset is a table of equally sized columns.
type Dataset struct {
	Columns []*Column
}

// New builds a dataset from a header and rows of cell texts. Short rows are
// padded with missing cells; headers are normalized so every column name is
// non-empty and unique. Rows longer than the header are an error.
func New(header []string, rows [][]string) (*Dataset, error) {
	names := normalizeHeader(header)
	cols := make([]*Column, len(names))
	for i, name := range names {
		cols[i] = &Column{
			Name:    name,
			Values:  make([]string, 0, len(rows)),
			Missing: make([]bool, 0, len(rows)),
		}
	}

	for r, row := range rows {
		if len(row) > len(cols) {
			return nil, fmt.Errorf("row %d: expected %d fields, saw %d", r+1, len(cols), len(row))
		}
		for i, col := range cols {
			v := ""
			if i < len(row) {
				v = row[i]
			}
			col.Values = append(col.Values, v)
			col.Missing = append(col.Missing, IsMissing(v))
		}
	}

	for _, col := range cols {
		col.Type = inferType(col)
	}
	return &Dataset{Columns: cols}, nil
}

// NumRows returns the shared row count of the columns.
func (d *Dataset) NumRows() int {
	if len(d.Columns) == 0 {
		return 0
	}
	return d.Columns[0].Len()
}

// NumColumns returns the number of columns.
func (d *Dataset) NumColumns() int { return len(d.Columns) }

// Header returns the column names in order.
func (d *Dataset) Header() []string {
	names := make([]string, len(d.Columns))
	for i, c := range d.Columns {
		names[i] = c.Name
	}
	return names
}

// Column returns the column with the given name, or nil.
func (d *Dataset) Column(name string) *Column {
	for _, c := range d.Columns {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// Row returns the cell texts of row i, with missing cells as empty strings.
func (d *Dataset) Row(i int) []string {
	row := make([]string, len(d.Columns))
	for j, c := range d.Columns {
		if !c.Missing[i] {
			row[j] = c.Values[i]
		}
	}
	return row
}

// normalizeHeader names empty header fields "Unnamed: <index>" and suffixes
// repeated names with ".1", ".2", ...
func normalizeHeader(header []string) []string {
	names := make([]string, len(header))
	used := make(map[string]bool, len(header))
	for i, h := range header {
		if h == "" {
			h = fmt.Sprintf("Unnamed: %d", i)
		}
		name := h
		for n := 1; used[name]; n++ {
			name = fmt.Sprintf("%s.%d", h, n)
		}
		used[name] = true
		names[i] = name
	}
	return names
}

func inferType(c *Column) DType {
	if c.Len() == 0 {
		return Object
	}

	present, ints, floats, bools := 0, 0, 0, 0
	for i, v := range c.Values {
		if c.Missing[i] {
			continue
		}
		present++
		if _, ok := parseInt(v); ok {
			ints++
		}
		if _, ok := parseFloat(v); ok {
			floats++
		}
		if _, ok := parseBool(v); ok {
			bools++
		}
	}

	hasMissing := present < c.Len()
	switch {
	case present == 0:
		return Float64
	case ints == present && !hasMissing:
		return Int64
	case floats == present:
		return Float64
	case bools == present && !hasMissing:
		return Bool
	default:
		return Object
	}
}

func parseInt(s string) (int64, bool) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	return n, err == nil
}

func parseFloat(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") || strings.Contains(s, "_") {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	return f, err == nil
}

func parseBool(s string) (bool, bool) {
	switch s {
	case "True", "true", "TRUE":
		return true, true
	case "False", "false", "FALSE":
		return false, true
	}
	return false, false
}
