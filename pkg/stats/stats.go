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

// Package stats computes the descriptive statistics recorded for an
// ingested dataset and names them as tracking metrics.
package stats

import (
	"regexp"
	"strconv"

	"github.com/kraklabs/mlingest/pkg/dataset"
)

// Metric names and prefixes.
const (
	MetricNumRows       = "num_rows"
	MetricNumColumns    = "num_columns"
	MetricTotalMissing  = "total_missing_values"
	PrefixTypeCount     = "num_cols_"
	PrefixMissingValues = "missing_values_"
	PrefixUniqueValues  = "unique_values_"
)

// TypeCount is the number of columns inferred as one type.
type TypeCount struct {
	Type  dataset.DType
	Count int
}

// ColumnStats holds the per-column counts.
type ColumnStats struct {
	Name string
	// MetricName is the sanitized, run-unique name used as metric suffix.
	MetricName string
	Type       dataset.DType
	Missing    int
	Unique     int
}

// MissingRatio returns the fraction of missing cells over rows.
func (c ColumnStats) MissingRatio(rows int) float64 {
	return Divide(float64(c.Missing), float64(rows))
}

// Summary is the full description of a dataset.
type Summary struct {
	Rows         int
	Columns      int
	Types        []TypeCount
	ColumnStats  []ColumnStats
	TotalMissing int
}

// Metric is a named numeric value.
type Metric struct {
	Name  string
	Value float64
}

// Describe computes row/column counts, column counts per type (in order of
// first appearance), and missing and distinct counts per column.
func Describe(ds *dataset.Dataset) Summary {
	s := Summary{
		Rows:    ds.NumRows(),
		Columns: ds.NumColumns(),
	}

	typeIdx := make(map[dataset.DType]int)
	usedNames := make(map[string]bool, len(ds.Columns))
	for _, col := range ds.Columns {
		if i, ok := typeIdx[col.Type]; ok {
			s.Types[i].Count++
		} else {
			typeIdx[col.Type] = len(s.Types)
			s.Types = append(s.Types, TypeCount{Type: col.Type, Count: 1})
		}

		cs := ColumnStats{
			Name:       col.Name,
			MetricName: uniqueName(SanitizeMetricName(col.Name), usedNames),
			Type:       col.Type,
			Missing:    col.MissingCount(),
			Unique:     col.DistinctCount(),
		}
		s.TotalMissing += cs.Missing
		s.ColumnStats = append(s.ColumnStats, cs)
	}
	return s
}

// Metrics returns the summary as metrics, in recording order: shape, type
// counts, missing counts with their total, then distinct counts.
func (s Summary) Metrics() []Metric {
	out := make([]Metric, 0, 3+len(s.Types)+2*len(s.ColumnStats))
	out = append(out,
		Metric{Name: MetricNumRows, Value: float64(s.Rows)},
		Metric{Name: MetricNumColumns, Value: float64(s.Columns)},
	)
	for _, tc := range s.Types {
		out = append(out, Metric{Name: PrefixTypeCount + string(tc.Type), Value: float64(tc.Count)})
	}
	for _, cs := range s.ColumnStats {
		out = append(out, Metric{Name: PrefixMissingValues + cs.MetricName, Value: float64(cs.Missing)})
	}
	out = append(out, Metric{Name: MetricTotalMissing, Value: float64(s.TotalMissing)})
	for _, cs := range s.ColumnStats {
		out = append(out, Metric{Name: PrefixUniqueValues + cs.MetricName, Value: float64(cs.Unique)})
	}
	return out
}

var (
	spaceOrParen = regexp.MustCompile(`[ ()]+`)
	disallowed   = regexp.MustCompile(`[^a-zA-Z0-9_\-./]`)
)

// SanitizeMetricName turns a column name into a string accepted in metric
// names: each run of spaces and parentheses becomes one underscore, then
// every character other than ASCII letters, digits, '_', '-', '.' and '/'
// is dropped. "Col (A) B" becomes "Col_A_B".
func SanitizeMetricName(name string) string {
	name = spaceOrParen.ReplaceAllString(name, "_")
	return disallowed.ReplaceAllString(name, "")
}

// uniqueName returns name, or name suffixed with _1, _2, ... when an earlier
// column already took it.
func uniqueName(name string, used map[string]bool) string {
	candidate := name
	for n := 1; used[candidate]; n++ {
		candidate = name + "_" + strconv.Itoa(n)
	}
	used[candidate] = true
	return candidate
}

// Divide returns numerator/denominator, or 0 when the denominator is 0.
func Divide(numerator, denominator float64) float64 {
	if denominator == 0 {
		return 0
	}
	return numerator / denominator
}
