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

package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	clierrors "github.com/kraklabs/mlingest/internal/errors"
	"github.com/kraklabs/mlingest/internal/ui"
	"github.com/kraklabs/mlingest/pkg/ingestion"
	"github.com/kraklabs/mlingest/pkg/stats"
	"github.com/kraklabs/mlingest/pkg/tracking"
)

// RunJSON is the --json rendering of one ingestion run.
type RunJSON struct {
	Config      string               `json:"config"`
	DryRun      bool                 `json:"dry_run,omitempty"`
	RunID       string               `json:"run_id,omitempty"`
	Experiment  string               `json:"experiment_id,omitempty"`
	Status      string               `json:"status,omitempty"`
	ArtifactURI string               `json:"artifact_uri,omitempty"`
	Ingested    bool                 `json:"ingested"`
	OutputPath  string               `json:"output_path,omitempty"`
	Params      []tracking.Param     `json:"params,omitempty"`
	Metrics     []MetricJSON         `json:"metrics,omitempty"`
	DurationMS  int64                `json:"duration_ms"`
	Error       *clierrors.ErrorJSON `json:"error,omitempty"`
}

// MetricJSON is one recorded metric.
type MetricJSON struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

func newRunJSON(res *ingestion.Result, dryRun bool, uerr *clierrors.UserError) RunJSON {
	out := RunJSON{
		Config:      res.ConfigPath,
		DryRun:      dryRun,
		RunID:       res.Run.RunID,
		Experiment:  res.Run.ExperimentID,
		Status:      string(res.Run.Status),
		ArtifactURI: res.Run.ArtifactURI,
		Ingested:    res.Ingested,
		Params:      res.Params,
		DurationMS:  res.Duration.Milliseconds(),
	}
	if res.Report != nil {
		out.OutputPath = res.Report.OutputPath
		for _, m := range res.Report.Metrics {
			out.Metrics = append(out.Metrics, MetricJSON{Name: m.Name, Value: m.Value})
		}
	}
	if uerr != nil {
		e := uerr.ToJSON()
		out.Error = &e
	}
	return out
}

// printSummary writes the human-readable run summary through ui and the
// per-column table to w.
func printSummary(w io.Writer, res *ingestion.Result, dryRun bool) {
	if res.Run.RunID == "" {
		return
	}

	ui.Plain("")
	ui.Header("Ingestion Summary")
	ui.Plain(fmt.Sprintf("%s %s", ui.Label("Run ID:     "), res.Run.RunID))
	ui.Plain(fmt.Sprintf("%s %s", ui.Label("Experiment: "), res.Run.ExperimentID))
	ui.Plain(fmt.Sprintf("%s %s", ui.Label("Status:     "), statusText(res.Run.Status)))
	ui.Plain(fmt.Sprintf("%s %s", ui.Label("Duration:   "), res.Duration.Round(time.Millisecond)))
	if dryRun {
		ui.Warning("Dry run: nothing was sent to the tracking server")
	}

	if res.Report == nil {
		return
	}
	s := res.Report.Summary
	ui.Plain(fmt.Sprintf("%s %s", ui.Label("Rows:       "), ui.CountText(s.Rows)))
	ui.Plain(fmt.Sprintf("%s %s", ui.Label("Columns:    "), ui.CountText(s.Columns)))
	ui.Plain(fmt.Sprintf("%s %s (%s)", ui.Label("Missing:    "), ui.CountText(s.TotalMissing),
		ui.PercentText(stats.Divide(float64(s.TotalMissing), float64(s.Rows*s.Columns)))))
	ui.Plain(fmt.Sprintf("%s %s", ui.Label("Output:     "), ui.DimText(res.Report.OutputPath)))

	if len(s.ColumnStats) == 0 {
		return
	}
	ui.Plain("")
	ui.SubHeader("Columns:")
	printColumnTable(w, s)
}

func printColumnTable(w io.Writer, s stats.Summary) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "  NAME\tTYPE\tMISSING\tMISSING %\tUNIQUE")
	for _, cs := range s.ColumnStats {
		_, _ = fmt.Fprintf(tw, "  %s\t%s\t%d\t%.1f%%\t%d\n",
			cs.Name, cs.Type, cs.Missing, cs.MissingRatio(s.Rows)*100, cs.Unique)
	}
	_ = tw.Flush()
}

func statusText(status tracking.RunStatus) string {
	switch status {
	case tracking.RunStatusFinished:
		return ui.Green.Sprint(status)
	case tracking.RunStatusKilled:
		return ui.Yellow.Sprint(status)
	default:
		return ui.Red.Sprint(status)
	}
}
