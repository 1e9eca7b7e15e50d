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
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/kraklabs/mlingest/pkg/config"
	"github.com/kraklabs/mlingest/pkg/dataset"
	"github.com/kraklabs/mlingest/pkg/stats"
	"github.com/kraklabs/mlingest/pkg/tracking"
)

// OutputFileName is the name of the processed dataset written under
// processed_data_path.
const OutputFileName = "ingested_data.csv"

// Parameter keys recorded after the data_ingestion section.
const (
	ParamRawDataPath       = "raw_data_path"
	ParamProcessedDataPath = "processed_data_path"
	ParamMLflowServerURI   = "mlflow_server_uri"
	ParamRunID             = "run_id"
	ParamExperimentID      = "experiment_id"
	ParamTimestamp         = "timestamp"
)

// Report describes what Record logged and wrote.
type Report struct {
	Summary    stats.Summary
	Metrics    []stats.Metric
	OutputPath string
}

// Recorder logs run parameters, dataset statistics and the processed
// dataset to a tracking run.
type Recorder struct {
	logger *slog.Logger
	now    func() time.Time
}

// NewRecorder creates a recorder. A nil logger means slog.Default().
func NewRecorder(logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{logger: logger, now: time.Now}
}

// LogRunParams records every data_ingestion key in document order, then
// the data paths, tracking URI, run and experiment ids and the current time.
// It returns the parameters logged.
func (r *Recorder) LogRunParams(ctx context.Context, run *tracking.Run, cfg *config.Config) ([]tracking.Param, error) {
	section := make([]tracking.Param, 0, len(cfg.DataIngestion.Params))
	for _, p := range cfg.DataIngestion.Params {
		section = append(section, tracking.Param{Key: p.Key, Value: p.Value})
	}
	if err := run.LogParams(ctx, section); err != nil {
		return section, trackingError("log ingestion params", err)
	}

	if err := cfg.Require(config.KeyRawDataPath, config.KeyProcessedDataPath, config.KeyMLflowServerURI); err != nil {
		return section, err
	}

	logged := section
	for _, p := range []tracking.Param{
		{Key: ParamRawDataPath, Value: cfg.RawDataPath},
		{Key: ParamProcessedDataPath, Value: cfg.ProcessedDataPath},
		{Key: ParamMLflowServerURI, Value: cfg.MLflowServerURI},
		{Key: ParamRunID, Value: run.ID()},
		{Key: ParamExperimentID, Value: run.ExperimentID()},
		{Key: ParamTimestamp, Value: r.now().Format(time.RFC3339Nano)},
	} {
		if err := run.LogParam(ctx, p.Key, p.Value); err != nil {
			return logged, trackingError("log run params", err)
		}
		logged = append(logged, p)
	}
	r.logger.Info("recorder.params.logged", "run_id", run.ID(), "count", len(logged))
	return logged, nil
}

// Record logs the dataset statistics as metrics, writes the dataset to
// <processed_data_path>/ingested_data.csv and registers that file as a run
// artifact. Metrics already logged stay recorded if a later step fails.
func (r *Recorder) Record(ctx context.Context, run *tracking.Run, cfg *config.Config, ds *dataset.Dataset) (*Report, error) {
	if err := cfg.Require(config.KeyProcessedDataPath); err != nil {
		return nil, err
	}

	summary := stats.Describe(ds)
	report := &Report{Summary: summary, Metrics: summary.Metrics()}
	for _, m := range report.Metrics {
		if err := run.LogMetric(ctx, m.Name, m.Value); err != nil {
			return report, trackingError("log metrics", err)
		}
	}
	r.logger.Info("recorder.metrics.logged", "run_id", run.ID(), "count", len(report.Metrics))

	out, err := writeProcessed(cfg.ProcessedDataPath, ds)
	if err != nil {
		return report, err
	}
	report.OutputPath = out
	r.logger.Info("recorder.output.written", "path", out, "rows", ds.NumRows())

	if err := run.LogArtifact(ctx, out); err != nil {
		return report, trackingError("log artifact", err)
	}
	r.logger.Info("recorder.artifact.logged", "run_id", run.ID(), "path", out)
	return report, nil
}

func writeProcessed(dir string, ds *dataset.Dataset) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", &OutputError{Path: dir, Err: err}
	}
	path := filepath.Join(dir, OutputFileName)
	f, err := os.Create(path)
	if err != nil {
		return "", &OutputError{Path: path, Err: err}
	}
	if err := dataset.Write(f, ds); err != nil {
		_ = f.Close()
		return "", &OutputError{Path: path, Err: fmt.Errorf("write csv: %w", err)}
	}
	if err := f.Close(); err != nil {
		return "", &OutputError{Path: path, Err: err}
	}
	return path, nil
}
