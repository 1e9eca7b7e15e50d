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
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kraklabs/mlingest/pkg/config"
	"github.com/kraklabs/mlingest/pkg/tracking"
)

// RunName is the name given to every tracking run the pipeline opens.
const RunName = "Data Ingestion Run"

// Reporter receives the human-readable progress of a run.
type Reporter interface {
	// Step announces a stage that is starting.
	Step(msg string)
	// Success reports a completed stage.
	Success(msg string)
	// Failure reports a failed stage. err may be nil.
	Failure(msg string, err error)
}

type nopReporter struct{}

func (nopReporter) Step(string)           {}
func (nopReporter) Success(string)        {}
func (nopReporter) Failure(string, error) {}

// Options configures a Pipeline.
type Options struct {
	// Opener builds the tracking client for mlflow_server_uri. Nil means
	// tracking.Open with credentials from the environment.
	Opener tracking.Opener

	// Reporter receives progress messages. Nil discards them.
	Reporter Reporter

	Logger *slog.Logger

	// InputHook wraps the raw data stream, e.g. to drive a progress bar.
	InputHook InputHook
}

// Result summarizes one pipeline run.
type Result struct {
	ConfigPath string

	// Run is the tracking run, with its final status. Zero when the run
	// failed before one was opened.
	Run tracking.RunInfo

	// Params are the run parameters that were logged.
	Params []tracking.Param

	// Ingested reports whether a dataset was read and recorded.
	Ingested bool

	// Report is set once statistics were computed.
	Report *Report

	// Err is the reason no dataset was ingested when the source read
	// failed softly. Run returns a nil error in that case.
	Err error

	Duration time.Duration
}

// Pipeline runs the ingestion stage: load config, open a tracking run, read
// the source, record statistics and the processed dataset.
type Pipeline struct {
	opener   tracking.Opener
	reporter Reporter
	logger   *slog.Logger
	source   *SourceReader
	recorder *Recorder
}

// NewPipeline creates a pipeline. Each call to Run is independent.
func NewPipeline(opts Options) *Pipeline {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	opener := opts.Opener
	if opener == nil {
		trackingOpts := tracking.OptionsFromEnv()
		trackingOpts.Logger = logger
		opener = tracking.NewOpener(trackingOpts)
	}
	reporter := opts.Reporter
	if reporter == nil {
		reporter = nopReporter{}
	}
	return &Pipeline{
		opener:   opener,
		reporter: reporter,
		logger:   logger,
		source:   NewSourceReader(logger, opts.InputHook),
		recorder: NewRecorder(logger),
	}
}

// Run executes the stage once for the configuration file at configPath.
//
// A configuration failure is returned before any tracking run is opened.
// Once a run is open it is always ended: FINISHED on success, KILLED when
// ctx is cancelled, FAILED otherwise. A source that cannot be read (missing
// file, malformed content, other read errors) is not an error of Run: the
// result has Ingested false and Err set.
func (p *Pipeline) Run(ctx context.Context, configPath string) (res *Result, err error) {
	start := time.Now()
	res = &Result{ConfigPath: configPath}
	outcome := OutcomeError
	defer func() {
		res.Duration = time.Since(start)
		observeTotal(res.Duration)
		recordOutcome(outcome)
	}()

	p.logger.Info("ingestion.run.start", "config", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		outcome = OutcomeConfigError
		p.logger.Error("ingestion.config.failed", "config", configPath, "err", err)
		p.reporter.Failure("Failed to load configuration. Exiting.", err)
		return res, err
	}
	if err := cfg.Require(config.KeyMLflowServerURI, config.KeyExperimentName); err != nil {
		outcome = OutcomeConfigError
		p.reporter.Failure("Failed to load configuration. Exiting.", err)
		return res, err
	}

	client, err := p.opener(cfg.MLflowServerURI)
	if err != nil {
		return res, trackingError("open "+cfg.MLflowServerURI, err)
	}
	defer func() {
		if cerr := client.Close(); cerr != nil {
			p.logger.Warn("tracking.client.close.failed", "err", cerr)
		}
	}()

	expID, err := client.SetExperiment(ctx, cfg.ExperimentName)
	if err != nil {
		return res, trackingError("set experiment "+cfg.ExperimentName, err)
	}
	run, err := tracking.StartRun(ctx, client, expID, RunName, p.logger)
	if err != nil {
		return res, trackingError("start run", err)
	}
	res.Run = run.Info()
	p.reporter.Step(fmt.Sprintf("Started run %s in experiment %s", run.ID(), cfg.ExperimentName))

	status := tracking.RunStatusFailed
	defer func() {
		if r := recover(); r != nil {
			p.endRun(ctx, run, tracking.RunStatusFailed, res)
			panic(r)
		}
		if endErr := p.endRun(ctx, run, status, res); endErr != nil && err == nil {
			outcome = OutcomeError
			err = endErr
		}
	}()

	runErr := p.ingest(ctx, run, cfg, res)
	switch {
	case runErr == nil:
		status = tracking.RunStatusFinished
		outcome = OutcomeSuccess
		return res, nil
	case ctx.Err() != nil:
		status = tracking.RunStatusKilled
		return res, runErr
	case IsSoftFailure(runErr):
		outcome = OutcomeNoData
		res.Err = runErr
		p.reporter.Failure("Data ingestion failed.", nil)
		p.logger.Warn("ingestion.run.no_data", "run_id", run.ID(), "err", runErr)
		return res, nil
	default:
		var missing *config.MissingKeyError
		if errors.As(runErr, &missing) {
			outcome = OutcomeConfigError
		}
		return res, runErr
	}
}

func (p *Pipeline) ingest(ctx context.Context, run *tracking.Run, cfg *config.Config, res *Result) error {
	params, err := p.recorder.LogRunParams(ctx, run, cfg)
	res.Params = params
	if err != nil {
		return err
	}

	p.reporter.Step(fmt.Sprintf("Reading raw data from %s", cfg.RawDataPath))
	readStart := time.Now()
	ds, err := p.source.Read(ctx, cfg)
	observeRead(time.Since(readStart))
	if err != nil {
		p.reportReadFailure(err)
		return err
	}
	p.reporter.Success(fmt.Sprintf("Data ingested successfully from %s", cfg.RawDataPath))

	recordStart := time.Now()
	report, err := p.recorder.Record(ctx, run, cfg, ds)
	observeRecord(time.Since(recordStart))
	res.Report = report
	if err != nil {
		return err
	}
	recordDataset(report.Summary.Rows, report.Summary.Columns, report.Summary.TotalMissing)

	res.Ingested = true
	p.reporter.Success(fmt.Sprintf("Ingested data saved to %s", report.OutputPath))
	return nil
}

func (p *Pipeline) reportReadFailure(err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		p.reporter.Failure("Error:", err)
	case errors.Is(err, ErrParse):
		p.reporter.Failure("Error: Could not parse the CSV file. Check separator and encoding.", err)
	case errors.Is(err, ErrIngestion):
		p.reporter.Failure("An unexpected error occurred:", err)
	}
}

// endRun closes the run without letting a cancelled ctx prevent the final
// status update.
func (p *Pipeline) endRun(ctx context.Context, run *tracking.Run, status tracking.RunStatus, res *Result) error {
	err := run.End(context.WithoutCancel(ctx), status)
	res.Run = run.Info()
	if err != nil {
		p.logger.Error("ingestion.run.end.failed", "run_id", run.ID(), "status", string(status), "err", err)
		return trackingError("end run", err)
	}
	p.logger.Info("ingestion.run.done", "run_id", run.ID(), "status", string(status), "duration", time.Since(res.Run.StartTime))
	return nil
}
