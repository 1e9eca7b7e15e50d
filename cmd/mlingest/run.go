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
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	clierrors "github.com/kraklabs/mlingest/internal/errors"
	"github.com/kraklabs/mlingest/internal/output"
	"github.com/kraklabs/mlingest/internal/ui"
	"github.com/kraklabs/mlingest/pkg/ingestion"
	"github.com/kraklabs/mlingest/pkg/tracking"
)

// newLogger builds the stderr logger: Info by default, Debug with --debug,
// Warn with --quiet.
func newLogger(w io.Writer, globals GlobalFlags) *slog.Logger {
	level := slog.LevelInfo
	switch {
	case globals.Debug:
		level = slog.LevelDebug
	case globals.Quiet:
		level = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// dryRunOpener records every run in process, whatever the configured URI.
func dryRunOpener(string) (tracking.Client, error) {
	return tracking.NewMemoryStore(), nil
}

// execute runs the ingestion stage once and returns the process exit code.
func execute(ctx context.Context, opts Options, stdout, stderr io.Writer) int {
	if opts.NoColor {
		ui.InitColors(true)
	}
	if opts.Quiet {
		defer ui.SetOutput(ui.SetOutput(nil))
	} else {
		defer ui.SetOutput(ui.SetOutput(stdout))
	}

	logger := newLogger(stderr, opts.GlobalFlags)

	if err := loadEnvFile(opts.EnvFile); err != nil {
		uerr := clierrors.NewConfigError("Cannot load environment file", err.Error(), "Fix the file or pass --env-file \"\"", err)
		return clierrors.Print(stderr, uerr, opts.JSON, opts.NoColor)
	}

	if opts.MetricsAddr != "" {
		_, stop, err := serveMetrics(opts.MetricsAddr, logger)
		if err != nil {
			uerr := clierrors.NewConfigError("Cannot serve metrics", err.Error(), "Pick a free address for --metrics-addr", err)
			return clierrors.Print(stderr, uerr, opts.JSON, opts.NoColor)
		}
		defer stop()
	}

	progress := newInputProgress(NewProgressConfig(opts.GlobalFlags))
	defer progress.Finish()

	pipelineOpts := ingestion.Options{
		Reporter:  consoleReporter{progress: progress},
		Logger:    logger,
		InputHook: progress.Hook,
	}
	if opts.DryRun {
		pipelineOpts.Opener = dryRunOpener
	}

	ui.Info("Running data ingestion...")
	res, err := ingestion.NewPipeline(pipelineOpts).Run(ctx, opts.ConfigPath)
	progress.Finish()

	if opts.MetricsFile != "" {
		if werr := prometheus.WriteToTextfile(opts.MetricsFile, ingestion.Registry); werr != nil {
			logger.Warn("metrics.file.failed", "path", opts.MetricsFile, "err", werr)
		}
	}

	soft := err == nil && res.Err != nil
	if soft {
		err = res.Err
	}
	uerr := userError(err, opts.ConfigPath)

	if opts.JSON {
		if jerr := output.JSONTo(stdout, newRunJSON(res, opts.DryRun, uerr)); jerr != nil {
			logger.Error("output.json.failed", "err", jerr)
		}
	} else if !opts.Quiet {
		printSummary(stdout, res, opts.DryRun)
	}

	if uerr == nil {
		return clierrors.ExitSuccess
	}
	if soft && !opts.JSON {
		// The reporter already printed the failure.
		return uerr.ExitCode
	}
	return clierrors.Print(stderr, uerr, opts.JSON, opts.NoColor)
}

// serveMetrics exposes ingestion.Registry on addr until the returned stop
// function is called. It returns the address actually bound.
func serveMetrics(addr string, logger *slog.Logger) (bound string, stop func(), err error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(ingestion.Registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Info("metrics.http.start", "addr", ln.Addr().String(), "path", "/metrics")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics.http.error", "err", err)
		}
	}()

	return ln.Addr().String(), func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
