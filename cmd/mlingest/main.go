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

// Package main implements the mlingest CLI, the data ingestion stage of the
// ML pipeline.
//
// Usage:
//
//	mlingest                          Ingest with configs/main_config.yaml
//	mlingest -c path/to/config.yaml   Ingest with another config file
//	mlingest --json                   Print the run result as JSON
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"

	clierrors "github.com/kraklabs/mlingest/internal/errors"
	"github.com/kraklabs/mlingest/pkg/config"
)

// Version information (set via ldflags during build)
var (
	version = "dev"     // Version string
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// GlobalFlags holds the output flags shared by every part of the CLI.
type GlobalFlags struct {
	JSON    bool
	Quiet   bool
	NoColor bool
	Debug   bool
}

// Options holds the parsed command line.
type Options struct {
	GlobalFlags

	ConfigPath  string
	DryRun      bool
	MetricsFile string
	MetricsAddr string
	EnvFile     string
	ShowVersion bool
}

const usageText = `mlingest - data ingestion stage

Reads the raw dataset named by the configuration file, records its
statistics to an MLflow tracking server and writes the processed copy
to processed_data_path/ingested_data.csv.

Usage:
  mlingest [options]

Options:
%s
Configuration keys:
  data_ingestion.source_type   local_csv (database and api are not implemented)
  data_ingestion.separator     field separator (default ",")
  data_ingestion.encoding      text encoding of the raw file (default utf-8)
  raw_data_path                raw dataset to read
  processed_data_path          directory for ingested_data.csv
  mlflow_server_uri            http(s):// server, file: store or memory:
  experiment_name              experiment to log the run under

Environment Variables:
  MLFLOW_TRACKING_TOKEN        Bearer token for the tracking server
  MLFLOW_TRACKING_USERNAME     Basic auth user for the tracking server
  MLFLOW_TRACKING_PASSWORD     Basic auth password for the tracking server

Exit Codes:
  0 success, 1 configuration or usage, 2 tracking server, 3 data not found,
  4 data not parsable, 5 unsupported source, 6 output not writable,
  10 other failures, 130 interrupted

Examples:
  mlingest
  mlingest --config configs/dev.yaml --debug
  mlingest --dry-run --json
  mlingest --metrics-file /var/lib/node_exporter/mlingest.prom

`

// parseArgs parses the command line. A parse error has already been
// reported on stderr.
func parseArgs(args []string, stderr io.Writer) (Options, error) {
	var opts Options
	flags := flag.NewFlagSet("mlingest", flag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.StringVarP(&opts.ConfigPath, "config", "c", config.DefaultPath, "Path to the configuration file")
	flags.BoolVar(&opts.JSON, "json", false, "Print the run result as JSON on stdout and errors as JSON on stderr")
	flags.BoolVar(&opts.NoColor, "no-color", false, "Disable colored output")
	flags.BoolVarP(&opts.Quiet, "quiet", "q", false, "Only print warnings and errors")
	flags.BoolVar(&opts.Debug, "debug", false, "Enable debug logging")
	flags.BoolVar(&opts.DryRun, "dry-run", false, "Record the run in memory instead of the tracking server")
	flags.StringVar(&opts.MetricsFile, "metrics-file", "", "Write process metrics in Prometheus text format to this file")
	flags.StringVar(&opts.MetricsAddr, "metrics-addr", "", "HTTP listen address for Prometheus metrics while the run lasts")
	flags.StringVar(&opts.EnvFile, "env-file", ".env", "Load tracking credentials from this dotenv file if it exists")
	flags.BoolVar(&opts.ShowVersion, "version", false, "Show version and exit")

	flags.Usage = func() {
		fmt.Fprintf(stderr, usageText, flags.FlagUsages())
	}

	if err := flags.Parse(args); err != nil {
		return opts, err
	}
	if flags.NArg() > 0 {
		fmt.Fprintf(stderr, "unexpected argument %q\n", flags.Arg(0))
		flags.Usage()
		return opts, fmt.Errorf("unexpected argument %q", flags.Arg(0))
	}
	if opts.JSON {
		opts.Quiet = true
	}
	return opts, nil
}

// loadEnvFile seeds the environment from a dotenv file. Variables already
// set win, and a missing file is not an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func main() {
	opts, err := parseArgs(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(clierrors.ExitSuccess)
		}
		os.Exit(clierrors.ExitConfig)
	}

	if opts.ShowVersion {
		fmt.Printf("mlingest version %s\n", version)
		fmt.Printf("commit: %s\n", commit)
		fmt.Printf("built: %s\n", date)
		os.Exit(clierrors.ExitSuccess)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, opts, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
