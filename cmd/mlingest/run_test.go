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
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	flag "github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	clierrors "github.com/kraklabs/mlingest/internal/errors"
	mltest "github.com/kraklabs/mlingest/internal/testing"
	"github.com/kraklabs/mlingest/pkg/config"
	"github.com/kraklabs/mlingest/pkg/ingestion"
	"github.com/kraklabs/mlingest/pkg/tracking"
)

func TestParseArgs(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		opts, err := parseArgs(nil, io.Discard)
		require.NoError(t, err)
		assert.Equal(t, config.DefaultPath, opts.ConfigPath)
		assert.Equal(t, ".env", opts.EnvFile)
		assert.False(t, opts.JSON)
		assert.False(t, opts.Quiet)
		assert.False(t, opts.DryRun)
	})

	t.Run("short flags", func(t *testing.T) {
		opts, err := parseArgs([]string{"-c", "cfg.yaml", "-q"}, io.Discard)
		require.NoError(t, err)
		assert.Equal(t, "cfg.yaml", opts.ConfigPath)
		assert.True(t, opts.Quiet)
	})

	t.Run("json implies quiet", func(t *testing.T) {
		opts, err := parseArgs([]string{"--json", "--dry-run", "--metrics-file", "m.prom"}, io.Discard)
		require.NoError(t, err)
		assert.True(t, opts.JSON)
		assert.True(t, opts.Quiet)
		assert.True(t, opts.DryRun)
		assert.Equal(t, "m.prom", opts.MetricsFile)
	})

	t.Run("help", func(t *testing.T) {
		var stderr bytes.Buffer
		_, err := parseArgs([]string{"--help"}, &stderr)
		assert.ErrorIs(t, err, flag.ErrHelp)
		assert.Contains(t, stderr.String(), "Exit Codes:")
		assert.Contains(t, stderr.String(), "--metrics-file")
	})

	t.Run("positional argument", func(t *testing.T) {
		_, err := parseArgs([]string{"extra"}, io.Discard)
		assert.Error(t, err)
	})

	t.Run("unknown flag", func(t *testing.T) {
		_, err := parseArgs([]string{"--nope"}, io.Discard)
		assert.Error(t, err)
	})
}

// runCLI executes one ingestion with the given options and returns the exit
// code and both output streams.
func runCLI(t *testing.T, opts Options) (int, string, string) {
	t.Helper()
	opts.NoColor = true
	if opts.EnvFile == "" {
		opts.EnvFile = filepath.Join(t.TempDir(), "absent.env")
	}
	var stdout, stderr bytes.Buffer
	code := execute(context.Background(), opts, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func jsonOptions(configPath string) Options {
	return Options{GlobalFlags: GlobalFlags{JSON: true, Quiet: true}, ConfigPath: configPath}
}

func decodeRun(t *testing.T, stdout string) RunJSON {
	t.Helper()
	var out RunJSON
	require.NoError(t, json.Unmarshal([]byte(stdout), &out), stdout)
	return out
}

func TestExecute_JSON(t *testing.T) {
	raw := mltest.WriteCSV(t, "a,b\n1,\n2,3\n,5\n")
	fixture := mltest.DefaultConfig(t, raw)
	cfgPath := mltest.WriteConfig(t, fixture)

	code, stdout, stderr := runCLI(t, jsonOptions(cfgPath))
	require.Equal(t, clierrors.ExitSuccess, code, stderr)

	out := decodeRun(t, stdout)
	assert.Equal(t, cfgPath, out.Config)
	assert.NotEmpty(t, out.RunID)
	assert.Equal(t, string(tracking.RunStatusFinished), out.Status)
	assert.True(t, out.Ingested)
	assert.Nil(t, out.Error)
	assert.Equal(t, filepath.Join(fixture.ProcessedDataPath, ingestion.OutputFileName), out.OutputPath)
	assert.Len(t, out.Params, 9)
	assert.Contains(t, out.Metrics, MetricJSON{Name: "num_rows", Value: 3})
	assert.Contains(t, out.Metrics, MetricJSON{Name: "total_missing_values", Value: 2})
	assert.NotContains(t, stderr, "level=INFO", "--json logs warnings only")
}

func TestExecute_Human(t *testing.T) {
	raw := mltest.WriteCSV(t, "name,score\nx,1\ny,\n")
	cfgPath := mltest.WriteConfig(t, mltest.DefaultConfig(t, raw))

	code, stdout, stderr := runCLI(t, Options{ConfigPath: cfgPath})
	require.Equal(t, clierrors.ExitSuccess, code, stderr)

	assert.Contains(t, stdout, "ℹ Running data ingestion...")
	assert.Contains(t, stdout, "✓ Data ingested successfully from "+raw)
	assert.Contains(t, stdout, "✓ Ingested data saved to ")
	assert.Contains(t, stdout, "Ingestion Summary")
	assert.Contains(t, stdout, "FINISHED")
	assert.Contains(t, stdout, "NAME")
	assert.Contains(t, stdout, "50.0%")
	assert.Contains(t, stderr, "ingestion.run.done")
}

func TestExecute_Quiet(t *testing.T) {
	raw := mltest.WriteCSV(t, "a\n1\n")
	cfgPath := mltest.WriteConfig(t, mltest.DefaultConfig(t, raw))

	code, stdout, stderr := runCLI(t, Options{GlobalFlags: GlobalFlags{Quiet: true}, ConfigPath: cfgPath})
	assert.Equal(t, clierrors.ExitSuccess, code)
	assert.Empty(t, stdout)
	assert.Empty(t, stderr)
}

func TestExecute_Failures(t *testing.T) {
	tests := []struct {
		name     string
		fixture  func(t *testing.T) string
		wantCode int
		wantRun  bool
	}{
		{
			name: "missing config",
			fixture: func(t *testing.T) string {
				return filepath.Join(t.TempDir(), "absent.yaml")
			},
			wantCode: clierrors.ExitConfig,
		},
		{
			name: "missing raw data",
			fixture: func(t *testing.T) string {
				return mltest.WriteConfig(t, mltest.DefaultConfig(t, filepath.Join(t.TempDir(), "absent.csv")))
			},
			wantCode: clierrors.ExitNotFound,
			wantRun:  true,
		},
		{
			name: "malformed raw data",
			fixture: func(t *testing.T) string {
				return mltest.WriteConfig(t, mltest.DefaultConfig(t, mltest.WriteCSV(t, "a,b\n1,2,3\n")))
			},
			wantCode: clierrors.ExitParse,
			wantRun:  true,
		},
		{
			name: "unsupported source",
			fixture: func(t *testing.T) string {
				f := mltest.DefaultConfig(t, "unused.csv")
				f.DataIngestion.SourceType = ingestion.SourceDatabase
				return mltest.WriteConfig(t, f)
			},
			wantCode: clierrors.ExitUnsupported,
			wantRun:  true,
		},
		{
			name: "unsupported tracking uri",
			fixture: func(t *testing.T) string {
				f := mltest.DefaultConfig(t, mltest.WriteCSV(t, "a\n1\n"))
				f.MLflowServerURI = "databricks://profile"
				return mltest.WriteConfig(t, f)
			},
			wantCode: clierrors.ExitTracking,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, stdout, stderr := runCLI(t, jsonOptions(tt.fixture(t)))
			assert.Equal(t, tt.wantCode, code)

			out := decodeRun(t, stdout)
			assert.False(t, out.Ingested)
			require.NotNil(t, out.Error)
			assert.Equal(t, tt.wantCode, out.Error.ExitCode)
			if tt.wantRun {
				assert.Equal(t, string(tracking.RunStatusFailed), out.Status)
			} else {
				assert.Empty(t, out.RunID)
			}

			var errJSON clierrors.ErrorJSON
			start := strings.Index(stderr, "{\n")
			require.GreaterOrEqual(t, start, 0, stderr)
			require.NoError(t, json.Unmarshal([]byte(stderr[start:]), &errJSON), stderr)
			assert.Equal(t, tt.wantCode, errJSON.ExitCode)
			assert.NotEmpty(t, errJSON.Fix)
		})
	}
}

func TestExecute_SoftFailureHuman(t *testing.T) {
	cfgPath := mltest.WriteConfig(t, mltest.DefaultConfig(t, filepath.Join(t.TempDir(), "absent.csv")))

	code, stdout, stderr := runCLI(t, Options{ConfigPath: cfgPath})
	assert.Equal(t, clierrors.ExitNotFound, code)
	assert.Contains(t, stdout, "✗ Error: data not found")
	assert.Contains(t, stdout, "✗ Data ingestion failed.")
	assert.Contains(t, stdout, "FAILED")
	assert.NotContains(t, stderr, "Fix:", "the failure is reported once")
}

func TestExecute_DryRun(t *testing.T) {
	raw := mltest.WriteCSV(t, "a\n1\n2\n")
	fixture := mltest.DefaultConfig(t, raw)
	fixture.MLflowServerURI = "http://127.0.0.1:1"
	opts := jsonOptions(mltest.WriteConfig(t, fixture))
	opts.DryRun = true

	code, stdout, stderr := runCLI(t, opts)
	require.Equal(t, clierrors.ExitSuccess, code, stderr)

	out := decodeRun(t, stdout)
	assert.True(t, out.DryRun)
	assert.True(t, out.Ingested)
	assert.Contains(t, out.Params, tracking.Param{Key: ingestion.ParamMLflowServerURI, Value: "http://127.0.0.1:1"})
}

func TestExecute_MetricsFile(t *testing.T) {
	raw := mltest.WriteCSV(t, "a\n1\n")
	opts := jsonOptions(mltest.WriteConfig(t, mltest.DefaultConfig(t, raw)))
	opts.MetricsFile = filepath.Join(t.TempDir(), "mlingest.prom")

	code, _, stderr := runCLI(t, opts)
	require.Equal(t, clierrors.ExitSuccess, code, stderr)

	data, err := os.ReadFile(opts.MetricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), `mlingest_runs_total{outcome="success"}`)
	assert.Contains(t, string(data), "mlingest_rows_ingested_total")
}

func TestExecute_EnvFile(t *testing.T) {
	const key = "MLINGEST_TEST_ENV_FILE"
	t.Cleanup(func() { os.Unsetenv(key) })

	envFile := mltest.WriteFile(t, t.TempDir(), ".env", key+"=from-file\n")
	raw := mltest.WriteCSV(t, "a\n1\n")
	opts := jsonOptions(mltest.WriteConfig(t, mltest.DefaultConfig(t, raw)))
	opts.EnvFile = envFile

	code, _, stderr := runCLI(t, opts)
	require.Equal(t, clierrors.ExitSuccess, code, stderr)
	assert.Equal(t, "from-file", os.Getenv(key))
}

func TestServeMetrics(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	addr, stop, err := serveMetrics("127.0.0.1:0", logger)
	require.NoError(t, err)
	defer stop()

	resp, err := http.Get("http://" + addr + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	_, _, err = serveMetrics(addr, logger)
	assert.Error(t, err, "address already in use")
}
