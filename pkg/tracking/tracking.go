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

package tracking

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// RunStatus is the lifecycle state of a tracking run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "RUNNING"
	RunStatusFinished RunStatus = "FINISHED"
	RunStatusFailed   RunStatus = "FAILED"
	RunStatusKilled   RunStatus = "KILLED"
)

// RunInfo identifies a run and where its artifacts go.
type RunInfo struct {
	RunID        string
	ExperimentID string
	RunName      string
	ArtifactURI  string
	Status       RunStatus
	StartTime    time.Time
	EndTime      time.Time
}

// Param is a run parameter.
type Param struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Metric is one recorded metric value. Timestamp is in milliseconds since
// the Unix epoch.
type Metric struct {
	Key       string  `json:"key"`
	Value     float64 `json:"value"`
	Timestamp int64   `json:"timestamp"`
	Step      int64   `json:"step"`
}

// Client is the interface that all tracking backends must implement. It
// mirrors the subset of the MLflow tracking API the ingestion stage needs.
type Client interface {
	// SetExperiment returns the id of the named experiment, creating it if
	// it does not exist yet.
	SetExperiment(ctx context.Context, name string) (string, error)

	// CreateRun opens a new run in the experiment.
	CreateRun(ctx context.Context, experimentID, runName string) (*RunInfo, error)

	// LogParam records one parameter.
	LogParam(ctx context.Context, runID, key, value string) error

	// LogBatch records several parameters and metrics at once.
	LogBatch(ctx context.Context, runID string, params []Param, metrics []Metric) error

	// LogMetric records one metric value.
	LogMetric(ctx context.Context, runID string, m Metric) error

	// LogArtifact stores a local file under the run's artifact root.
	LogArtifact(ctx context.Context, run *RunInfo, localPath string) error

	// UpdateRun sets the run's terminal status and end time.
	UpdateRun(ctx context.Context, runID string, status RunStatus, end time.Time) error

	// Close releases any resources held by the client.
	Close() error
}

// Opener builds a Client for a tracking URI.
type Opener func(uri string) (Client, error)

// Options configures the clients built by Open.
type Options struct {
	// HTTPClient is used by the REST client. Nil means a client with Timeout.
	HTTPClient *http.Client

	// Timeout bounds each REST request. Zero means 30 seconds.
	Timeout time.Duration

	// Token is sent as a bearer token to the REST API.
	Token string

	// Username and Password enable basic authentication for the REST API.
	Username string
	Password string

	Logger *slog.Logger
}

// OptionsFromEnv reads credentials from the MLflow client environment
// variables MLFLOW_TRACKING_TOKEN, MLFLOW_TRACKING_USERNAME and
// MLFLOW_TRACKING_PASSWORD.
func OptionsFromEnv() Options {
	return Options{
		Token:    os.Getenv("MLFLOW_TRACKING_TOKEN"),
		Username: os.Getenv("MLFLOW_TRACKING_USERNAME"),
		Password: os.Getenv("MLFLOW_TRACKING_PASSWORD"),
	}
}

// Open returns a Client for the tracking URI:
//   - http:// and https:// speak the MLflow REST API
//   - file: URIs and plain paths use a local mlruns directory
//   - memory: keeps everything in process
func Open(uri string, opts Options) (Client, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	u, err := url.Parse(uri)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		// Plain path; a single-letter scheme is a Windows drive.
		return NewFileStore(uri, opts.Logger)
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return NewRESTClient(uri, opts)
	case "file":
		return NewFileStore(fileURIPath(u), opts.Logger)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedTrackingURI, uri)
	}
}

// NewOpener binds options to Open.
func NewOpener(opts Options) Opener {
	return func(uri string) (Client, error) {
		return Open(uri, opts)
	}
}

func fileURIPath(u *url.URL) string {
	if u.Opaque != "" {
		return filepath.FromSlash(u.Opaque)
	}
	return filepath.FromSlash(u.Path)
}

func nowMillis(t time.Time) int64 { return t.UnixMilli() }
