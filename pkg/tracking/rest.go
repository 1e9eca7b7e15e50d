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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

const (
	apiPrefix          = "/api/2.0/mlflow/"
	artifactsPrefix    = "/api/2.0/mlflow-artifacts/artifacts"
	defaultHTTPTimeout = 30 * time.Second

	// SourceName is reported as the mlflow.source.name tag of created runs.
	SourceName = "mlingest"
)

// RESTClient talks to an MLflow tracking server over its REST API.
type RESTClient struct {
	baseURL  string
	client   *http.Client
	token    string
	username string
	password string
	logger   *slog.Logger
}

var _ Client = (*RESTClient)(nil)

// NewRESTClient creates a client for the tracking server at baseURL.
func NewRESTClient(baseURL string, opts Options) (*RESTClient, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedTrackingURI, baseURL)
	}
	if opts.Timeout == 0 {
		opts.Timeout = defaultHTTPTimeout
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &RESTClient{
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		client:   hc,
		token:    opts.Token,
		username: opts.Username,
		password: opts.Password,
		logger:   logger,
	}, nil
}

type experimentJSON struct {
	ExperimentID   string `json:"experiment_id"`
	Name           string `json:"name"`
	LifecycleStage string `json:"lifecycle_stage"`
}

type runInfoJSON struct {
	RunID        string `json:"run_id"`
	RunUUID      string `json:"run_uuid"`
	ExperimentID string `json:"experiment_id"`
	RunName      string `json:"run_name"`
	Status       string `json:"status"`
	StartTime    int64  `json:"start_time"`
	EndTime      int64  `json:"end_time"`
	ArtifactURI  string `json:"artifact_uri"`
}

// SetExperiment looks the experiment up by name and creates it when the
// server reports it does not exist.
func (c *RESTClient) SetExperiment(ctx context.Context, name string) (string, error) {
	var got struct {
		Experiment experimentJSON `json:"experiment"`
	}
	err := c.call(ctx, http.MethodGet, "experiments/get-by-name", url.Values{"experiment_name": {name}}, nil, &got)
	if err == nil {
		if got.Experiment.LifecycleStage == "deleted" {
			return "", fmt.Errorf("%w: %s", ErrExperimentDeleted, name)
		}
		return got.Experiment.ExperimentID, nil
	}
	if !IsNotFound(err) {
		return "", err
	}

	var created struct {
		ExperimentID string `json:"experiment_id"`
	}
	if err := c.call(ctx, http.MethodPost, "experiments/create", nil, map[string]any{"name": name}, &created); err != nil {
		return "", err
	}
	c.logger.Info("tracking.experiment.created", "name", name, "experiment_id", created.ExperimentID)
	return created.ExperimentID, nil
}

// CreateRun starts a run tagged with its name, the local user and the
// source program.
func (c *RESTClient) CreateRun(ctx context.Context, experimentID, runName string) (*RunInfo, error) {
	start := time.Now()
	req := map[string]any{
		"experiment_id": experimentID,
		"run_name":      runName,
		"start_time":    nowMillis(start),
		"tags": []Param{
			{Key: "mlflow.runName", Value: runName},
			{Key: "mlflow.user", Value: currentUser()},
			{Key: "mlflow.source.name", Value: SourceName},
			{Key: "mlflow.source.type", Value: "LOCAL"},
		},
	}
	var resp struct {
		Run struct {
			Info runInfoJSON `json:"info"`
		} `json:"run"`
	}
	if err := c.call(ctx, http.MethodPost, "runs/create", nil, req, &resp); err != nil {
		return nil, err
	}

	info := resp.Run.Info
	id := info.RunID
	if id == "" {
		id = info.RunUUID
	}
	name := info.RunName
	if name == "" {
		name = runName
	}
	return &RunInfo{
		RunID:        id,
		ExperimentID: info.ExperimentID,
		RunName:      name,
		ArtifactURI:  info.ArtifactURI,
		Status:       RunStatusRunning,
		StartTime:    time.UnixMilli(info.StartTime),
	}, nil
}

func (c *RESTClient) LogParam(ctx context.Context, runID, key, value string) error {
	req := map[string]any{"run_id": runID, "run_uuid": runID, "key": key, "value": value}
	return c.call(ctx, http.MethodPost, "runs/log-parameter", nil, req, nil)
}

func (c *RESTClient) LogBatch(ctx context.Context, runID string, params []Param, metrics []Metric) error {
	req := map[string]any{"run_id": runID}
	if len(params) > 0 {
		req["params"] = params
	}
	if len(metrics) > 0 {
		req["metrics"] = metrics
	}
	return c.call(ctx, http.MethodPost, "runs/log-batch", nil, req, nil)
}

func (c *RESTClient) LogMetric(ctx context.Context, runID string, m Metric) error {
	req := map[string]any{
		"run_id":    runID,
		"run_uuid":  runID,
		"key":       m.Key,
		"value":     m.Value,
		"timestamp": m.Timestamp,
		"step":      m.Step,
	}
	return c.call(ctx, http.MethodPost, "runs/log-metric", nil, req, nil)
}

func (c *RESTClient) UpdateRun(ctx context.Context, runID string, status RunStatus, end time.Time) error {
	req := map[string]any{
		"run_id":   runID,
		"run_uuid": runID,
		"status":   string(status),
		"end_time": nowMillis(end),
	}
	return c.call(ctx, http.MethodPost, "runs/update", nil, req, nil)
}

// LogArtifact uploads the file through the server's artifact proxy when the
// run's artifact root is an mlflow-artifacts: URI, and copies it when the
// root is a local path shared with the server.
func (c *RESTClient) LogArtifact(ctx context.Context, run *RunInfo, localPath string) error {
	root, err := url.Parse(run.ArtifactURI)
	if err != nil {
		return fmt.Errorf("parse artifact uri %q: %w", run.ArtifactURI, err)
	}
	switch root.Scheme {
	case "mlflow-artifacts":
		return c.uploadArtifact(ctx, root, localPath)
	case "file", "":
		return copyArtifact(fileURIPath(root), localPath)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedArtifactStore, run.ArtifactURI)
	}
}

func (c *RESTClient) uploadArtifact(ctx context.Context, root *url.URL, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return err
	}

	base := c.baseURL
	if root.Host != "" {
		base = strings.SplitN(c.baseURL, "://", 2)[0] + "://" + root.Host
	}
	target, err := url.JoinPath(base, artifactsPrefix, strings.TrimPrefix(root.Path, "/"), filepath.Base(localPath))
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target, f)
	if err != nil {
		return err
	}
	req.ContentLength = st.Size()
	contentType := mime.TypeByExtension(path.Ext(localPath))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", contentType)

	return c.send(req, "mlflow-artifacts/artifacts", nil)
}

func (c *RESTClient) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

// call sends a JSON request to an MLflow API endpoint and decodes the JSON
// response into out, when out is not nil.
func (c *RESTClient) call(ctx context.Context, method, endpoint string, query url.Values, body, out any) error {
	target := c.baseURL + apiPrefix + endpoint
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("mlflow %s: encode request: %w", endpoint, err)
		}
		rdr = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req, endpoint, out)
}

func (c *RESTClient) send(req *http.Request, endpoint string, out any) error {
	switch {
	case c.token != "":
		req.Header.Set("Authorization", "Bearer "+c.token)
	case c.username != "":
		req.SetBasicAuth(c.username, c.password)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("mlflow %s: %w", endpoint, err)
	}
	defer resp.Body.Close()
	c.logger.Debug("tracking.http.request",
		"method", req.Method,
		"endpoint", endpoint,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeAPIError(resp, endpoint)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("mlflow %s: decode response: %w", endpoint, err)
	}
	return nil
}

func decodeAPIError(resp *http.Response, endpoint string) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	apiErr := &APIError{StatusCode: resp.StatusCode, Endpoint: endpoint}

	var payload struct {
		ErrorCode string `json:"error_code"`
		Message   string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.ErrorCode != "" {
		apiErr.Code = payload.ErrorCode
		apiErr.Message = payload.Message
	} else {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	return apiErr
}

func currentUser() string {
	for _, key := range []string{"LOGNAME", "USER", "LNAME", "USERNAME"} {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	return "unknown"
}

// copyArtifact copies localPath into dir, creating dir if needed.
func copyArtifact(dir, localPath string) error {
	if dir == "" {
		return fmt.Errorf("%w: empty artifact root", ErrUnsupportedArtifactStore)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}

	src, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(filepath.Join(dir, filepath.Base(localPath)))
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return fmt.Errorf("copy artifact: %w", err)
	}
	return dst.Close()
}
