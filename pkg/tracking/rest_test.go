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
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeMLflow is a minimal MLflow tracking server recording what it receives.
type fakeMLflow struct {
	mu          sync.Mutex
	experiments map[string]string
	deleted     map[string]bool
	calls       []string
	bodies      map[string][]map[string]any
	artifacts   map[string]string
	auth        []string
}

func newFakeMLflow(t *testing.T) (*fakeMLflow, *httptest.Server) {
	t.Helper()
	f := &fakeMLflow{
		experiments: map[string]string{},
		deleted:     map[string]bool{},
		bodies:      map[string][]map[string]any{},
		artifacts:   map[string]string{},
	}
	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeMLflow) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.auth = append(f.auth, r.Header.Get("Authorization"))

	if strings.HasPrefix(r.URL.Path, artifactsPrefix) {
		data, _ := io.ReadAll(r.Body)
		f.calls = append(f.calls, "PUT artifact")
		f.artifacts[strings.TrimPrefix(r.URL.Path, artifactsPrefix+"/")] = string(data)
		w.WriteHeader(http.StatusOK)
		return
	}

	endpoint := strings.TrimPrefix(r.URL.Path, apiPrefix)
	f.calls = append(f.calls, endpoint)

	var body map[string]any
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}
	f.bodies[endpoint] = append(f.bodies[endpoint], body)

	w.Header().Set("Content-Type", "application/json")
	switch endpoint {
	case "experiments/get-by-name":
		name := r.URL.Query().Get("experiment_name")
		id, ok := f.experiments[name]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"error_code":"RESOURCE_DOES_NOT_EXIST","message":"Could not find experiment"}`)
			return
		}
		stage := "active"
		if f.deleted[name] {
			stage = "deleted"
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"experiment": map[string]any{"experiment_id": id, "name": name, "lifecycle_stage": stage},
		})
	case "experiments/create":
		id := "7"
		f.experiments[body["name"].(string)] = id
		_ = json.NewEncoder(w).Encode(map[string]any{"experiment_id": id})
	case "runs/create":
		_ = json.NewEncoder(w).Encode(map[string]any{
			"run": map[string]any{"info": map[string]any{
				"run_id":        "abc123",
				"run_uuid":      "abc123",
				"experiment_id": body["experiment_id"],
				"run_name":      body["run_name"],
				"status":        "RUNNING",
				"start_time":    body["start_time"],
				"artifact_uri":  "mlflow-artifacts:/7/abc123/artifacts",
			}},
		})
	case "runs/log-parameter", "runs/log-batch", "runs/log-metric", "runs/update":
		_, _ = io.WriteString(w, "{}")
	default:
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error_code":"ENDPOINT_NOT_FOUND","message":"no such endpoint"}`)
	}
}

func (f *fakeMLflow) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeMLflow) authHeaders() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.auth...)
}

func TestRESTClient_SetExperimentCreatesMissing(t *testing.T) {
	f, srv := newFakeMLflow(t)
	c, err := NewRESTClient(srv.URL, Options{})
	require.NoError(t, err)

	id, err := c.SetExperiment(context.Background(), "ingest")
	require.NoError(t, err)
	assert.Equal(t, "7", id)
	assert.Equal(t, []string{"experiments/get-by-name", "experiments/create"}, f.callLog())

	// Second call finds it.
	id, err = c.SetExperiment(context.Background(), "ingest")
	require.NoError(t, err)
	assert.Equal(t, "7", id)
	assert.Len(t, f.callLog(), 3)
}

func TestRESTClient_SetExperimentDeleted(t *testing.T) {
	f, srv := newFakeMLflow(t)
	f.experiments["old"] = "3"
	f.deleted["old"] = true

	c, err := NewRESTClient(srv.URL, Options{})
	require.NoError(t, err)

	_, err = c.SetExperiment(context.Background(), "old")
	assert.ErrorIs(t, err, ErrExperimentDeleted)
}

func TestRESTClient_RunLifecycle(t *testing.T) {
	f, srv := newFakeMLflow(t)
	c, err := NewRESTClient(srv.URL+"/", Options{Token: "secret"})
	require.NoError(t, err)
	ctx := context.Background()

	info, err := c.CreateRun(ctx, "7", "Data Ingestion Run")
	require.NoError(t, err)
	assert.Equal(t, "abc123", info.RunID)
	assert.Equal(t, "Data Ingestion Run", info.RunName)
	assert.Equal(t, RunStatusRunning, info.Status)

	require.NoError(t, c.LogParam(ctx, info.RunID, "source_type", "local_csv"))
	require.NoError(t, c.LogMetric(ctx, info.RunID, Metric{Key: "num_rows", Value: 3, Timestamp: 1}))
	require.NoError(t, c.LogBatch(ctx, info.RunID, []Param{{Key: "a", Value: "1"}}, nil))
	require.NoError(t, c.UpdateRun(ctx, info.RunID, RunStatusFinished, time.UnixMilli(42)))

	f.mu.Lock()
	defer f.mu.Unlock()

	tags := f.bodies["runs/create"][0]["tags"].([]any)
	assert.Contains(t, tags, map[string]any{"key": "mlflow.runName", "value": "Data Ingestion Run"})

	param := f.bodies["runs/log-parameter"][0]
	assert.Equal(t, "source_type", param["key"])
	assert.Equal(t, "local_csv", param["value"])

	metric := f.bodies["runs/log-metric"][0]
	assert.Equal(t, "num_rows", metric["key"])
	assert.EqualValues(t, 3, metric["value"])

	batch := f.bodies["runs/log-batch"][0]
	assert.NotContains(t, batch, "metrics")

	update := f.bodies["runs/update"][0]
	assert.Equal(t, "FINISHED", update["status"])
	assert.EqualValues(t, 42, update["end_time"])

	for _, h := range f.auth {
		assert.Equal(t, "Bearer secret", h)
	}
}

func TestRESTClient_BasicAuth(t *testing.T) {
	f, srv := newFakeMLflow(t)
	c, err := NewRESTClient(srv.URL, Options{Username: "u", Password: "p"})
	require.NoError(t, err)

	_, err = c.SetExperiment(context.Background(), "x")
	require.NoError(t, err)
	auth := f.authHeaders()
	require.NotEmpty(t, auth)
	assert.True(t, strings.HasPrefix(auth[0], "Basic "))
}

func TestRESTClient_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error_code":"INVALID_PARAMETER_VALUE","message":"bad key"}`)
	}))
	defer srv.Close()

	c, err := NewRESTClient(srv.URL, Options{})
	require.NoError(t, err)

	err = c.LogParam(context.Background(), "r", "k", "v")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, CodeInvalidParameterValue, apiErr.Code)
	assert.Equal(t, "bad key", apiErr.Message)
	assert.False(t, IsNotFound(err))
}

func TestRESTClient_NonJSONError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	c, err := NewRESTClient(srv.URL, Options{})
	require.NoError(t, err)

	_, err = c.SetExperiment(context.Background(), "x")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "upstream down", apiErr.Message)
}

func TestRESTClient_UploadArtifact(t *testing.T) {
	f, srv := newFakeMLflow(t)
	c, err := NewRESTClient(srv.URL, Options{})
	require.NoError(t, err)

	local := filepath.Join(t.TempDir(), "ingested_data.csv")
	require.NoError(t, os.WriteFile(local, []byte("a,b\n1,2\n"), 0644))

	run := &RunInfo{RunID: "abc123", ArtifactURI: "mlflow-artifacts:/7/abc123/artifacts"}
	require.NoError(t, c.LogArtifact(context.Background(), run, local))

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, "a,b\n1,2\n", f.artifacts["7/abc123/artifacts/ingested_data.csv"])
}

func TestRESTClient_CopyArtifactToFileRoot(t *testing.T) {
	_, srv := newFakeMLflow(t)
	c, err := NewRESTClient(srv.URL, Options{})
	require.NoError(t, err)

	local := filepath.Join(t.TempDir(), "out.csv")
	require.NoError(t, os.WriteFile(local, []byte("x\n"), 0644))
	root := filepath.Join(t.TempDir(), "artifacts")

	run := &RunInfo{RunID: "r", ArtifactURI: fileURI(root)}
	require.NoError(t, c.LogArtifact(context.Background(), run, local))

	data, err := os.ReadFile(filepath.Join(root, "out.csv"))
	require.NoError(t, err)
	assert.Equal(t, "x\n", string(data))
}

func TestRESTClient_UnsupportedArtifactStore(t *testing.T) {
	_, srv := newFakeMLflow(t)
	c, err := NewRESTClient(srv.URL, Options{})
	require.NoError(t, err)

	run := &RunInfo{RunID: "r", ArtifactURI: "s3://bucket/path"}
	err = c.LogArtifact(context.Background(), run, "whatever.csv")
	assert.ErrorIs(t, err, ErrUnsupportedArtifactStore)
}

func TestRESTClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := NewRESTClient(url, Options{Timeout: time.Second})
	require.NoError(t, err)
	_, err = c.SetExperiment(context.Background(), "x")
	require.Error(t, err)
	assert.False(t, IsNotFound(err))
}
