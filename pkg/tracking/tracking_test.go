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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		uri     string
		want    any
		wantErr error
	}{
		{name: "http", uri: "http://localhost:5000", want: &RESTClient{}},
		{name: "https", uri: "https://mlflow.example.com", want: &RESTClient{}},
		{name: "plain path", uri: filepath.Join(dir, "a"), want: &FileStore{}},
		{name: "file uri", uri: "file://" + filepath.ToSlash(filepath.Join(dir, "b")), want: &FileStore{}},
		{name: "memory", uri: "memory:", want: &MemoryStore{}},
		{name: "databricks", uri: "databricks://profile", wantErr: ErrUnsupportedTrackingURI},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := Open(tt.uri, Options{})
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tt.want, c)
			assert.NoError(t, c.Close())
		})
	}
}

func TestOpen_FileURICreatesRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "mlruns")
	c, err := Open("file://"+filepath.ToSlash(root), Options{})
	require.NoError(t, err)
	defer c.Close()

	_, err = os.Stat(filepath.Join(root, "0", "meta.yaml"))
	assert.NoError(t, err)
}

func TestOptionsFromEnv(t *testing.T) {
	t.Setenv("MLFLOW_TRACKING_TOKEN", "tok")
	t.Setenv("MLFLOW_TRACKING_USERNAME", "user")
	t.Setenv("MLFLOW_TRACKING_PASSWORD", "pass")

	opts := OptionsFromEnv()
	assert.Equal(t, "tok", opts.Token)
	assert.Equal(t, "user", opts.Username)
	assert.Equal(t, "pass", opts.Password)
}

func TestRun_Lifecycle(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	expID, err := store.SetExperiment(ctx, "ingest")
	require.NoError(t, err)
	run, err := StartRun(ctx, store, expID, "Data Ingestion Run", nil)
	require.NoError(t, err)
	assert.Equal(t, expID, run.ExperimentID())
	assert.NotEmpty(t, run.ID())

	require.NoError(t, run.LogParam(ctx, "source_type", "local_csv"))
	require.NoError(t, run.LogMetric(ctx, "num_rows", 3))

	local := filepath.Join(t.TempDir(), "ingested_data.csv")
	require.NoError(t, os.WriteFile(local, []byte("a\n"), 0644))
	require.NoError(t, run.LogArtifact(ctx, local))

	require.NoError(t, run.End(ctx, RunStatusFinished))
	// Second End is ignored.
	require.NoError(t, run.End(ctx, RunStatusFailed))
	assert.Equal(t, RunStatusFinished, run.Info().Status)

	rec, ok := store.Run(run.ID())
	require.True(t, ok)
	assert.Equal(t, RunStatusFinished, rec.Info.Status)
	assert.Equal(t, []string{"ingested_data.csv"}, rec.Artifacts)

	v, ok := rec.Param("source_type")
	assert.True(t, ok)
	assert.Equal(t, "local_csv", v)

	m, ok := rec.Metric("num_rows")
	assert.True(t, ok)
	assert.Equal(t, 3.0, m)
	assert.Zero(t, rec.Metrics[0].Step)
	assert.NotZero(t, rec.Metrics[0].Timestamp)
}

func TestRun_LogParamsBatches(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	run, err := StartRun(ctx, store, "0", "r", nil)
	require.NoError(t, err)

	params := make([]Param, 250)
	for i := range params {
		params[i] = Param{Key: "k" + string(rune('a'+i%26)) + string(rune('0'+i/26)), Value: "v"}
	}
	require.NoError(t, run.LogParams(ctx, params))

	rec, _ := store.Run(run.ID())
	assert.Len(t, rec.Params, 250)
	assert.Equal(t, params[0], rec.Params[0])
	assert.Equal(t, params[249], rec.Params[249])
}

func TestMemoryStore_Experiments(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	id, err := store.SetExperiment(ctx, "Default")
	require.NoError(t, err)
	assert.Equal(t, "0", id)

	a, err := store.SetExperiment(ctx, "a")
	require.NoError(t, err)
	b, err := store.SetExperiment(ctx, "b")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	got, ok := store.ExperimentID("a")
	assert.True(t, ok)
	assert.Equal(t, a, got)
}

func TestMemoryStore_UnknownRun(t *testing.T) {
	store := NewMemoryStore()
	err := store.LogParam(context.Background(), "missing", "k", "v")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestMemoryStore_ArtifactMustExist(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	info, err := store.CreateRun(ctx, "0", "r")
	require.NoError(t, err)

	err = store.LogArtifact(ctx, info, filepath.Join(t.TempDir(), "absent.csv"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
