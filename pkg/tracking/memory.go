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
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// RecordedRun is the state of a run kept by MemoryStore.
type RecordedRun struct {
	Info      RunInfo
	Params    []Param
	Metrics   []Metric
	Artifacts []string
}

// Param returns the value of the named parameter.
func (r *RecordedRun) Param(key string) (string, bool) {
	for _, p := range r.Params {
		if p.Key == key {
			return p.Value, true
		}
	}
	return "", false
}

// Metric returns the last value logged for the named metric.
func (r *RecordedRun) Metric(key string) (float64, bool) {
	for i := len(r.Metrics) - 1; i >= 0; i-- {
		if r.Metrics[i].Key == key {
			return r.Metrics[i].Value, true
		}
	}
	return 0, false
}

// MemoryStore is an in-process Client. It backs dry runs and tests.
type MemoryStore struct {
	mu          sync.Mutex
	experiments map[string]string // name -> id
	runs        map[string]*RecordedRun
	order       []string
	closed      bool
}

var _ Client = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		experiments: map[string]string{"Default": defaultExperimentID},
		runs:        make(map[string]*RecordedRun),
	}
}

func (m *MemoryStore) SetExperiment(_ context.Context, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.experiments[name]; ok {
		return id, nil
	}
	id := strconv.Itoa(len(m.experiments))
	m.experiments[name] = id
	return id, nil
}

func (m *MemoryStore) CreateRun(_ context.Context, experimentID, runName string) (*RunInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.NewString()
	info := RunInfo{
		RunID:        id,
		ExperimentID: experimentID,
		RunName:      runName,
		ArtifactURI:  "memory:/" + experimentID + "/" + id + "/artifacts",
		Status:       RunStatusRunning,
		StartTime:    time.Now(),
	}
	m.runs[id] = &RecordedRun{Info: info}
	m.order = append(m.order, id)
	out := info
	return &out, nil
}

func (m *MemoryStore) LogParam(_ context.Context, runID, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, err := m.run(runID)
	if err != nil {
		return err
	}
	r.Params = append(r.Params, Param{Key: key, Value: value})
	return nil
}

func (m *MemoryStore) LogBatch(_ context.Context, runID string, params []Param, metrics []Metric) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, err := m.run(runID)
	if err != nil {
		return err
	}
	r.Params = append(r.Params, params...)
	r.Metrics = append(r.Metrics, metrics...)
	return nil
}

func (m *MemoryStore) LogMetric(_ context.Context, runID string, metric Metric) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, err := m.run(runID)
	if err != nil {
		return err
	}
	r.Metrics = append(r.Metrics, metric)
	return nil
}

// LogArtifact records the artifact's file name after checking the file
// exists. The content is not kept.
func (m *MemoryStore) LogArtifact(_ context.Context, run *RunInfo, localPath string) error {
	if _, err := os.Stat(localPath); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, err := m.run(run.RunID)
	if err != nil {
		return err
	}
	r.Artifacts = append(r.Artifacts, filepath.Base(localPath))
	return nil
}

func (m *MemoryStore) UpdateRun(_ context.Context, runID string, status RunStatus, end time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, err := m.run(runID)
	if err != nil {
		return err
	}
	r.Info.Status = status
	r.Info.EndTime = end
	return nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// Closed reports whether Close was called.
func (m *MemoryStore) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Run returns a copy of the recorded run.
func (m *MemoryStore) Run(runID string) (RecordedRun, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[runID]
	if !ok {
		return RecordedRun{}, false
	}
	return copyRun(r), true
}

// Runs returns copies of all recorded runs in creation order.
func (m *MemoryStore) Runs() []RecordedRun {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]RecordedRun, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, copyRun(m.runs[id]))
	}
	return out
}

// ExperimentID returns the id assigned to the named experiment.
func (m *MemoryStore) ExperimentID(name string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.experiments[name]
	return id, ok
}

func (m *MemoryStore) run(runID string) (*RecordedRun, error) {
	r, ok := m.runs[runID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return r, nil
}

func copyRun(r *RecordedRun) RecordedRun {
	return RecordedRun{
		Info:      r.Info,
		Params:    append([]Param(nil), r.Params...),
		Metrics:   append([]Metric(nil), r.Metrics...),
		Artifacts: append([]string(nil), r.Artifacts...),
	}
}
