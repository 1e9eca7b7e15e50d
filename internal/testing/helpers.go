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

package testing

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/kraklabs/mlingest/pkg/tracking"
)

// Tracker is an in-memory tracking backend together with an Opener that
// always returns it.
type Tracker struct {
	Store *tracking.MemoryStore

	mu   sync.Mutex
	uris []string
}

// Opener returns a tracking.Opener handing out the tracker's store and
// remembering every URI it was asked for.
func (tr *Tracker) Opener() tracking.Opener {
	return func(uri string) (tracking.Client, error) {
		tr.mu.Lock()
		tr.uris = append(tr.uris, uri)
		tr.mu.Unlock()
		return tr.Store, nil
	}
}

// URIs returns the tracking URIs the opener was called with.
func (tr *Tracker) URIs() []string {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return append([]string(nil), tr.uris...)
}

// SetupTestTracker creates an in-memory tracking backend for a test.
//
// Example:
//
//	func TestMyFeature(t *testing.T) {
//	    tracker := testing.SetupTestTracker(t)
//	    p := ingestion.NewPipeline(ingestion.Options{Opener: tracker.Opener()})
//
//	    // Run, then inspect what was logged
//	    run := testing.RequireSingleRun(t, tracker)
//	}
func SetupTestTracker(t *testing.T) *Tracker {
	t.Helper()
	return &Tracker{Store: tracking.NewMemoryStore()}
}

// RequireSingleRun fails the test unless exactly one run was recorded, and
// returns it.
func RequireSingleRun(t *testing.T, tr *Tracker) tracking.RecordedRun {
	t.Helper()
	runs := tr.Store.Runs()
	if len(runs) != 1 {
		t.Fatalf("expected 1 tracking run, got %d", len(runs))
	}
	return runs[0]
}

// WriteFile writes content to name inside dir and returns the full path.
// Parent directories are created as needed.
func WriteFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("failed to create dir for %s: %v", name, err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

// WriteCSV writes a raw data file into a fresh temp dir and returns its path.
func WriteCSV(t *testing.T, content string) string {
	t.Helper()
	return WriteFile(t, t.TempDir(), "raw.csv", content)
}

// IngestionSection is the data_ingestion section of a ConfigFixture.
type IngestionSection struct {
	SourceType string `yaml:"source_type,omitempty"`
	Separator  string `yaml:"separator,omitempty"`
	Encoding   string `yaml:"encoding,omitempty"`
}

// ConfigFixture describes a configuration document. Empty fields are left
// out of the written file.
type ConfigFixture struct {
	DataIngestion     IngestionSection `yaml:"data_ingestion"`
	RawDataPath       string           `yaml:"raw_data_path,omitempty"`
	ProcessedDataPath string           `yaml:"processed_data_path,omitempty"`
	MLflowServerURI   string           `yaml:"mlflow_server_uri,omitempty"`
	ExperimentName    string           `yaml:"experiment_name,omitempty"`
}

// DefaultConfig returns a complete local_csv fixture reading rawPath and
// writing under a fresh temp dir, tracked at memory:.
func DefaultConfig(t *testing.T, rawPath string) ConfigFixture {
	t.Helper()
	return ConfigFixture{
		DataIngestion: IngestionSection{
			SourceType: "local_csv",
			Separator:  ",",
			Encoding:   "utf-8",
		},
		RawDataPath:       rawPath,
		ProcessedDataPath: filepath.Join(t.TempDir(), "processed"),
		MLflowServerURI:   "memory:",
		ExperimentName:    "test-ingestion",
	}
}

// WriteConfig writes the fixture as YAML into a fresh temp dir and returns
// the file path.
func WriteConfig(t *testing.T, cfg ConfigFixture) string {
	t.Helper()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		t.Fatalf("failed to marshal config: %v", err)
	}
	return WriteFile(t, t.TempDir(), "main_config.yaml", string(data))
}
