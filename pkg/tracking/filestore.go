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
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

const (
	metaFile            = "meta.yaml"
	defaultExperimentID = "0"
	lifecycleActive     = "active"
	lifecycleDeleted    = "deleted"
)

// Numeric run states used in meta.yaml by MLflow file stores.
var fileRunStatus = map[RunStatus]int{
	RunStatusRunning:  1,
	RunStatusFinished: 3,
	RunStatusFailed:   4,
	RunStatusKilled:   5,
}

var validKey = regexp.MustCompile(`^[\w\-. /]+$`)

type experimentMeta struct {
	ArtifactLocation string `yaml:"artifact_location"`
	CreationTime     int64  `yaml:"creation_time"`
	ExperimentID     string `yaml:"experiment_id"`
	LastUpdateTime   int64  `yaml:"last_update_time"`
	LifecycleStage   string `yaml:"lifecycle_stage"`
	Name             string `yaml:"name"`
}

type runMeta struct {
	ArtifactURI    string   `yaml:"artifact_uri"`
	EndTime        *int64   `yaml:"end_time"`
	EntryPointName string   `yaml:"entry_point_name"`
	ExperimentID   string   `yaml:"experiment_id"`
	LifecycleStage string   `yaml:"lifecycle_stage"`
	RunID          string   `yaml:"run_id"`
	RunName        string   `yaml:"run_name"`
	RunUUID        string   `yaml:"run_uuid"`
	SourceName     string   `yaml:"source_name"`
	SourceType     int      `yaml:"source_type"`
	SourceVersion  string   `yaml:"source_version"`
	StartTime      int64    `yaml:"start_time"`
	Status         int      `yaml:"status"`
	Tags           []string `yaml:"tags"`
	UserID         string   `yaml:"user_id"`
}

// FileStore records runs in a local directory using the MLflow "mlruns"
// layout, so the MLflow UI can be pointed at it directly.
type FileStore struct {
	root   string
	logger *slog.Logger

	mu   sync.Mutex
	runs map[string]string // run id -> run directory
}

var _ Client = (*FileStore)(nil)

// NewFileStore opens (creating if needed) an mlruns directory at root.
func NewFileStore(root string, logger *slog.Logger) (*FileStore, error) {
	if root == "" {
		root = "mlruns"
	}
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve tracking root %s: %w", root, err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("create tracking root: %w", err)
	}

	s := &FileStore{root: abs, logger: logger, runs: make(map[string]string)}
	if _, err := os.Stat(filepath.Join(abs, defaultExperimentID, metaFile)); errors.Is(err, os.ErrNotExist) {
		if err := s.writeExperiment(defaultExperimentID, "Default"); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Root returns the absolute path of the store.
func (s *FileStore) Root() string { return s.root }

func (s *FileStore) SetExperiment(_ context.Context, name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	exps, err := s.experiments()
	if err != nil {
		return "", err
	}
	maxID := -1
	for _, exp := range exps {
		if exp.Name == name {
			if exp.LifecycleStage == lifecycleDeleted {
				return "", fmt.Errorf("%w: %s", ErrExperimentDeleted, name)
			}
			return exp.ExperimentID, nil
		}
		if n, err := strconv.Atoi(exp.ExperimentID); err == nil && n > maxID {
			maxID = n
		}
	}

	id := strconv.Itoa(maxID + 1)
	if err := s.writeExperiment(id, name); err != nil {
		return "", err
	}
	s.logger.Info("tracking.experiment.created", "name", name, "experiment_id", id)
	return id, nil
}

func (s *FileStore) CreateRun(_ context.Context, experimentID, runName string) (*RunInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expDir := filepath.Join(s.root, experimentID)
	if _, err := os.Stat(filepath.Join(expDir, metaFile)); err != nil {
		return nil, fmt.Errorf("experiment %s: %w", experimentID, err)
	}

	runID := strings.ReplaceAll(uuid.NewString(), "-", "")
	runDir := filepath.Join(expDir, runID)
	for _, sub := range []string{"artifacts", "metrics", "params", "tags"} {
		if err := os.MkdirAll(filepath.Join(runDir, sub), 0755); err != nil {
			return nil, fmt.Errorf("create run dir: %w", err)
		}
	}

	start := time.Now()
	user := currentUser()
	meta := runMeta{
		ArtifactURI:    fileURI(filepath.Join(runDir, "artifacts")),
		ExperimentID:   experimentID,
		LifecycleStage: lifecycleActive,
		RunID:          runID,
		RunName:        runName,
		RunUUID:        runID,
		SourceType:     4,
		StartTime:      nowMillis(start),
		Status:         fileRunStatus[RunStatusRunning],
		Tags:           []string{},
		UserID:         user,
	}
	if err := writeYAML(filepath.Join(runDir, metaFile), meta); err != nil {
		return nil, err
	}
	tags := map[string]string{
		"mlflow.runName":     runName,
		"mlflow.user":        user,
		"mlflow.source.name": SourceName,
		"mlflow.source.type": "LOCAL",
	}
	for k, v := range tags {
		if err := os.WriteFile(filepath.Join(runDir, "tags", k), []byte(v), 0644); err != nil {
			return nil, fmt.Errorf("write tag %s: %w", k, err)
		}
	}
	s.runs[runID] = runDir

	return &RunInfo{
		RunID:        runID,
		ExperimentID: experimentID,
		RunName:      runName,
		ArtifactURI:  meta.ArtifactURI,
		Status:       RunStatusRunning,
		StartTime:    time.UnixMilli(meta.StartTime),
	}, nil
}

// LogParam writes params/<key>. Parameters are immutable: logging a key
// again with a different value fails.
func (s *FileStore) LogParam(_ context.Context, runID, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logParam(runID, key, value)
}

func (s *FileStore) logParam(runID, key, value string) error {
	p, err := s.entryPath(runID, "params", key)
	if err != nil {
		return err
	}
	if old, err := os.ReadFile(p); err == nil {
		if string(old) == value {
			return nil
		}
		return &APIError{
			StatusCode: 400,
			Code:       CodeInvalidParameterValue,
			Message:    fmt.Sprintf("param %q already logged with value %q, got %q", key, old, value),
			Endpoint:   "runs/log-parameter",
		}
	}
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return err
	}
	return os.WriteFile(p, []byte(value), 0644)
}

func (s *FileStore) LogBatch(_ context.Context, runID string, params []Param, metrics []Metric) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range params {
		if err := s.logParam(runID, p.Key, p.Value); err != nil {
			return err
		}
	}
	for _, m := range metrics {
		if err := s.logMetric(runID, m); err != nil {
			return err
		}
	}
	return nil
}

// LogMetric appends "<timestamp> <value> <step>" to metrics/<key>.
func (s *FileStore) LogMetric(_ context.Context, runID string, m Metric) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logMetric(runID, m)
}

func (s *FileStore) logMetric(runID string, m Metric) error {
	p, err := s.entryPath(runID, "metrics", m.Key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(p, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	line := fmt.Sprintf("%d %s %d\n", m.Timestamp, strconv.FormatFloat(m.Value, 'g', -1, 64), m.Step)
	if _, err := f.WriteString(line); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func (s *FileStore) LogArtifact(_ context.Context, run *RunInfo, localPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := ""
	if run.ArtifactURI != "" {
		dir = strings.TrimPrefix(run.ArtifactURI, "file://")
		dir = filepath.FromSlash(dir)
	} else {
		runDir, err := s.runDir(run.RunID)
		if err != nil {
			return err
		}
		dir = filepath.Join(runDir, "artifacts")
	}
	return copyArtifact(dir, localPath)
}

func (s *FileStore) UpdateRun(_ context.Context, runID string, status RunStatus, end time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	runDir, err := s.runDir(runID)
	if err != nil {
		return err
	}
	p := filepath.Join(runDir, metaFile)
	var meta runMeta
	if err := readYAML(p, &meta); err != nil {
		return err
	}
	code, ok := fileRunStatus[status]
	if !ok {
		return fmt.Errorf("unknown run status %q", status)
	}
	endMs := nowMillis(end)
	meta.Status = code
	meta.EndTime = &endMs
	return writeYAML(p, meta)
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) writeExperiment(id, name string) error {
	dir := filepath.Join(s.root, id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create experiment dir: %w", err)
	}
	now := nowMillis(time.Now())
	return writeYAML(filepath.Join(dir, metaFile), experimentMeta{
		ArtifactLocation: fileURI(dir),
		CreationTime:     now,
		ExperimentID:     id,
		LastUpdateTime:   now,
		LifecycleStage:   lifecycleActive,
		Name:             name,
	})
}

func (s *FileStore) experiments() ([]experimentMeta, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("list experiments: %w", err)
	}
	var out []experimentMeta
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		var meta experimentMeta
		if err := readYAML(filepath.Join(s.root, e.Name(), metaFile), &meta); err != nil {
			s.logger.Warn("tracking.filestore.experiment.skipped", "dir", e.Name(), "err", err)
			continue
		}
		out = append(out, meta)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExperimentID < out[j].ExperimentID })
	return out, nil
}

// runDir finds the directory of a run, searching every experiment for runs
// created by another process.
func (s *FileStore) runDir(runID string) (string, error) {
	if dir, ok := s.runs[runID]; ok {
		return dir, nil
	}
	matches, err := filepath.Glob(filepath.Join(s.root, "*", runID, metaFile))
	if err != nil || len(matches) == 0 {
		return "", fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	dir := filepath.Dir(matches[0])
	s.runs[runID] = dir
	return dir, nil
}

func (s *FileStore) entryPath(runID, kind, key string) (string, error) {
	if !validKey.MatchString(key) || strings.Contains(key, "..") || strings.HasPrefix(key, "/") {
		return "", &APIError{
			StatusCode: 400,
			Code:       CodeInvalidParameterValue,
			Message:    fmt.Sprintf("invalid %s name %q", strings.TrimSuffix(kind, "s"), key),
			Endpoint:   "runs/log-" + strings.TrimSuffix(kind, "s"),
		}
	}
	runDir, err := s.runDir(runID)
	if err != nil {
		return "", err
	}
	return filepath.Join(runDir, kind, filepath.FromSlash(key)), nil
}

func fileURI(p string) string {
	p = filepath.ToSlash(p)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return "file://" + p
}

func readYAML(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func writeYAML(path string, v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
