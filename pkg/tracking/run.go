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
	"time"
)

// maxParamsPerBatch is the MLflow limit on parameters in one log-batch call.
const maxParamsPerBatch = 100

// Run is an open tracking run bound to the client that created it. Every
// Run returned by StartRun must be closed with End.
type Run struct {
	client Client
	info   RunInfo
	logger *slog.Logger
	now    func() time.Time
	ended  bool
}

// StartRun creates a run in the experiment and returns a handle to it.
func StartRun(ctx context.Context, client Client, experimentID, runName string, logger *slog.Logger) (*Run, error) {
	if logger == nil {
		logger = slog.Default()
	}
	info, err := client.CreateRun(ctx, experimentID, runName)
	if err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	logger.Info("tracking.run.created",
		"run_id", info.RunID,
		"experiment_id", info.ExperimentID,
		"run_name", info.RunName,
	)
	return &Run{client: client, info: *info, logger: logger, now: time.Now}, nil
}

// Info returns the run's identifiers and current status.
func (r *Run) Info() RunInfo { return r.info }

// ID returns the run id.
func (r *Run) ID() string { return r.info.RunID }

// ExperimentID returns the id of the experiment the run belongs to.
func (r *Run) ExperimentID() string { return r.info.ExperimentID }

// LogParam records one parameter.
func (r *Run) LogParam(ctx context.Context, key, value string) error {
	if err := r.client.LogParam(ctx, r.info.RunID, key, value); err != nil {
		return fmt.Errorf("log param %s: %w", key, err)
	}
	r.logger.Debug("tracking.param.logged", "run_id", r.info.RunID, "key", key)
	return nil
}

// LogParams records parameters in batches.
func (r *Run) LogParams(ctx context.Context, params []Param) error {
	for start := 0; start < len(params); start += maxParamsPerBatch {
		end := min(start+maxParamsPerBatch, len(params))
		if err := r.client.LogBatch(ctx, r.info.RunID, params[start:end], nil); err != nil {
			return fmt.Errorf("log params: %w", err)
		}
	}
	r.logger.Debug("tracking.params.logged", "run_id", r.info.RunID, "count", len(params))
	return nil
}

// LogMetric records a metric at step 0 with the current time.
func (r *Run) LogMetric(ctx context.Context, key string, value float64) error {
	m := Metric{Key: key, Value: value, Timestamp: nowMillis(r.now())}
	if err := r.client.LogMetric(ctx, r.info.RunID, m); err != nil {
		return fmt.Errorf("log metric %s: %w", key, err)
	}
	r.logger.Debug("tracking.metric.logged", "run_id", r.info.RunID, "key", key, "value", value)
	return nil
}

// LogArtifact uploads a local file to the run's artifact root.
func (r *Run) LogArtifact(ctx context.Context, localPath string) error {
	if err := r.client.LogArtifact(ctx, &r.info, localPath); err != nil {
		return fmt.Errorf("log artifact %s: %w", localPath, err)
	}
	r.logger.Info("tracking.artifact.logged", "run_id", r.info.RunID, "path", localPath)
	return nil
}

// End closes the run with the given status. Calling End again is a no-op.
func (r *Run) End(ctx context.Context, status RunStatus) error {
	if r.ended {
		return nil
	}
	r.ended = true
	end := r.now()
	if err := r.client.UpdateRun(ctx, r.info.RunID, status, end); err != nil {
		return fmt.Errorf("end run %s: %w", r.info.RunID, err)
	}
	r.info.Status = status
	r.info.EndTime = end
	r.logger.Info("tracking.run.ended", "run_id", r.info.RunID, "status", string(status))
	return nil
}
