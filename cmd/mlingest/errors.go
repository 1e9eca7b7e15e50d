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
	"context"
	"errors"
	"fmt"
	"io/fs"

	clierrors "github.com/kraklabs/mlingest/internal/errors"
	"github.com/kraklabs/mlingest/pkg/config"
	"github.com/kraklabs/mlingest/pkg/ingestion"
	"github.com/kraklabs/mlingest/pkg/tracking"
)

// exitInterrupted is the conventional status of a process stopped by SIGINT.
const exitInterrupted = 130

// userError maps a pipeline error to the message, fix and exit code shown
// to the user. It returns nil for a nil error.
func userError(err error, configPath string) *clierrors.UserError {
	if err == nil {
		return nil
	}

	var (
		loadErr    *config.LoadError
		missingErr *config.MissingKeyError
		outputErr  *ingestion.OutputError
		apiErr     *tracking.APIError
	)

	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return &clierrors.UserError{
			Message:  "Data ingestion interrupted",
			Cause:    err.Error(),
			ExitCode: exitInterrupted,
			Err:      err,
		}

	case errors.As(err, &loadErr):
		if errors.Is(err, fs.ErrNotExist) {
			return clierrors.NewConfigError(
				"Cannot load configuration",
				fmt.Sprintf("%s does not exist", loadErr.Path),
				fmt.Sprintf("Pass the file with --config or create %s", config.DefaultPath),
				err,
			)
		}
		return clierrors.NewConfigError(
			"Cannot load configuration",
			loadErr.Err.Error(),
			fmt.Sprintf("Fix the YAML document in %s", loadErr.Path),
			err,
		)

	case errors.As(err, &missingErr):
		return clierrors.NewConfigError(
			"Configuration is incomplete",
			missingErr.Error(),
			fmt.Sprintf("Add %s to %s", missingErr.Key, configPath),
			err,
		)

	case errors.Is(err, ingestion.ErrUnsupportedSource):
		return clierrors.NewUnsupportedError(
			"Unsupported data source",
			err.Error(),
			fmt.Sprintf("Set %s to %s", config.KeySourceType, ingestion.SourceLocalCSV),
			err,
		)

	case errors.Is(err, ingestion.ErrNotFound):
		return clierrors.NewNotFoundError(
			"Raw data not found",
			err.Error(),
			fmt.Sprintf("Check %s in %s", config.KeyRawDataPath, configPath),
			err,
		)

	case errors.Is(err, ingestion.ErrParse):
		return clierrors.NewParseError(
			"Could not parse the raw data",
			err.Error(),
			fmt.Sprintf("Check %s and %s in %s", config.KeySeparator, config.KeyEncoding, configPath),
			err,
		)

	case errors.Is(err, ingestion.ErrIngestion):
		return clierrors.NewInternalError(
			"Data ingestion failed",
			err.Error(),
			fmt.Sprintf("Check the data_ingestion section and %s in %s", config.KeyRawDataPath, configPath),
			err,
		)

	case errors.As(err, &outputErr):
		return clierrors.NewOutputError(
			"Cannot write processed data",
			err.Error(),
			fmt.Sprintf("Check that %s is writable", config.KeyProcessedDataPath),
			err,
		)

	case errors.Is(err, tracking.ErrUnsupportedTrackingURI):
		return clierrors.NewTrackingError(
			"Unsupported tracking URI",
			err.Error(),
			fmt.Sprintf("Set %s to an http(s):// URL, a file: URI or a local path", config.KeyMLflowServerURI),
			err,
		)

	case errors.As(err, &apiErr):
		return clierrors.NewTrackingError(
			"Tracking server rejected a request",
			err.Error(),
			"Check the server logs and the MLFLOW_TRACKING_* credentials",
			err,
		)

	case errors.Is(err, ingestion.ErrTracking):
		return clierrors.NewTrackingError(
			"Cannot use the tracking server",
			err.Error(),
			fmt.Sprintf("Start the MLflow server or fix %s", config.KeyMLflowServerURI),
			err,
		)

	default:
		return clierrors.NewInternalError(
			"Unexpected error",
			err.Error(),
			"This is a bug. Please report it with the output of --debug",
			err,
		)
	}
}
