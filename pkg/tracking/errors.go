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
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedTrackingURI is returned by Open for URI schemes no
	// backend handles.
	ErrUnsupportedTrackingURI = errors.New("unsupported tracking URI")

	// ErrUnsupportedArtifactStore is returned when a run's artifact root
	// uses a scheme the client cannot write to.
	ErrUnsupportedArtifactStore = errors.New("unsupported artifact store")

	// ErrRunNotFound is returned for operations on an unknown run id.
	ErrRunNotFound = errors.New("run not found")

	// ErrExperimentDeleted is returned by SetExperiment when the named
	// experiment exists but is deleted.
	ErrExperimentDeleted = errors.New("experiment is deleted")
)

// Error codes returned by the MLflow REST API.
const (
	CodeResourceDoesNotExist  = "RESOURCE_DOES_NOT_EXIST"
	CodeResourceAlreadyExists = "RESOURCE_ALREADY_EXISTS"
	CodeInvalidParameterValue = "INVALID_PARAMETER_VALUE"
)

// APIError is an error response from the tracking server.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Endpoint   string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("mlflow %s: %s (status %d): %s", e.Endpoint, e.Code, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("mlflow %s: status %d: %s", e.Endpoint, e.StatusCode, e.Message)
}

// IsNotFound reports whether err is an API error for a missing resource.
func IsNotFound(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == CodeResourceDoesNotExist || apiErr.StatusCode == 404
	}
	return false
}
