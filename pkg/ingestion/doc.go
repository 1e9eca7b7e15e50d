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

// Package ingestion provides the data ingestion stage of the ML pipeline.
//
// The stage reads a raw tabular dataset named by the configuration file,
// records descriptive statistics about it in an experiment tracking run, and
// writes a processed copy that is attached to the run as an artifact.
//
// # Pipeline Overview
//
// One run of the stage goes through five steps:
//
//  1. Configuration: load the YAML document (see package config)
//  2. Tracking: select the experiment and open a run named "Data Ingestion Run"
//  3. Parameters: log the data_ingestion section, the data paths, the
//     tracking URI, the run and experiment ids and a timestamp
//  4. Reading: read the source named by data_ingestion.source_type
//  5. Recording: log row, column, type, missing and distinct counts as
//     metrics, write ingested_data.csv and log it as an artifact
//
// The run is always ended, with status FINISHED, FAILED or KILLED.
//
// # Sources
//
// Only local_csv is readable. It honours data_ingestion.separator (one
// character, default ",") and data_ingestion.encoding (default "utf-8").
// The database and api source types are recognized but fail with
// ErrUnsupportedSource, as does any unknown type.
//
// A missing file, malformed content or any other read error is a soft
// failure: Pipeline.Run reports "Data ingestion failed.", ends the run and
// returns a Result with Ingested false and a nil error. IsSoftFailure tells
// those errors apart from propagating ones.
//
// # Quick Start
//
//	pipeline := ingestion.NewPipeline(ingestion.Options{Logger: logger})
//
//	result, err := pipeline.Run(ctx, "configs/main_config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if !result.Ingested {
//	    log.Printf("no data: %v", result.Err)
//	}
//
// # Metrics
//
// Run outcomes, ingested row/column/missing counts and step durations are
// exported through Registry in Prometheus format.
package ingestion
