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

// Package testing provides test helpers for mlingest pipeline tests.
//
// # Quick Start
//
// Use SetupTestTracker to record tracking calls in memory, and the fixture
// writers to put a raw data file and a configuration document on disk:
//
//	func TestMyFeature(t *testing.T) {
//	    tracker := testing.SetupTestTracker(t)
//	    raw := testing.WriteCSV(t, "a,b\n1,2\n")
//	    cfgPath := testing.WriteConfig(t, testing.DefaultConfig(t, raw))
//
//	    p := ingestion.NewPipeline(ingestion.Options{Opener: tracker.Opener()})
//	    _, err := p.Run(ctx, cfgPath)
//	    require.NoError(t, err)
//
//	    run := testing.RequireSingleRun(t, tracker)
//	    v, _ := run.Metric("num_rows")
//	    require.Equal(t, 1.0, v)
//	}
//
// # Fixtures
//
//   - WriteFile: write any file under a directory
//   - WriteCSV: write a raw data file into a temp dir
//   - DefaultConfig: a complete local_csv configuration
//   - WriteConfig: write a configuration document into a temp dir
package testing
