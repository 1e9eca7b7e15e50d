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

package ingestion

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Run outcomes used as the "outcome" label of mlingest_runs_total.
const (
	OutcomeSuccess     = "success"
	OutcomeNoData      = "no_data"
	OutcomeConfigError = "config_error"
	OutcomeError       = "error"
)

// Registry holds the process metrics of the ingestion stage. The CLI writes
// it out with prometheus.WriteToTextfile.
var Registry = prometheus.NewRegistry()

// metricsIngestion holds Prometheus metrics for the ingestion stage.
type metricsIngestion struct {
	once sync.Once

	runs *prometheus.CounterVec

	// Dataset
	rows    prometheus.Counter
	columns prometheus.Counter
	missing prometheus.Counter

	// Durations
	readDuration   prometheus.Histogram
	recordDuration prometheus.Histogram
	totalDuration  prometheus.Histogram
}

var ingMetrics metricsIngestion

func (m *metricsIngestion) init() {
	m.once.Do(func() {
		m.runs = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "mlingest_runs_total", Help: "Ingestion runs by outcome"}, []string{"outcome"})

		m.rows = prometheus.NewCounter(prometheus.CounterOpts{Name: "mlingest_rows_ingested_total", Help: "Rows read from data sources"})
		m.columns = prometheus.NewCounter(prometheus.CounterOpts{Name: "mlingest_columns_ingested_total", Help: "Columns read from data sources"})
		m.missing = prometheus.NewCounter(prometheus.CounterOpts{Name: "mlingest_missing_cells_total", Help: "Missing cells found in ingested data"})

		buckets := []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}
		m.readDuration = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "mlingest_read_seconds", Help: "Time spent reading the data source", Buckets: buckets})
		m.recordDuration = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "mlingest_record_seconds", Help: "Time spent logging statistics and writing output", Buckets: buckets})
		m.totalDuration = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "mlingest_total_seconds", Help: "Duration of the whole run", Buckets: buckets})

		Registry.MustRegister(
			m.runs,
			m.rows, m.columns, m.missing,
			m.readDuration, m.recordDuration, m.totalDuration,
		)
	})
}

// record helpers - used by pipeline for metrics tracking
func recordOutcome(outcome string) { ingMetrics.init(); ingMetrics.runs.WithLabelValues(outcome).Inc() }

func recordDataset(rows, columns, missing int) {
	ingMetrics.init()
	ingMetrics.rows.Add(float64(rows))
	ingMetrics.columns.Add(float64(columns))
	ingMetrics.missing.Add(float64(missing))
}

func observeRead(d time.Duration)   { ingMetrics.init(); ingMetrics.readDuration.Observe(d.Seconds()) }
func observeRecord(d time.Duration) { ingMetrics.init(); ingMetrics.recordDuration.Observe(d.Seconds()) }
func observeTotal(d time.Duration)  { ingMetrics.init(); ingMetrics.totalDuration.Observe(d.Seconds()) }
