/******************************************************************************
*
*  Copyright 2024 SAP SE
*
*  Licensed under the Apache License, Version 2.0 (the "License");
*  you may not use this file except in compliance with the License.
*  You may obtain a copy of the License at
*
*      http://www.apache.org/licenses/LICENSE-2.0
*
*  Unless required by applicable law or agreed to in writing, software
*  distributed under the License is distributed on an "AS IS" BASIS,
*  WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
*  See the License for the specific language governing permissions and
*  limitations under the License.
*
******************************************************************************/

package counting

import (
	"github.com/prometheus/client_golang/prometheus"
)

var legacyFallbackCounter = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "nova_quota_legacy_counting_fallbacks",
		Help: "Counter for usage counts that fell back to scanning the cell databases because the instance mappings are not fully migrated.",
	},
	[]string{"resource"},
)

var cellFailuresCounter = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "nova_quota_cell_failures",
		Help: "Counter for cells that failed or timed out during usage counting. Usage in these cells was not counted.",
	},
)

func init() {
	prometheus.MustRegister(legacyFallbackCounter)
	prometheus.MustRegister(cellFailuresCounter)
}

////////////////////////////////////////////////////////////////////////////////
// migration gate metrics

var migrationCompleteDesc = prometheus.NewDesc(
	"nova_quota_instance_mappings_migrated",
	"Whether user_id and queued_for_delete are known to be populated for the instance mappings of all projects (1) or not (0).",
	nil, nil,
)

var migratedProjectsDesc = prometheus.NewDesc(
	"nova_quota_instance_mappings_migrated_projects",
	"Number of projects whose instance mappings are known to be fully populated.",
	nil, nil,
)

// GateMetricsCollector is a prometheus.Collector that reports the state of a
// MigrationGate.
type GateMetricsCollector struct {
	Gate *MigrationGate
}

// Describe implements the prometheus.Collector interface.
func (c GateMetricsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- migrationCompleteDesc
	ch <- migratedProjectsDesc
}

// Collect implements the prometheus.Collector interface.
func (c GateMetricsCollector) Collect(ch chan<- prometheus.Metric) {
	complete := 0.0
	if c.Gate.all.Load() {
		complete = 1
	}
	ch <- prometheus.MustNewConstMetric(migrationCompleteDesc, prometheus.GaugeValue, complete)
	ch <- prometheus.MustNewConstMetric(migratedProjectsDesc, prometheus.GaugeValue, float64(c.Gate.cachedProjectCount()))
}
