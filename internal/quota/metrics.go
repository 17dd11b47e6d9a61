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

package quota

import "github.com/prometheus/client_golang/prometheus"

var overQuotaCounter = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "nova_quota_over_quota_rejections",
		Help: "Counter for limit checks that were rejected because the given resource would exceed its quota.",
	},
	[]string{"resource"},
)

var driverInstantiationsCounter = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "nova_quota_driver_instantiations",
		Help: "Counter for instantiations of quota drivers. Increases when the configured driver changes.",
	},
	[]string{"driver"},
)

func init() {
	prometheus.MustRegister(overQuotaCounter)
	prometheus.MustRegister(driverInstantiationsCounter)
}
