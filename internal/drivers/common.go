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

// Package drivers contains the implementations of core.Driver. Each driver
// registers itself in core.DriverRegistry when this package is imported.
package drivers

import (
	"sort"

	"github.com/sapcc/nova-quota/internal/core"
)

// validateCheckMethod ensures that all resources in `values` exist and
// support the "check" method.
func validateCheckMethod(values map[string]int64, resources core.ResourceSet) error {
	for _, name := range sortedKeys(values) {
		res, exists := resources[name]
		if !exists || res.Method != core.MethodCheck {
			return &core.InvalidMethodUsageError{Method: core.MethodCheck, Resource: name}
		}
	}
	return nil
}

// validateNonNegative returns an InvalidValueError for negative values.
func validateNonNegative(values map[string]int64) error {
	var unders []string
	for _, name := range sortedKeys(values) {
		if values[name] < 0 {
			unders = append(unders, name)
		}
	}
	if len(unders) > 0 {
		return &core.InvalidValueError{Unders: unders}
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// allUnlimited reports every resource as unlimited.
func allUnlimited(resources core.ResourceSet) map[string]int64 {
	result := make(map[string]int64, len(resources))
	for name := range resources {
		result[name] = core.Unlimited
	}
	return result
}

// unrestrictedSettableRanges is the settable range of drivers that do not
// enforce quotas.
func unrestrictedSettableRanges(resources core.ResourceSet) map[string]core.SettableRange {
	result := make(map[string]core.SettableRange, len(resources))
	for name := range resources {
		result[name] = core.SettableRange{Minimum: 0, Maximum: core.Unlimited}
	}
	return result
}
