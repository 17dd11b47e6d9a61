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

package drivers

import (
	"context"
	"fmt"

	"github.com/mohae/deepcopy"

	"github.com/sapcc/nova-quota/internal/core"
)

// defaultScope fills an empty project ID or user ID from the request context.
func defaultScope(ctx context.Context, projectID, userID string) (string, string) {
	rc := core.RequestContextFrom(ctx)
	if projectID == "" {
		projectID = rc.ProjectID
	}
	if userID == "" {
		userID = rc.UserID
	}
	return projectID, userID
}

// exceeds returns whether the value is over the limit. Negative limits are
// unlimited.
func exceeds(limit, value int64) bool {
	return limit >= 0 && limit < value
}

// limitsForCheck loads the project-level and user-level limits for the given
// resources, as well as the raw project overrides.
func (d *DatabaseDriver) limitsForCheck(ctx context.Context, resources core.ResourceSet, keys []string, projectID, userID string) (quotas, userQuotas, projectOverrides map[string]int64, err error) {
	projectOverrides, err = d.Store.GetProjectQuotas(ctx, projectID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("cannot load quotas for project %s: %w", projectID, err)
	}
	quotas, err = d.getLimits(ctx, resources, keys, projectID, "", projectOverrides)
	if err != nil {
		return nil, nil, nil, err
	}
	userQuotas, err = d.getLimits(ctx, resources, keys, projectID, userID, projectOverrides)
	if err != nil {
		return nil, nil, nil, err
	}
	return quotas, userQuotas, projectOverrides, nil
}

// LimitCheck implements the core.Driver interface.
func (d *DatabaseDriver) LimitCheck(ctx context.Context, resources core.ResourceSet, values map[string]int64, projectID, userID string) error {
	err := validateCheckMethod(values, resources)
	if err != nil {
		return err
	}
	err = validateNonNegative(values)
	if err != nil {
		return err
	}
	projectID, userID = defaultScope(ctx, projectID, userID)

	keys := sortedKeys(values)
	quotas, userQuotas, projectOverrides, err := d.limitsForCheck(ctx, resources, keys, projectID, userID)
	if err != nil {
		return err
	}

	var overs []string
	for _, name := range keys {
		if exceeds(quotas[name], values[name]) || exceeds(userQuotas[name], values[name]) {
			overs = append(overs, name)
		}
	}
	if len(overs) == 0 {
		return nil
	}

	headroom := make(map[string]int64, len(overs))
	for _, name := range overs {
		headroom[name] = quotas[name]
		if override, exists := projectOverrides[name]; exists && override < headroom[name] {
			headroom[name] = override
		}
	}
	return &core.OverQuotaError{
		Overs:    overs,
		Quotas:   quotas,
		Usages:   map[string]int64{},
		Headroom: headroom,
	}
}

// LimitCheckProjectAndUser implements the core.Driver interface.
//
// Resources that appear in both projectValues and userValues are counted per
// project and per user, so each value is checked against its own limit.
// Resources that appear in only one of both maps must pass the project limit
// and the user limit, so they are checked against the lower of both.
func (d *DatabaseDriver) LimitCheckProjectAndUser(ctx context.Context, resources core.ResourceSet, projectValues, userValues map[string]int64, projectID, userID string) error {
	err := validateCheckMethod(projectValues, resources)
	if err != nil {
		return err
	}
	err = validateCheckMethod(userValues, resources)
	if err != nil {
		return err
	}
	if len(projectValues) == 0 && len(userValues) == 0 {
		return core.ErrMissingValues
	}
	for _, values := range []map[string]int64{projectValues, userValues} {
		err = validateNonNegative(values)
		if err != nil {
			return err
		}
	}

	//split into values checked separately and values checked together
	var (
		allKeys      []string
		sharedKeys   []string
		mergedValues = make(map[string]int64)
	)
	for _, name := range sortedKeys(projectValues) {
		allKeys = append(allKeys, name)
		if _, exists := userValues[name]; exists {
			sharedKeys = append(sharedKeys, name)
		} else {
			mergedValues[name] = projectValues[name]
		}
	}
	for _, name := range sortedKeys(userValues) {
		if _, exists := projectValues[name]; !exists {
			allKeys = append(allKeys, name)
			mergedValues[name] = userValues[name]
		}
	}

	projectID, userID = defaultScope(ctx, projectID, userID)
	quotas, userQuotas, _, err := d.limitsForCheck(ctx, resources, allKeys, projectID, userID)
	if err != nil {
		return err
	}

	if len(mergedValues) > 0 {
		mergedQuotas := deepcopy.Copy(quotas).(map[string]int64)
		for name, limit := range userQuotas {
			if current, exists := mergedQuotas[name]; !exists || limit < current {
				mergedQuotas[name] = limit
			}
		}

		var overs []string
		for _, name := range sortedKeys(mergedValues) {
			if exceeds(mergedQuotas[name], mergedValues[name]) {
				overs = append(overs, name)
			}
		}
		if len(overs) > 0 {
			headroom := make(map[string]int64, len(overs))
			for _, name := range overs {
				headroom[name] = mergedQuotas[name]
			}
			return &core.OverQuotaError{
				Overs:    overs,
				Quotas:   mergedQuotas,
				Usages:   map[string]int64{},
				Headroom: headroom,
			}
		}
	}

	var (
		overs         []string
		overUserQuota bool
	)
	for _, name := range sharedKeys {
		if exceeds(quotas[name], projectValues[name]) {
			overs = append(overs, name)
		} else if exceeds(userQuotas[name], userValues[name]) {
			overs = append(overs, name)
			overUserQuota = true
		}
	}
	if len(overs) == 0 {
		return nil
	}

	exceededQuotas := quotas
	if overUserQuota {
		exceededQuotas = userQuotas
	}
	headroom := make(map[string]int64, len(overs))
	for _, name := range overs {
		headroom[name] = exceededQuotas[name]
	}
	return &core.OverQuotaError{
		Overs:    overs,
		Quotas:   exceededQuotas,
		Usages:   map[string]int64{},
		Headroom: headroom,
	}
}
