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
	"errors"

	"github.com/sapcc/go-bits/logg"

	"github.com/sapcc/nova-quota/internal/core"
)

// UnifiedLimitsDriver is a core.Driver that reads limits from the unified
// limits service. Limits are only enforced on the project level, so user
// quotas are identical to project quotas. Checks are not enforced by this
// driver.
type UnifiedLimitsDriver struct {
	NoopDriver
	Limits core.UnifiedLimits
}

func init() {
	core.DriverRegistry.Add("unified_limits", func(deps core.DriverDependencies) (core.Driver, error) {
		if deps.Limits == nil {
			return nil, errors.New("the unified_limits quota driver requires a unified limits client")
		}
		return NewUnifiedLimitsDriver(deps.Limits), nil
	})
}

// NewUnifiedLimitsDriver builds a UnifiedLimitsDriver.
func NewUnifiedLimitsDriver(limits core.UnifiedLimits) *UnifiedLimitsDriver {
	logg.Other("WARNING", "the unified limits quota driver is experimental and under active development, do not use this driver")
	return &UnifiedLimitsDriver{Limits: limits}
}

// GetReserved implements the core.Driver interface.
func (d *UnifiedLimitsDriver) GetReserved() int64 {
	return 0
}

// GetDefaults implements the core.Driver interface. Resources without a
// registered limit are unlimited.
func (d *UnifiedLimitsDriver) GetDefaults(ctx context.Context, resources core.ResourceSet) (map[string]int64, error) {
	defaults, err := d.Limits.GetLegacyDefaultLimits(ctx)
	if err != nil {
		return nil, err
	}
	result := make(map[string]int64, len(resources))
	for name := range resources {
		result[name] = limitOrUnlimited(defaults, name)
	}
	return result, nil
}

// GetClassQuotas implements the core.Driver interface. Quota classes do not
// exist in unified limits, so the defaults are returned.
func (d *UnifiedLimitsDriver) GetClassQuotas(ctx context.Context, resources core.ResourceSet, _ string) (map[string]int64, error) {
	return d.GetDefaults(ctx, resources)
}

// GetProjectQuotas implements the core.Driver interface.
func (d *UnifiedLimitsDriver) GetProjectQuotas(ctx context.Context, resources core.ResourceSet, projectID string, opts core.QuotaOptions) (core.QuotaSet, error) {
	if opts.QuotaClass != "" {
		return nil, &core.NotImplementedError{Feature: "quota_class"}
	}
	if opts.Remains {
		return nil, &core.NotImplementedError{Feature: "remains"}
	}

	defaults, err := d.Limits.GetLegacyDefaultLimits(ctx)
	if err != nil {
		return nil, err
	}
	projectLimits, err := d.Limits.GetLegacyProjectLimits(ctx, projectID)
	if err != nil {
		return nil, err
	}
	var inUse map[string]int64
	if opts.Usages {
		inUse, err = d.Limits.GetInUse(ctx, projectID)
		if err != nil {
			return nil, err
		}
	}

	result := make(core.QuotaSet, len(resources))
	for name := range resources {
		limit, exists := projectLimits[name]
		if !exists {
			limit = limitOrUnlimited(defaults, name)
		}
		value := core.QuotaValue{Limit: limit}
		if opts.Usages {
			//deprecated resources are reported as unused
			value = value.WithInUse(inUse[name])
		}
		result[name] = value
	}
	return result, nil
}

// GetUserQuotas implements the core.Driver interface.
func (d *UnifiedLimitsDriver) GetUserQuotas(ctx context.Context, resources core.ResourceSet, projectID, _ string, opts core.QuotaOptions) (core.QuotaSet, error) {
	return d.GetProjectQuotas(ctx, resources, projectID, opts)
}

func limitOrUnlimited(limits map[string]int64, name string) int64 {
	limit, exists := limits[name]
	if !exists {
		return core.Unlimited
	}
	return limit
}
