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
	"fmt"

	"github.com/sapcc/go-bits/logg"

	"github.com/sapcc/nova-quota/internal/core"
)

// DatabaseDriver is the default core.Driver. Limits are stored as overrides
// in the API database and fall back to quota classes and configured defaults.
type DatabaseDriver struct {
	Config *core.LiveConfiguration
	Store  core.QuotaStore
}

func init() {
	core.DriverRegistry.Add("db", func(deps core.DriverDependencies) (core.Driver, error) {
		if deps.Config == nil || deps.Quotas == nil {
			return nil, errors.New("the db quota driver requires a configuration and a quota store")
		}
		return &DatabaseDriver{Config: deps.Config, Store: deps.Quotas}, nil
	})
}

// GetReserved implements the core.Driver interface. Nothing is ever reserved.
func (d *DatabaseDriver) GetReserved() int64 {
	return 0
}

// GetDefaults implements the core.Driver interface. Limits in the quota class
// "default" take precedence over the configured defaults.
func (d *DatabaseDriver) GetDefaults(ctx context.Context, resources core.ResourceSet) (map[string]int64, error) {
	return d.GetClassQuotas(ctx, resources, core.DefaultQuotaClass)
}

// GetClassQuotas implements the core.Driver interface.
func (d *DatabaseDriver) GetClassQuotas(ctx context.Context, resources core.ResourceSet, quotaClass string) (map[string]int64, error) {
	classQuotas, err := d.Store.GetClassQuotas(ctx, quotaClass)
	if err != nil {
		return nil, fmt.Errorf("cannot load quota class %q: %w", quotaClass, err)
	}
	defaults := d.Config.Get().Quota.Defaults

	result := make(map[string]int64, len(resources))
	for name, res := range resources {
		limit, exists := classQuotas[name]
		if !exists {
			limit = res.Default(defaults)
		}
		result[name] = limit
	}
	return result, nil
}

// processQuotas fills in the limits for each resource: overrides take
// precedence over the quota class, which takes precedence over the defaults.
// If `usages` is not nil, InUse is filled. If `remains` is set, Remains is
// filled with the limit minus the sum of all per-user overrides in the
// project.
func (d *DatabaseDriver) processQuotas(ctx context.Context, resources core.ResourceSet, projectID string, overrides map[string]int64, quotaClass string, usages map[string]int64, remains bool) (core.QuotaSet, error) {
	rc := core.RequestContextFrom(ctx)
	if projectID == rc.ProjectID {
		quotaClass = rc.QuotaClass
	}
	classQuotas := map[string]int64{}
	if quotaClass != "" {
		var err error
		classQuotas, err = d.Store.GetClassQuotas(ctx, quotaClass)
		if err != nil {
			return nil, fmt.Errorf("cannot load quota class %q: %w", quotaClass, err)
		}
	}
	defaults, err := d.GetDefaults(ctx, resources)
	if err != nil {
		return nil, err
	}

	result := make(core.QuotaSet, len(resources))
	for name := range resources {
		limit, exists := overrides[name]
		if !exists {
			limit, exists = classQuotas[name]
		}
		if !exists {
			limit = defaults[name]
		}

		value := core.QuotaValue{Limit: limit}
		if usages != nil {
			value = value.WithInUse(usages[name])
		}
		if remains {
			value = value.WithRemains(limit)
		}
		result[name] = value
	}

	if remains {
		userQuotas, err := d.Store.ListUserQuotas(ctx, projectID)
		if err != nil {
			return nil, fmt.Errorf("cannot list user quotas in project %s: %w", projectID, err)
		}
		for _, uq := range userQuotas {
			value, exists := result[uq.Resource]
			if exists {
				result[uq.Resource] = value.WithRemains(core.SubQuotaValues(*value.Remains, uq.HardLimit))
			}
		}
	}
	return result, nil
}

// getUsages counts the usage of all countable resources. Resources that share
// a counter (instances, cores, ram) are only counted once.
func (d *DatabaseDriver) getUsages(ctx context.Context, resources core.ResourceSet, projectID, userID string) (map[string]int64, error) {
	usages := make(map[string]int64)
	for _, name := range resources.Names() {
		res := resources[name]
		if !res.IsCountable() {
			continue
		}
		if _, counted := usages[name]; counted {
			continue
		}
		//these per-user resources are not relevant for validating quota
		//updates, so they are always reported as zero
		if name == core.ResourceKeyPairs || name == core.ResourceServerGroupMembers {
			usages[name] = 0
			continue
		}

		count, err := res.Count(ctx, core.CountRequest{ProjectID: projectID, UserID: userID})
		if err != nil {
			return nil, fmt.Errorf("cannot count usage of %s: %w", name, err)
		}
		for counted, value := range count.Scope(userID != "") {
			usages[counted] = value
		}
	}
	return usages, nil
}

func (d *DatabaseDriver) getProjectQuotas(ctx context.Context, resources core.ResourceSet, projectID string, overrides map[string]int64, opts core.QuotaOptions) (core.QuotaSet, error) {
	var usages map[string]int64
	if opts.Usages {
		var err error
		usages, err = d.getUsages(ctx, resources, projectID, "")
		if err != nil {
			return nil, err
		}
	}
	return d.processQuotas(ctx, resources, projectID, overrides, opts.QuotaClass, usages, opts.Remains)
}

// GetProjectQuotas implements the core.Driver interface.
func (d *DatabaseDriver) GetProjectQuotas(ctx context.Context, resources core.ResourceSet, projectID string, opts core.QuotaOptions) (core.QuotaSet, error) {
	overrides, err := d.Store.GetProjectQuotas(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("cannot load quotas for project %s: %w", projectID, err)
	}
	return d.getProjectQuotas(ctx, resources, projectID, overrides, opts)
}

func (d *DatabaseDriver) getUserQuotas(ctx context.Context, resources core.ResourceSet, projectID, userID string, projectOverrides, userOverrides map[string]int64, opts core.QuotaOptions) (core.QuotaSet, error) {
	//the project overrides are the defaults for user overrides
	overrides := make(map[string]int64, len(userOverrides)+len(projectOverrides))
	for name, limit := range projectOverrides {
		overrides[name] = limit
	}
	for name, limit := range userOverrides {
		overrides[name] = limit
	}

	var usages map[string]int64
	if opts.Usages {
		var err error
		usages, err = d.getUsages(ctx, resources, projectID, userID)
		if err != nil {
			return nil, err
		}
	}
	return d.processQuotas(ctx, resources, projectID, overrides, opts.QuotaClass, usages, false)
}

// GetUserQuotas implements the core.Driver interface. QuotaOptions.Remains is
// ignored since remains only exist on the project level.
func (d *DatabaseDriver) GetUserQuotas(ctx context.Context, resources core.ResourceSet, projectID, userID string, opts core.QuotaOptions) (core.QuotaSet, error) {
	projectOverrides, err := d.Store.GetProjectQuotas(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("cannot load quotas for project %s: %w", projectID, err)
	}
	userOverrides, err := d.Store.GetProjectUserQuotas(ctx, projectID, userID)
	if err != nil {
		return nil, fmt.Errorf("cannot load quotas for user %s in project %s: %w", userID, projectID, err)
	}
	return d.getUserQuotas(ctx, resources, projectID, userID, projectOverrides, userOverrides, opts)
}

// GetSettableQuotas implements the core.Driver interface.
//
// A user quota can be set to any value between the user's usage and the
// project's remaining quota plus the user's current quota. A project quota can
// be set to any value that is at least its usage and at least the sum of its
// user quotas.
func (d *DatabaseDriver) GetSettableQuotas(ctx context.Context, resources core.ResourceSet, projectID, userID string) (map[string]core.SettableRange, error) {
	projectOverrides, err := d.Store.GetProjectQuotas(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("cannot load quotas for project %s: %w", projectID, err)
	}
	projectQuotas, err := d.getProjectQuotas(ctx, resources, projectID, projectOverrides, core.QuotaOptions{Usages: true, Remains: true})
	if err != nil {
		return nil, err
	}

	result := make(map[string]core.SettableRange, len(resources))
	if userID == "" {
		for name, value := range projectQuotas {
			minimum := core.SubQuotaValues(value.Limit, *value.Remains)
			if inUse := *value.InUse; inUse > minimum {
				minimum = inUse
			}
			result[name] = core.SettableRange{Minimum: minimum, Maximum: core.Unlimited}
		}
		return result, nil
	}

	userOverrides, err := d.Store.GetProjectUserQuotas(ctx, projectID, userID)
	if err != nil {
		return nil, fmt.Errorf("cannot load quotas for user %s in project %s: %w", userID, projectID, err)
	}
	userQuotas, err := d.getUserQuotas(ctx, resources, projectID, userID, projectOverrides, userOverrides, core.QuotaOptions{Usages: true})
	if err != nil {
		return nil, err
	}
	for name, value := range userQuotas {
		result[name] = core.SettableRange{
			Minimum: *value.InUse,
			Maximum: core.SumQuotaValues(*projectQuotas[name].Remains, userOverrides[name]),
		}
	}
	return result, nil
}

// getLimits returns the limits for the resources named in `keys`, either on
// the project level or (if userID is not empty) on the user level.
func (d *DatabaseDriver) getLimits(ctx context.Context, resources core.ResourceSet, keys []string, projectID, userID string, projectOverrides map[string]int64) (map[string]int64, error) {
	subset, unknown := resources.Subset(keys)
	if len(unknown) > 0 {
		return nil, &core.UnknownResourceError{Unknown: unknown}
	}
	opts := core.QuotaOptions{QuotaClass: core.RequestContextFrom(ctx).QuotaClass}

	var (
		quotas core.QuotaSet
		err    error
	)
	if userID != "" {
		logg.Debug("getting quotas for user %s and project %s, resources: %v", userID, projectID, keys)
		var userOverrides map[string]int64
		userOverrides, err = d.Store.GetProjectUserQuotas(ctx, projectID, userID)
		if err != nil {
			return nil, fmt.Errorf("cannot load quotas for user %s in project %s: %w", userID, projectID, err)
		}
		quotas, err = d.getUserQuotas(ctx, subset, projectID, userID, projectOverrides, userOverrides, opts)
	} else {
		logg.Debug("getting quotas for project %s, resources: %v", projectID, keys)
		quotas, err = d.getProjectQuotas(ctx, subset, projectID, projectOverrides, opts)
	}
	if err != nil {
		return nil, err
	}
	return quotas.Limits(), nil
}
