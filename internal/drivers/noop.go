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

	"github.com/sapcc/nova-quota/internal/core"
)

// NoopDriver is a core.Driver that does not enforce any quotas. All limits are
// reported as unlimited and all checks pass.
type NoopDriver struct{}

func init() {
	core.DriverRegistry.Add("noop", func(core.DriverDependencies) (core.Driver, error) {
		return NoopDriver{}, nil
	})
}

// GetReserved implements the core.Driver interface.
func (NoopDriver) GetReserved() int64 {
	return core.Unlimited
}

// GetDefaults implements the core.Driver interface.
func (NoopDriver) GetDefaults(_ context.Context, resources core.ResourceSet) (map[string]int64, error) {
	return allUnlimited(resources), nil
}

// GetClassQuotas implements the core.Driver interface.
func (NoopDriver) GetClassQuotas(_ context.Context, resources core.ResourceSet, _ string) (map[string]int64, error) {
	return allUnlimited(resources), nil
}

func noopQuotas(resources core.ResourceSet, opts core.QuotaOptions) core.QuotaSet {
	result := make(core.QuotaSet, len(resources))
	for name := range resources {
		value := core.QuotaValue{Limit: core.Unlimited}
		if opts.Usages {
			value = value.WithInUse(core.Unlimited)
		}
		if opts.Remains {
			value = value.WithRemains(core.Unlimited)
		}
		result[name] = value
	}
	return result
}

// GetProjectQuotas implements the core.Driver interface.
func (NoopDriver) GetProjectQuotas(_ context.Context, resources core.ResourceSet, _ string, opts core.QuotaOptions) (core.QuotaSet, error) {
	return noopQuotas(resources, opts), nil
}

// GetUserQuotas implements the core.Driver interface.
func (NoopDriver) GetUserQuotas(_ context.Context, resources core.ResourceSet, _, _ string, opts core.QuotaOptions) (core.QuotaSet, error) {
	opts.Remains = false
	return noopQuotas(resources, opts), nil
}

// GetSettableQuotas implements the core.Driver interface.
func (NoopDriver) GetSettableQuotas(_ context.Context, resources core.ResourceSet, _, _ string) (map[string]core.SettableRange, error) {
	return unrestrictedSettableRanges(resources), nil
}

// LimitCheck implements the core.Driver interface.
func (NoopDriver) LimitCheck(context.Context, core.ResourceSet, map[string]int64, string, string) error {
	return nil
}

// LimitCheckProjectAndUser implements the core.Driver interface.
func (NoopDriver) LimitCheckProjectAndUser(context.Context, core.ResourceSet, map[string]int64, map[string]int64, string, string) error {
	return nil
}
