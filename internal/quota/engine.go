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

// Package quota contains the Engine, which is the entrypoint for all quota
// operations.
package quota

import (
	"context"
	"errors"
	"sync"

	"github.com/sapcc/go-bits/logg"

	"github.com/sapcc/nova-quota/internal/core"
)

// Engine binds the resource registry to the configured quota driver. All
// resource names given by callers are validated before the driver is invoked.
type Engine struct {
	config   *core.LiveConfiguration
	registry *core.Registry
	deps     core.DriverDependencies

	mutex          sync.Mutex
	driver         core.Driver
	driverName     string
	driverOverride core.Driver
}

// NewEngine builds an Engine. The driver is instantiated on first use.
func NewEngine(registry *core.Registry, deps core.DriverDependencies) *Engine {
	return &Engine{
		config:   deps.Config,
		registry: registry,
		deps:     deps,
	}
}

// OverrideDriver makes the Engine use the given driver regardless of the
// configuration. This is only used in tests. Pass nil to remove the override.
func (e *Engine) OverrideDriver(driver core.Driver) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	e.driverOverride = driver
}

// Driver returns the driver selected by the `quota.driver` option. When the
// option changes, the new driver is instantiated on the next call.
func (e *Engine) Driver() (core.Driver, error) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	if e.driverOverride != nil {
		return e.driverOverride, nil
	}

	name := e.config.Get().Quota.Driver
	if e.driver != nil && e.driverName == name {
		return e.driver, nil
	}

	driver, err := core.DriverRegistry.Instantiate(name, e.deps)
	if err != nil {
		return nil, err
	}
	if e.driver != nil {
		logg.Info("switching quota driver from %s to %s", e.driverName, name)
	}
	driverInstantiationsCounter.WithLabelValues(name).Inc()
	e.driver = driver
	e.driverName = name
	return driver, nil
}

// Resources returns the sorted names of all known resources.
func (e *Engine) Resources() []string {
	return e.registry.Names()
}

// GetReserved returns the reserved value of the current driver.
func (e *Engine) GetReserved() (int64, error) {
	driver, err := e.Driver()
	if err != nil {
		return 0, err
	}
	return driver.GetReserved(), nil
}

// GetDefaults returns the default limits for all resources.
func (e *Engine) GetDefaults(ctx context.Context) (map[string]int64, error) {
	driver, err := e.Driver()
	if err != nil {
		return nil, err
	}
	return driver.GetDefaults(ctx, e.registry.All())
}

// GetClassQuotas returns the limits of the given quota class for all resources.
func (e *Engine) GetClassQuotas(ctx context.Context, quotaClass string) (map[string]int64, error) {
	driver, err := e.Driver()
	if err != nil {
		return nil, err
	}
	return driver.GetClassQuotas(ctx, e.registry.All(), quotaClass)
}

// GetProjectQuotas returns the quotas of the given project.
func (e *Engine) GetProjectQuotas(ctx context.Context, projectID string, opts core.QuotaOptions) (core.QuotaSet, error) {
	driver, err := e.Driver()
	if err != nil {
		return nil, err
	}
	return driver.GetProjectQuotas(ctx, e.registry.All(), projectID, opts)
}

// GetUserQuotas returns the quotas of the given user in the given project.
func (e *Engine) GetUserQuotas(ctx context.Context, projectID, userID string, opts core.QuotaOptions) (core.QuotaSet, error) {
	driver, err := e.Driver()
	if err != nil {
		return nil, err
	}
	return driver.GetUserQuotas(ctx, e.registry.All(), projectID, userID, opts)
}

// GetSettableQuotas returns the range that the quotas of the given project
// (or, if userID is not empty, of the given user) can be set to.
func (e *Engine) GetSettableQuotas(ctx context.Context, projectID, userID string) (map[string]core.SettableRange, error) {
	driver, err := e.Driver()
	if err != nil {
		return nil, err
	}
	return driver.GetSettableQuotas(ctx, e.registry.All(), projectID, userID)
}

// Count counts the usage of a countable resource.
func (e *Engine) Count(ctx context.Context, resourceName string, req core.CountRequest) (core.UsageCount, error) {
	res, exists := e.registry.Get(resourceName)
	if !exists || !res.IsCountable() {
		return core.UsageCount{}, &core.UnknownResourceError{Unknown: []string{resourceName}}
	}
	return res.Count(ctx, req)
}

// LimitCheck checks that the given values do not exceed the limits of the
// project or the user. Empty IDs are taken from the request context.
func (e *Engine) LimitCheck(ctx context.Context, values map[string]int64, projectID, userID string) error {
	err := e.registry.Validate(keysOf(values)...)
	if err != nil {
		return err
	}
	driver, err := e.Driver()
	if err != nil {
		return err
	}
	return countRejection(driver.LimitCheck(ctx, e.registry.All(), values, projectID, userID))
}

// LimitCheckProjectAndUser checks projectValues against the project limits
// and userValues against the user limits. Empty IDs are taken from the request
// context.
func (e *Engine) LimitCheckProjectAndUser(ctx context.Context, projectValues, userValues map[string]int64, projectID, userID string) error {
	err := e.registry.Validate(append(keysOf(projectValues), keysOf(userValues)...)...)
	if err != nil {
		return err
	}
	driver, err := e.Driver()
	if err != nil {
		return err
	}
	return countRejection(driver.LimitCheckProjectAndUser(ctx, e.registry.All(), projectValues, userValues, projectID, userID))
}

func keysOf(values map[string]int64) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	return keys
}

func countRejection(err error) error {
	var oqe *core.OverQuotaError
	if errors.As(err, &oqe) {
		for _, name := range oqe.Overs {
			overQuotaCounter.WithLabelValues(name).Inc()
		}
	}
	return err
}
