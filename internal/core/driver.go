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

package core

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// QuotaOptions modifies the output of Driver.GetProjectQuotas and
// Driver.GetUserQuotas.
type QuotaOptions struct {
	//QuotaClass is used when the target project is not the project of the
	//request context. Otherwise the quota class of the request context wins.
	QuotaClass string
	//Usages requests that QuotaValue.InUse is filled.
	Usages bool
	//Remains requests that QuotaValue.Remains is filled (project quotas only).
	Remains bool
}

// Driver is the interface that all quota drivers implement. The resource set
// given to each method is the set of resources that the caller wants to see.
//
// The request context (see RequestContextFrom) supplies the default project
// and user for limit checks when projectID or userID are empty.
type Driver interface {
	//GetReserved returns the reserved value reported by the legacy API.
	GetReserved() int64
	GetDefaults(ctx context.Context, resources ResourceSet) (map[string]int64, error)
	GetClassQuotas(ctx context.Context, resources ResourceSet, quotaClass string) (map[string]int64, error)
	GetProjectQuotas(ctx context.Context, resources ResourceSet, projectID string, opts QuotaOptions) (QuotaSet, error)
	GetUserQuotas(ctx context.Context, resources ResourceSet, projectID, userID string, opts QuotaOptions) (QuotaSet, error)
	GetSettableQuotas(ctx context.Context, resources ResourceSet, projectID, userID string) (map[string]SettableRange, error)
	//LimitCheck checks that the proposed values do not exceed the project
	//limits nor the user limits.
	LimitCheck(ctx context.Context, resources ResourceSet, values map[string]int64, projectID, userID string) error
	//LimitCheckProjectAndUser checks projectValues against project limits and
	//userValues against user limits. Resources that only appear in one of
	//both maps are checked against the tighter of both limits.
	LimitCheckProjectAndUser(ctx context.Context, resources ResourceSet, projectValues, userValues map[string]int64, projectID, userID string) error
}

// DriverDependencies contains everything that a driver factory may need.
// Drivers only use the fields that are relevant to them.
type DriverDependencies struct {
	Config *LiveConfiguration
	Quotas QuotaStore
	Limits UnifiedLimits
}

// DriverFactory builds a Driver.
type DriverFactory func(deps DriverDependencies) (Driver, error)

// DriverRegistryType is the type of DriverRegistry.
type DriverRegistryType struct {
	mutex     sync.RWMutex
	factories map[string]DriverFactory
}

// DriverRegistry holds the factories for all known quota drivers, keyed by the
// identifier used in the `quota.driver` configuration option.
var DriverRegistry = &DriverRegistryType{}

// Add registers a driver factory. It panics on duplicate names since this is
// only called from init() functions.
func (r *DriverRegistryType) Add(name string, factory DriverFactory) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.factories == nil {
		r.factories = make(map[string]DriverFactory)
	}
	if _, exists := r.factories[name]; exists {
		panic(fmt.Sprintf("quota driver %q registered twice", name))
	}
	r.factories[name] = factory
}

// Has returns whether a driver with this name was registered.
func (r *DriverRegistryType) Has(name string) bool {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	_, exists := r.factories[name]
	return exists
}

// Names returns the sorted names of all registered drivers.
func (r *DriverRegistryType) Names() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Instantiate builds the driver with the given name.
func (r *DriverRegistryType) Instantiate(name string, deps DriverDependencies) (Driver, error) {
	r.mutex.RLock()
	factory, exists := r.factories[name]
	r.mutex.RUnlock()
	if !exists {
		return nil, fmt.Errorf("no such quota driver: %q", name)
	}
	return factory(deps)
}
