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
	"fmt"
	"sort"
)

// Registry is the immutable catalog of all resources known to the quota
// engine.
type Registry struct {
	resources ResourceSet
	names     []string
}

// NewRegistry builds a Registry. Resource names must be unique.
func NewRegistry(resources ...*Resource) (*Registry, error) {
	set := make(ResourceSet, len(resources))
	for _, res := range resources {
		if res == nil || res.Name == "" {
			return nil, fmt.Errorf("cannot register a resource without name")
		}
		if _, exists := set[res.Name]; exists {
			return nil, fmt.Errorf("duplicate registration of resource %q", res.Name)
		}
		set[res.Name] = res
	}
	return &Registry{resources: set, names: set.Names()}, nil
}

// Get returns the resource with the given name.
func (r *Registry) Get(name string) (*Resource, bool) {
	res, exists := r.resources[name]
	return res, exists
}

// Names returns the sorted names of all registered resources.
func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
}

// All returns a copy of the full resource set.
func (r *Registry) All() ResourceSet {
	result := make(ResourceSet, len(r.resources))
	for name, res := range r.resources {
		result[name] = res
	}
	return result
}

// Validate returns an UnknownResourceError if any of the given names is not
// registered.
func (r *Registry) Validate(names ...string) error {
	var unknown []string
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if _, exists := r.resources[name]; !exists && !seen[name] {
			unknown = append(unknown, name)
			seen[name] = true
		}
	}
	if len(unknown) == 0 {
		return nil
	}
	sort.Strings(unknown)
	return &UnknownResourceError{Unknown: unknown}
}
