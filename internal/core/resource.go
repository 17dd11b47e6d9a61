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
)

// ResourceKind distinguishes resources that only have a limit from resources
// whose usage can be counted.
type ResourceKind int

const (
	// AbsoluteResource is a resource that does not correspond to database
	// objects. It only has a static limit.
	AbsoluteResource ResourceKind = iota
	// CountableResource is a resource whose usage is computed by a CountFunc.
	CountableResource
)

// String implements the fmt.Stringer interface.
func (k ResourceKind) String() string {
	switch k {
	case AbsoluteResource:
		return "absolute"
	case CountableResource:
		return "countable"
	default:
		return fmt.Sprintf("ResourceKind(%d)", int(k))
	}
}

// MethodCheck is the quota method used by limit checks. All resources built by
// NewAbsoluteResource and NewCountableResource support it.
const MethodCheck = "check"

// CountRequest contains the arguments for a CountFunc. Group is only used by
// the server_group_members resource, which is counted per group and user
// instead of per project.
type CountRequest struct {
	ProjectID string
	UserID    string
	Group     *InstanceGroup
}

// CountFunc computes the current usage of a countable resource.
type CountFunc func(ctx context.Context, req CountRequest) (UsageCount, error)

// Resource describes a single dimension that quota can be enforced on.
type Resource struct {
	Name string
	Kind ResourceKind
	// DefaultFlag is the key in QuotaConfiguration.Defaults that holds the
	// default limit. If empty, the default is Unlimited.
	DefaultFlag string
	// Method is the quota method that this resource supports.
	Method string
	// Count is only set for countable resources.
	Count CountFunc
}

// NewAbsoluteResource creates a Resource without a counting function.
func NewAbsoluteResource(name, flag string) *Resource {
	return &Resource{
		Name:        name,
		Kind:        AbsoluteResource,
		DefaultFlag: flag,
		Method:      MethodCheck,
	}
}

// NewCountableResource creates a Resource whose usage is computed by the given
// function.
func NewCountableResource(name string, count CountFunc, flag string) *Resource {
	return &Resource{
		Name:        name,
		Kind:        CountableResource,
		DefaultFlag: flag,
		Method:      MethodCheck,
		Count:       count,
	}
}

// IsCountable returns whether usage can be counted for this resource.
func (r *Resource) IsCountable() bool {
	return r.Kind == CountableResource && r.Count != nil
}

// Default returns the configured default limit for this resource.
func (r *Resource) Default(defaults map[string]int64) int64 {
	if r.DefaultFlag == "" {
		return Unlimited
	}
	value, exists := defaults[r.DefaultFlag]
	if !exists {
		return Unlimited
	}
	return value
}

// ResourceSet maps resource names to resources.
type ResourceSet map[string]*Resource

// Names returns the sorted list of all resource names in this set.
func (s ResourceSet) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Subset returns the resources from this set that are named in `keys`, and the
// sorted list of names that were not found.
func (s ResourceSet) Subset(keys []string) (result ResourceSet, unknown []string) {
	result = make(ResourceSet, len(keys))
	for _, key := range keys {
		res, exists := s[key]
		if exists {
			result[key] = res
		} else {
			unknown = append(unknown, key)
		}
	}
	sort.Strings(unknown)
	return result, unknown
}
