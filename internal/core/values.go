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

// Unlimited is the limit value that disables a quota. Every value <= Unlimited
// is treated as unlimited.
const Unlimited int64 = -1

// IsUnlimited returns whether the given limit means "no cap".
func IsUnlimited(value int64) bool {
	return value <= Unlimited
}

// SumQuotaValues adds two quota values. If either of them is unlimited, the
// result is unlimited.
func SumQuotaValues(lhs, rhs int64) int64 {
	if IsUnlimited(lhs) || IsUnlimited(rhs) {
		return Unlimited
	}
	return lhs + rhs
}

// SubQuotaValues subtracts rhs from lhs. If either of them is unlimited, the
// result is unlimited.
func SubQuotaValues(lhs, rhs int64) int64 {
	if IsUnlimited(lhs) || IsUnlimited(rhs) {
		return Unlimited
	}
	return lhs - rhs
}

// QuotaValue is the quota state of a single resource as reported by
// Driver.GetProjectQuotas and Driver.GetUserQuotas. InUse and Remains are only
// filled when requested through QuotaOptions.
type QuotaValue struct {
	Limit   int64  `json:"limit"`
	InUse   *int64 `json:"in_use,omitempty"`
	Remains *int64 `json:"remains,omitempty"`
}

// QuotaSet maps resource names to their quota state.
type QuotaSet map[string]QuotaValue

// Limits extracts the bare limits from this set.
func (s QuotaSet) Limits() map[string]int64 {
	result := make(map[string]int64, len(s))
	for name, value := range s {
		result[name] = value.Limit
	}
	return result
}

// SettableRange is the range of values that a quota can be set to.
type SettableRange struct {
	Minimum int64 `json:"minimum"`
	Maximum int64 `json:"maximum"`
}

// UsageCount is the result of counting a resource. Each scope maps resource
// names to counts; a nil scope means that the counter does not count in that
// scope (e.g. key pairs are only counted per user).
type UsageCount struct {
	Project map[string]int64 `json:"project,omitempty"`
	User    map[string]int64 `json:"user,omitempty"`
}

// Scope returns the counts for the user scope if forUser is true, or for the
// project scope otherwise.
func (c UsageCount) Scope(forUser bool) map[string]int64 {
	if forUser {
		return c.User
	}
	return c.Project
}

// AddInto adds all counts from `other` into this UsageCount. Scopes that are
// nil in the receiver stay nil.
func (c UsageCount) AddInto(other UsageCount) {
	for name, count := range other.Project {
		if c.Project != nil {
			c.Project[name] += count
		}
	}
	for name, count := range other.User {
		if c.User != nil {
			c.User[name] += count
		}
	}
}

func ptrTo(value int64) *int64 {
	return &value
}

// WithInUse returns a copy of this value with InUse set.
func (v QuotaValue) WithInUse(inUse int64) QuotaValue {
	v.InUse = ptrTo(inUse)
	return v
}

// WithRemains returns a copy of this value with Remains set.
func (v QuotaValue) WithRemains(remains int64) QuotaValue {
	v.Remains = ptrTo(remains)
	return v
}
