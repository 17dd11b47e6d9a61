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

package test

import (
	"strings"

	policy "github.com/databus23/goslo.policy"
)

// PolicyEnforcer is a core.Enforcer implementation for tests.
type PolicyEnforcer struct {
	AllowShow         bool
	AllowUpdate       bool
	AllowOtherProject bool
}

// Enforce implements the core.Enforcer interface.
func (e *PolicyEnforcer) Enforce(rule string, ctx policy.Context) bool {
	if !e.AllowOtherProject && ctx.Request["project_id"] != ctx.Auth["project_id"] {
		return false
	}
	fields := strings.Split(rule, ":")
	switch fields[len(fields)-1] {
	case "show":
		return e.AllowShow
	case "update":
		return e.AllowUpdate
	default:
		return false
	}
}
