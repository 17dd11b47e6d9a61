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

package core_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/sapcc/go-bits/assert"

	"github.com/sapcc/nova-quota/internal/core"
	"github.com/sapcc/nova-quota/internal/test"
)

func TestQuotaValueArithmetic(t *testing.T) {
	assert.DeepEqual(t, "5+3", core.SumQuotaValues(5, 3), int64(8))
	assert.DeepEqual(t, "-1+3", core.SumQuotaValues(-1, 3), core.Unlimited)
	assert.DeepEqual(t, "3+-1", core.SumQuotaValues(3, -1), core.Unlimited)
	assert.DeepEqual(t, "5-3", core.SubQuotaValues(5, 3), int64(2))
	assert.DeepEqual(t, "3-5", core.SubQuotaValues(3, 5), int64(-2))
	assert.DeepEqual(t, "-1-3", core.SubQuotaValues(-1, 3), core.Unlimited)
	assert.DeepEqual(t, "3--1", core.SubQuotaValues(3, -1), core.Unlimited)
	assert.DeepEqual(t, "-5 is unlimited", core.IsUnlimited(-5), true)
	assert.DeepEqual(t, "0 is limited", core.IsUnlimited(0), false)
}

func TestUsageCountAddInto(t *testing.T) {
	total := core.UsageCount{Project: map[string]int64{"instances": 1}}
	total.AddInto(core.UsageCount{
		Project: map[string]int64{"instances": 2, "cores": 4},
		User:    map[string]int64{"instances": 1},
	})
	assert.DeepEqual(t, "project scope", total.Project, map[string]int64{"instances": 3, "cores": 4})
	assert.DeepEqual(t, "user scope stays nil", total.User == nil, true)
	assert.DeepEqual(t, "scope selection", total.Scope(false), total.Project)
}

func TestRegistry(t *testing.T) {
	noop := func(context.Context, core.CountRequest) (core.UsageCount, error) { return core.UsageCount{}, nil }

	_, err := core.NewRegistry(core.NewAbsoluteResource("foo", ""), core.NewAbsoluteResource("foo", ""))
	assert.DeepEqual(t, "duplicate error", err.Error(), `duplicate registration of resource "foo"`)

	reg, err := core.NewRegistry(
		core.NewCountableResource("widgets", noop, "widgets"),
		core.NewAbsoluteResource("bytes", "byte_count"),
	)
	if err != nil {
		t.Fatal(err.Error())
	}
	assert.DeepEqual(t, "names", reg.Names(), []string{"bytes", "widgets"})

	res, exists := reg.Get("widgets")
	assert.DeepEqual(t, "widgets exists", exists, true)
	assert.DeepEqual(t, "widgets countable", res.IsCountable(), true)
	assert.DeepEqual(t, "widgets default", res.Default(map[string]int64{"widgets": 7}), int64(7))
	assert.DeepEqual(t, "widgets missing default", res.Default(nil), core.Unlimited)

	err = reg.Validate("widgets", "zeta", "alpha", "zeta")
	var unknownErr *core.UnknownResourceError
	assert.DeepEqual(t, "is UnknownResourceError", errors.As(err, &unknownErr), true)
	assert.DeepEqual(t, "unknown names", unknownErr.Unknown, []string{"alpha", "zeta"})
	assert.DeepEqual(t, "valid names", reg.Validate("bytes"), nil)

	subset, unknown := reg.All().Subset([]string{"bytes", "nope"})
	assert.DeepEqual(t, "subset", subset.Names(), []string{"bytes"})
	assert.DeepEqual(t, "subset unknown", unknown, []string{"nope"})
}

func TestCatalog(t *testing.T) {
	reg, err := core.NewCatalog(nil)
	if err != nil {
		t.Fatal(err.Error())
	}
	assert.DeepEqual(t, "resource count", len(reg.Names()), 14)

	defaults := core.DefaultQuotaLimits()
	expected := map[string]int64{
		"instances":                   10,
		"cores":                       20,
		"ram":                         51200,
		"metadata_items":              128,
		"injected_files":              5,
		"injected_file_content_bytes": 10240,
		"injected_file_path_bytes":    255,
		"key_pairs":                   100,
		"server_groups":               10,
		"server_group_members":        10,
		"fixed_ips":                   -1,
		"floating_ips":                -1,
		"security_groups":             -1,
		"security_group_rules":        -1,
	}
	actual := make(map[string]int64)
	for name, res := range reg.All() {
		actual[name] = res.Default(defaults)
	}
	assert.DeepEqual(t, "defaults", actual, expected)

	res, _ := reg.Get(core.ResourceServerGroupMembers)
	_, err = res.Count(context.Background(), core.CountRequest{ProjectID: "p"})
	assert.DeepEqual(t, "member count without group fails", err != nil, true)
}

func TestRequestContext(t *testing.T) {
	rc := core.NewRequestContext("p1", "u1")
	assert.DeepEqual(t, "request ID prefix", strings.HasPrefix(rc.RequestID, "req-"), true)
	assert.DeepEqual(t, "without enforcer", rc.Can("compute:quotas:show", nil), false)

	rc.Enforcer = &test.PolicyEnforcer{AllowShow: true}
	assert.DeepEqual(t, "own project", rc.Can("compute:quotas:show", nil), true)
	assert.DeepEqual(t, "foreign project", rc.Can("compute:quotas:show", map[string]string{"project_id": "p2"}), false)
	assert.DeepEqual(t, "unknown rule", rc.Can("compute:quotas:update", nil), false)

	ctx := core.WithRequestContext(context.Background(), rc)
	assert.DeepEqual(t, "round trip", core.RequestContextFrom(ctx).ProjectID, "p1")
	assert.DeepEqual(t, "empty context", core.RequestContextFrom(context.Background()).ProjectID, "")
}
