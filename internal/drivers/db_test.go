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

package drivers_test

import (
	"context"
	"errors"
	"testing"

	"github.com/sapcc/go-bits/assert"

	"github.com/sapcc/nova-quota/internal/core"
	"github.com/sapcc/nova-quota/internal/drivers"
	"github.com/sapcc/nova-quota/internal/test"
)

type dbSetup struct {
	Driver    core.Driver
	Store     *test.QuotaStore
	Counter   *test.UsageCounter
	Resources core.ResourceSet
}

func setupDatabaseDriver(t *testing.T) dbSetup {
	t.Helper()
	counter := &test.UsageCounter{
		Project: map[string]map[string]int64{
			"p1": {"instances": 3, "cores": 6, "ram": 1024, "server_groups": 2},
		},
		User: map[string]map[string]int64{
			"u1": {"instances": 1, "cores": 2, "ram": 512, "server_groups": 1},
			"u3": {"instances": 2, "cores": 4, "ram": 512},
		},
	}
	registry, err := core.NewCatalog(counter)
	if err != nil {
		t.Fatal(err.Error())
	}
	store := test.NewQuotaStore()
	driver, err := core.DriverRegistry.Instantiate("db", core.DriverDependencies{
		Config: core.NewLiveConfiguration(core.NewConfiguration()),
		Quotas: store,
	})
	if err != nil {
		t.Fatal(err.Error())
	}
	return dbSetup{driver, store, counter, registry.All()}
}

func contextFor(projectID, userID, quotaClass string) context.Context {
	rc := core.NewRequestContext(projectID, userID)
	rc.QuotaClass = quotaClass
	return core.WithRequestContext(context.Background(), rc)
}

func TestDatabaseDriverDefaults(t *testing.T) {
	s := setupDatabaseDriver(t)
	ctx := context.Background()

	defaults, err := s.Driver.GetDefaults(ctx, s.Resources)
	if err != nil {
		t.Fatal(err.Error())
	}
	assert.DeepEqual(t, "cores", defaults["cores"], int64(20))
	assert.DeepEqual(t, "injected_file_path_bytes", defaults["injected_file_path_bytes"], int64(255))
	assert.DeepEqual(t, "security_groups", defaults["security_groups"], int64(-1))

	// the "default" quota class overrides the configuration
	s.Store.Classes["default"] = map[string]int64{"cores": 50}
	defaults, _ = s.Driver.GetDefaults(ctx, s.Resources)
	assert.DeepEqual(t, "cores from default class", defaults["cores"], int64(50))
	assert.DeepEqual(t, "instances from config", defaults["instances"], int64(10))

	s.Store.Classes["gold"] = map[string]int64{"ram": 100000}
	classQuotas, _ := s.Driver.GetClassQuotas(ctx, s.Resources, "gold")
	assert.DeepEqual(t, "ram from gold class", classQuotas["ram"], int64(100000))
	assert.DeepEqual(t, "cores for gold class", classQuotas["cores"], int64(20))

	assert.DeepEqual(t, "reserved", s.Driver.GetReserved(), int64(0))
}

func TestDatabaseDriverProjectQuotas(t *testing.T) {
	s := setupDatabaseDriver(t)
	s.Store.Projects["p1"] = map[string]int64{"instances": 5}
	s.Store.Classes["gold"] = map[string]int64{"instances": 50, "ram": 1000}
	s.Store.Classes["silver"] = map[string]int64{"ram": 2000}

	// for a foreign project, the requested quota class is used
	ctx := contextFor("p2", "u1", "silver")
	quotas, err := s.Driver.GetProjectQuotas(ctx, s.Resources, "p1", core.QuotaOptions{QuotaClass: "gold"})
	if err != nil {
		t.Fatal(err.Error())
	}
	assert.DeepEqual(t, "instances from override", quotas["instances"], core.QuotaValue{Limit: 5})
	assert.DeepEqual(t, "ram from gold class", quotas["ram"], core.QuotaValue{Limit: 1000})
	assert.DeepEqual(t, "cores from defaults", quotas["cores"], core.QuotaValue{Limit: 20})

	// for the caller's own project, the caller's quota class wins
	ctx = contextFor("p1", "u1", "silver")
	quotas, _ = s.Driver.GetProjectQuotas(ctx, s.Resources, "p1", core.QuotaOptions{QuotaClass: "gold"})
	assert.DeepEqual(t, "ram from silver class", quotas["ram"].Limit, int64(2000))

	// usages are only counted for countable resources
	quotas, _ = s.Driver.GetProjectQuotas(ctx, s.Resources, "p1", core.QuotaOptions{Usages: true})
	assert.DeepEqual(t, "instances usage", quotas["instances"], core.QuotaValue{Limit: 5}.WithInUse(3))
	assert.DeepEqual(t, "ram usage", *quotas["ram"].InUse, int64(1024))
	assert.DeepEqual(t, "server groups usage", *quotas["server_groups"].InUse, int64(2))
	assert.DeepEqual(t, "key pairs usage", *quotas["key_pairs"].InUse, int64(0))
	assert.DeepEqual(t, "metadata items usage", *quotas["metadata_items"].InUse, int64(0))
	// instances, cores and ram are counted together
	assert.DeepEqual(t, "counter calls", s.Counter.Calls.Load(), int32(2))
}

func TestDatabaseDriverRemains(t *testing.T) {
	s := setupDatabaseDriver(t)
	s.Store.Projects["p1"] = map[string]int64{"instances": 20}
	s.Store.SetUserQuota("p1", "u1", "instances", 5)
	s.Store.SetUserQuota("p1", "u2", "instances", 5)
	s.Store.SetUserQuota("p1", "u2", "cores", -1)

	quotas, err := s.Driver.GetProjectQuotas(context.Background(), s.Resources, "p1", core.QuotaOptions{Remains: true})
	if err != nil {
		t.Fatal(err.Error())
	}
	assert.DeepEqual(t, "instances", quotas["instances"], core.QuotaValue{Limit: 20}.WithRemains(10))
	assert.DeepEqual(t, "cores with unlimited user quota", quotas["cores"], core.QuotaValue{Limit: 20}.WithRemains(-1))
	assert.DeepEqual(t, "ram", quotas["ram"], core.QuotaValue{Limit: 51200}.WithRemains(51200))
}

func TestDatabaseDriverUserQuotas(t *testing.T) {
	s := setupDatabaseDriver(t)
	s.Store.Projects["p1"] = map[string]int64{"instances": 20, "cores": 40}
	s.Store.SetUserQuota("p1", "u1", "instances", 5)

	quotas, err := s.Driver.GetUserQuotas(context.Background(), s.Resources, "p1", "u1", core.QuotaOptions{Usages: true})
	if err != nil {
		t.Fatal(err.Error())
	}
	assert.DeepEqual(t, "instances from user override", quotas["instances"], core.QuotaValue{Limit: 5}.WithInUse(1))
	assert.DeepEqual(t, "cores from project override", quotas["cores"], core.QuotaValue{Limit: 40}.WithInUse(2))
	assert.DeepEqual(t, "ram from defaults", quotas["ram"], core.QuotaValue{Limit: 51200}.WithInUse(512))
	assert.DeepEqual(t, "server groups of user", *quotas["server_groups"].InUse, int64(1))
}

func TestDatabaseDriverSettableQuotas(t *testing.T) {
	s := setupDatabaseDriver(t)
	s.Store.Projects["p1"] = map[string]int64{"instances": 20}
	s.Store.SetUserQuota("p1", "u1", "instances", 5)
	s.Store.SetUserQuota("p1", "u2", "instances", 5)
	ctx := context.Background()

	// a user without override can get up to the remaining project quota
	settable, err := s.Driver.GetSettableQuotas(ctx, s.Resources, "p1", "u3")
	if err != nil {
		t.Fatal(err.Error())
	}
	assert.DeepEqual(t, "instances for u3", settable["instances"], core.SettableRange{Minimum: 2, Maximum: 10})
	assert.DeepEqual(t, "cores for u3", settable["cores"], core.SettableRange{Minimum: 4, Maximum: 20})
	assert.DeepEqual(t, "metadata items for u3", settable["metadata_items"], core.SettableRange{Minimum: 0, Maximum: 128})
	assert.DeepEqual(t, "fixed ips for u3", settable["fixed_ips"], core.SettableRange{Minimum: 0, Maximum: -1})

	// a user with override can additionally keep their own quota
	settable, _ = s.Driver.GetSettableQuotas(ctx, s.Resources, "p1", "u1")
	assert.DeepEqual(t, "instances for u1", settable["instances"], core.SettableRange{Minimum: 1, Maximum: 15})

	// a project quota must cover usage and all user quotas
	settable, _ = s.Driver.GetSettableQuotas(ctx, s.Resources, "p1", "")
	assert.DeepEqual(t, "instances for p1", settable["instances"], core.SettableRange{Minimum: 10, Maximum: -1})
	assert.DeepEqual(t, "cores for p1", settable["cores"], core.SettableRange{Minimum: 6, Maximum: -1})
}

func TestDatabaseDriverLimitCheck(t *testing.T) {
	s := setupDatabaseDriver(t)
	ctx := contextFor("p1", "u1", "")

	// usage 18 + delta 5 exceeds the default of 20
	err := s.Driver.LimitCheck(ctx, s.Resources, map[string]int64{"cores": 23, "instances": 1}, "", "")
	var oqe *core.OverQuotaError
	if !errors.As(err, &oqe) {
		t.Fatalf("expected OverQuotaError, got %v", err)
	}
	assert.DeepEqual(t, "overs", oqe.Overs, []string{"cores"})
	assert.DeepEqual(t, "headroom", oqe.Headroom, map[string]int64{"cores": 20})
	assert.DeepEqual(t, "quotas", oqe.Quotas, map[string]int64{"cores": 20, "instances": 10})
	assert.DeepEqual(t, "usages", oqe.Usages, map[string]int64{})

	assert.DeepEqual(t, "within limits", s.Driver.LimitCheck(ctx, s.Resources, map[string]int64{"cores": 20}, "", ""), nil)

	// unlimited quotas are never exceeded
	s.Store.Projects["p1"] = map[string]int64{"cores": -1}
	assert.DeepEqual(t, "unlimited", s.Driver.LimitCheck(ctx, s.Resources, map[string]int64{"cores": 1 << 40}, "", ""), nil)

	// the user quota is checked as well; headroom comes from the project level
	s.Store.SetUserQuota("p1", "u1", "instances", 2)
	err = s.Driver.LimitCheck(ctx, s.Resources, map[string]int64{"instances": 3}, "", "")
	if !errors.As(err, &oqe) {
		t.Fatalf("expected OverQuotaError, got %v", err)
	}
	assert.DeepEqual(t, "user overs", oqe.Overs, []string{"instances"})
	assert.DeepEqual(t, "user headroom", oqe.Headroom, map[string]int64{"instances": 10})

	// a different user is not affected by the override
	assert.DeepEqual(t, "other user", s.Driver.LimitCheck(ctx, s.Resources, map[string]int64{"instances": 3}, "p1", "u2"), nil)
}

func TestDatabaseDriverLimitCheckValidation(t *testing.T) {
	s := setupDatabaseDriver(t)
	ctx := contextFor("p1", "u1", "")

	err := s.Driver.LimitCheck(ctx, s.Resources, map[string]int64{"cores": -1, "ram": -5, "instances": 1}, "", "")
	var ive *core.InvalidValueError
	if !errors.As(err, &ive) {
		t.Fatalf("expected InvalidValueError, got %v", err)
	}
	assert.DeepEqual(t, "unders", ive.Unders, []string{"cores", "ram"})

	err = s.Driver.LimitCheck(ctx, s.Resources, map[string]int64{"widgets": 1}, "", "")
	var imue *core.InvalidMethodUsageError
	if !errors.As(err, &imue) {
		t.Fatalf("expected InvalidMethodUsageError, got %v", err)
	}
	assert.DeepEqual(t, "method", imue.Method, "check")
	assert.DeepEqual(t, "resource", imue.Resource, "widgets")
}

func TestDatabaseDriverLimitCheckProjectAndUser(t *testing.T) {
	s := setupDatabaseDriver(t)
	s.Store.SetUserQuota("p1", "u1", "instances", 2)
	s.Store.SetUserQuota("p1", "u1", "server_groups", 4)
	ctx := contextFor("p1", "u1", "")
	check := func(projectValues, userValues map[string]int64) error {
		return s.Driver.LimitCheckProjectAndUser(ctx, s.Resources, projectValues, userValues, "", "")
	}

	assert.DeepEqual(t, "no values", check(nil, map[string]int64{}), core.ErrMissingValues)

	// resources in only one of both maps are checked against the lower limit
	projectValues := map[string]int64{"server_groups": 5}
	err := check(projectValues, nil)
	var oqe *core.OverQuotaError
	if !errors.As(err, &oqe) {
		t.Fatalf("expected OverQuotaError, got %v", err)
	}
	assert.DeepEqual(t, "merged overs", oqe.Overs, []string{"server_groups"})
	assert.DeepEqual(t, "merged headroom", oqe.Headroom, map[string]int64{"server_groups": 4})
	assert.DeepEqual(t, "merged quotas", oqe.Quotas, map[string]int64{"server_groups": 4})
	assert.DeepEqual(t, "caller values are not modified", projectValues, map[string]int64{"server_groups": 5})

	// resources in both maps are checked against their own limit
	assert.DeepEqual(t, "within both limits",
		check(map[string]int64{"instances": 10}, map[string]int64{"instances": 2}), nil)

	err = check(map[string]int64{"instances": 11}, map[string]int64{"instances": 3})
	if !errors.As(err, &oqe) {
		t.Fatalf("expected OverQuotaError, got %v", err)
	}
	assert.DeepEqual(t, "project overs", oqe.Overs, []string{"instances"})
	assert.DeepEqual(t, "project headroom", oqe.Headroom, map[string]int64{"instances": 10})
	assert.DeepEqual(t, "project quotas", oqe.Quotas, map[string]int64{"instances": 10})

	err = check(map[string]int64{"instances": 5, "cores": 4}, map[string]int64{"instances": 3, "cores": 2})
	if !errors.As(err, &oqe) {
		t.Fatalf("expected OverQuotaError, got %v", err)
	}
	assert.DeepEqual(t, "user overs", oqe.Overs, []string{"instances"})
	assert.DeepEqual(t, "user headroom", oqe.Headroom, map[string]int64{"instances": 2})
	assert.DeepEqual(t, "user quotas", oqe.Quotas, map[string]int64{"instances": 2, "cores": 20})

	// validation happens before the values are looked at
	err = check(map[string]int64{"instances": -1}, nil)
	var ive *core.InvalidValueError
	assert.DeepEqual(t, "negative value", errors.As(err, &ive), true)
	err = check(nil, map[string]int64{"widgets": 1})
	var imue *core.InvalidMethodUsageError
	assert.DeepEqual(t, "unknown resource", errors.As(err, &imue), true)
}

func TestDatabaseDriverLimitCheckProjectLimitBinds(t *testing.T) {
	s := setupDatabaseDriver(t)
	s.Store.Projects["p2"] = map[string]int64{"instances": 2}
	ctx := contextFor("p2", "u9", "")

	// without a user override, the project limit applies to the merged check
	err := s.Driver.LimitCheckProjectAndUser(ctx, s.Resources, map[string]int64{"instances": 3}, map[string]int64{}, "", "")
	var oqe *core.OverQuotaError
	if !errors.As(err, &oqe) {
		t.Fatalf("expected OverQuotaError, got %v", err)
	}
	assert.DeepEqual(t, "overs", oqe.Overs, []string{"instances"})
	assert.DeepEqual(t, "headroom", oqe.Headroom, map[string]int64{"instances": 2})
	assert.DeepEqual(t, "quotas", oqe.Quotas, map[string]int64{"instances": 2})

	err = s.Driver.LimitCheckProjectAndUser(ctx, s.Resources, map[string]int64{"instances": 2}, map[string]int64{}, "", "")
	assert.DeepEqual(t, "at the limit", err, nil)
}

func TestDriverRegistry(t *testing.T) {
	assert.DeepEqual(t, "driver names", core.DriverRegistry.Names(), []string{"db", "noop", "unified_limits"})

	_, err := core.DriverRegistry.Instantiate("db", core.DriverDependencies{})
	assert.DeepEqual(t, "db without store", err != nil, true)
	_, err = core.DriverRegistry.Instantiate("unified_limits", core.DriverDependencies{})
	assert.DeepEqual(t, "unified_limits without client", err != nil, true)

	driver, err := core.DriverRegistry.Instantiate("noop", core.DriverDependencies{})
	assert.DeepEqual(t, "noop error", err, nil)
	assert.DeepEqual(t, "noop type", driver, core.Driver(drivers.NoopDriver{}))
}
