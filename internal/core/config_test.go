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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sapcc/go-bits/assert"

	"github.com/sapcc/nova-quota/internal/core"
)

func init() {
	for _, name := range []string{"db", "unified_limits"} {
		core.DriverRegistry.Add(name, func(core.DriverDependencies) (core.Driver, error) { return nil, nil })
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg, errs := core.ParseConfiguration([]byte(`{}`))
	assert.DeepEqual(t, "errors", errs.Join(","), "")
	assert.DeepEqual(t, "driver", cfg.Quota.Driver, "db")
	assert.DeepEqual(t, "usage counter", cfg.Quota.UsageCounter, core.UsageCounterHybrid)
	assert.DeepEqual(t, "cell timeout", time.Duration(cfg.Quota.CellTimeout), 60*time.Second)
	assert.DeepEqual(t, "max concurrent cells", cfg.Quota.MaxConcurrentCells, 8)
	assert.DeepEqual(t, "defaults", cfg.Quota.Defaults, core.DefaultQuotaLimits())
}

func TestConfigPartialDefaults(t *testing.T) {
	cfg, errs := core.ParseConfiguration([]byte(`
quota:
  cell_timeout: 5s
  defaults:
    cores: 40
    server_groups: -1
`))
	assert.DeepEqual(t, "errors", errs.Join(","), "")
	assert.DeepEqual(t, "cell timeout", time.Duration(cfg.Quota.CellTimeout), 5*time.Second)
	assert.DeepEqual(t, "cores", cfg.Quota.Defaults["cores"], int64(40))
	assert.DeepEqual(t, "server_groups", cfg.Quota.Defaults["server_groups"], int64(-1))
	assert.DeepEqual(t, "instances", cfg.Quota.Defaults["instances"], int64(10))
}

func TestConfigValidation(t *testing.T) {
	// unknown keys are rejected
	_, errs := core.ParseConfiguration([]byte(`quota: { drivr: db }`))
	assert.DeepEqual(t, "error count", len(errs), 1)

	_, errs = core.ParseConfiguration([]byte(`
quota:
  driver: foo
  usage_counter: bar
  max_concurrent_cells: 0
  defaults:
    cores: -2
`))
	assert.DeepEqual(t, "errors", errs.Join(","),
		`invalid value for quota.driver: "foo" (known drivers: [db unified_limits]),`+
			`invalid value for quota.usage_counter: "bar",`+
			`invalid value for quota.max_concurrent_cells: 0 (must be > 0),`+
			`invalid value for quota.defaults.cores: -2 (must be >= -1)`)

	_, errs = core.ParseConfiguration([]byte(`quota: { driver: unified_limits }`))
	assert.DeepEqual(t, "errors", errs.Join(","),
		"missing configuration value: unified_limits.service_id (required for quota.driver = unified_limits)")
}

func TestLiveConfigurationReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	mustWrite(t, path, "quota: { driver: db }\n")

	lc, errs := core.NewLiveConfigurationFromFile(path)
	if !errs.IsEmpty() {
		t.Fatal(errs.Join(", "))
	}
	assert.DeepEqual(t, "driver before reload", lc.Get().Quota.Driver, "db")

	mustWrite(t, path, "quota: { driver: unified_limits }\nunified_limits: { service_id: abc }\n")
	errs = lc.Reload()
	assert.DeepEqual(t, "reload errors", errs.Join(","), "")
	assert.DeepEqual(t, "driver after reload", lc.Get().Quota.Driver, "unified_limits")

	// an invalid file keeps the previous configuration
	mustWrite(t, path, "quota: { driver: nonexistent }\n")
	errs = lc.Reload()
	assert.DeepEqual(t, "reload error count", len(errs), 1)
	assert.DeepEqual(t, "driver after failed reload", lc.Get().Quota.Driver, "unified_limits")

	fixed := core.NewLiveConfiguration(core.NewConfiguration())
	assert.DeepEqual(t, "reload error count without file", len(fixed.Reload()), 1)
}

func mustWrite(t *testing.T, path, contents string) {
	t.Helper()
	err := os.WriteFile(path, []byte(contents), 0o600)
	if err != nil {
		t.Fatal(err.Error())
	}
}
