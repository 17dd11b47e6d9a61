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
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	yaml "gopkg.in/yaml.v2"
)

// Names of the usage counting strategies.
const (
	UsageCounterLegacy    = "legacy"
	UsageCounterPlacement = "placement"
	UsageCounterHybrid    = "hybrid"
)

// Configuration contains all configuration options. It is instantiated from
// YAML.
type Configuration struct {
	Quota         QuotaConfiguration         `yaml:"quota"`
	UnifiedLimits UnifiedLimitsConfiguration `yaml:"unified_limits"`
}

// QuotaConfiguration appears in type Configuration.
type QuotaConfiguration struct {
	Driver                      string           `yaml:"driver"`
	UsageCounter                string           `yaml:"usage_counter"`
	InstanceListPerProjectCells bool             `yaml:"instance_list_per_project_cells"`
	CellTimeout                 Duration         `yaml:"cell_timeout"`
	MaxConcurrentCells          int              `yaml:"max_concurrent_cells"`
	Defaults                    map[string]int64 `yaml:"defaults"`
}

// UnifiedLimitsConfiguration appears in type Configuration. It selects the
// limits that belong to this compute service in Keystone.
type UnifiedLimitsConfiguration struct {
	ServiceID string `yaml:"service_id"`
	RegionID  string `yaml:"region_id"`
}

// Duration is a time.Duration that can be read from YAML strings like "60s".
type Duration time.Duration

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var input string
	err := unmarshal(&input)
	if err != nil {
		return err
	}
	parsed, err := time.ParseDuration(input)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// DefaultQuotaLimits returns the default limits for each quota flag.
func DefaultQuotaLimits() map[string]int64 {
	return map[string]int64{
		"instances":                   10,
		"cores":                       20,
		"ram":                         50 * 1024,
		"metadata_items":              128,
		"injected_files":              5,
		"injected_file_content_bytes": 10 * 1024,
		"injected_file_path_length":   255,
		"key_pairs":                   100,
		"server_groups":               10,
		"server_group_members":        10,
	}
}

// NewConfiguration returns a configuration with all defaults filled in.
func NewConfiguration() Configuration {
	return Configuration{
		Quota: QuotaConfiguration{
			Driver:             "db",
			UsageCounter:       UsageCounterHybrid,
			CellTimeout:        Duration(60 * time.Second),
			MaxConcurrentCells: 8,
			Defaults:           DefaultQuotaLimits(),
		},
	}
}

// ParseConfiguration reads a configuration from YAML. Missing options are
// filled with their defaults.
func ParseConfiguration(buf []byte) (Configuration, ErrorSet) {
	cfg := NewConfiguration()
	userDefaults := cfg.Quota.Defaults
	cfg.Quota.Defaults = nil

	err := yaml.UnmarshalStrict(buf, &cfg)
	if err != nil {
		return Configuration{}, ErrorSet{fmt.Errorf("parse configuration: %w", err)}
	}

	//partial `defaults` sections only override the given flags
	for flag, value := range cfg.Quota.Defaults {
		userDefaults[flag] = value
	}
	cfg.Quota.Defaults = userDefaults

	errs := cfg.validate()
	if !errs.IsEmpty() {
		return Configuration{}, errs
	}
	return cfg, nil
}

// LoadConfiguration reads the configuration file at the given path.
func LoadConfiguration(path string) (Configuration, ErrorSet) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return Configuration{}, ErrorSet{fmt.Errorf("read configuration: %w", err)}
	}
	return ParseConfiguration(buf)
}

func (cfg Configuration) validate() (errs ErrorSet) {
	switch cfg.Quota.Driver {
	case "":
		errs.Addf("missing configuration value: quota.driver")
	default:
		if !DriverRegistry.Has(cfg.Quota.Driver) {
			errs.Addf("invalid value for quota.driver: %q (known drivers: %v)", cfg.Quota.Driver, DriverRegistry.Names())
		}
	}

	switch cfg.Quota.UsageCounter {
	case UsageCounterLegacy, UsageCounterPlacement, UsageCounterHybrid:
	default:
		errs.Addf("invalid value for quota.usage_counter: %q", cfg.Quota.UsageCounter)
	}

	if cfg.Quota.CellTimeout <= 0 {
		errs.Addf("invalid value for quota.cell_timeout: must be positive")
	}
	if cfg.Quota.MaxConcurrentCells <= 0 {
		errs.Addf("invalid value for quota.max_concurrent_cells: %d (must be > 0)", cfg.Quota.MaxConcurrentCells)
	}

	flags := make([]string, 0, len(cfg.Quota.Defaults))
	for flag := range cfg.Quota.Defaults {
		flags = append(flags, flag)
	}
	sort.Strings(flags)
	for _, flag := range flags {
		if cfg.Quota.Defaults[flag] < Unlimited {
			errs.Addf("invalid value for quota.defaults.%s: %d (must be >= -1)", flag, cfg.Quota.Defaults[flag])
		}
	}

	if cfg.Quota.Driver == "unified_limits" && cfg.UnifiedLimits.ServiceID == "" {
		errs.Addf("missing configuration value: unified_limits.service_id (required for quota.driver = unified_limits)")
	}
	return errs
}

////////////////////////////////////////////////////////////////////////////////
// live configuration

// LiveConfiguration holds the current Configuration. It can be swapped at
// runtime, e.g. on SIGHUP. Readers always see a complete configuration.
type LiveConfiguration struct {
	current  atomic.Pointer[Configuration]
	path     string
	reloadMu sync.Mutex
}

// NewLiveConfiguration wraps a fixed Configuration. Reload() is not supported
// on the result.
func NewLiveConfiguration(cfg Configuration) *LiveConfiguration {
	lc := &LiveConfiguration{}
	lc.current.Store(&cfg)
	return lc
}

// NewLiveConfigurationFromFile loads the configuration at the given path. The
// same file is read again by Reload().
func NewLiveConfigurationFromFile(path string) (*LiveConfiguration, ErrorSet) {
	cfg, errs := LoadConfiguration(path)
	if !errs.IsEmpty() {
		return nil, errs
	}
	lc := &LiveConfiguration{path: path}
	lc.current.Store(&cfg)
	return lc, nil
}

// Get returns the current configuration.
func (lc *LiveConfiguration) Get() Configuration {
	return *lc.current.Load()
}

// Set replaces the current configuration.
func (lc *LiveConfiguration) Set(cfg Configuration) {
	lc.current.Store(&cfg)
}

// Reload reads the configuration file again. If the new configuration is
// invalid, the previous configuration stays in place.
func (lc *LiveConfiguration) Reload() ErrorSet {
	lc.reloadMu.Lock()
	defer lc.reloadMu.Unlock()
	if lc.path == "" {
		return ErrorSet{fmt.Errorf("cannot reload configuration: not loaded from a file")}
	}
	cfg, errs := LoadConfiguration(lc.path)
	if !errs.IsEmpty() {
		return errs
	}
	lc.current.Store(&cfg)
	return nil
}
