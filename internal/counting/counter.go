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

package counting

import (
	"context"

	"github.com/sapcc/go-bits/logg"

	"github.com/sapcc/nova-quota/internal/core"
)

// Backends contains the data sources for usage counting.
type Backends struct {
	Cells         core.CellSource
	Mappings      core.InstanceMappingStore
	BuildRequests core.BuildRequestStore
	KeyPairs      core.KeyPairStore
	Groups        core.InstanceGroupStore
	Inventory     core.InventoryClient
}

// Counter is a core.UsageCounter that dispatches to the strategy chosen by
// the `quota.usage_counter` option. The option is read on every call, so a
// configuration reload takes effect immediately.
type Counter struct {
	config    *core.LiveConfiguration
	gate      *MigrationGate
	legacy    *LegacyCounter
	inventory *InventoryCounter
	hybrid    *HybridCounter
}

// NewCounter builds a Counter.
func NewCounter(cfg *core.LiveConfiguration, b Backends) *Counter {
	legacy := &LegacyCounter{
		Config:        cfg,
		Cells:         b.Cells,
		BuildRequests: b.BuildRequests,
		KeyPairs:      b.KeyPairs,
		Groups:        b.Groups,
	}
	inventory := &InventoryCounter{
		Mappings:  b.Mappings,
		Inventory: b.Inventory,
		KeyPairs:  b.KeyPairs,
		Groups:    b.Groups,
	}
	gate := NewMigrationGate(b.Mappings)
	return &Counter{
		config:    cfg,
		gate:      gate,
		legacy:    legacy,
		inventory: inventory,
		hybrid:    &HybridCounter{Legacy: legacy, Inventory: inventory, Gate: gate},
	}
}

// Gate returns the MigrationGate used by the hybrid strategy.
func (c *Counter) Gate() *MigrationGate {
	return c.gate
}

func (c *Counter) strategy() core.UsageCounter {
	name := c.config.Get().Quota.UsageCounter
	if name == core.UsageCounterLegacy {
		return c.legacy
	}
	// the Placement client is only available when OpenStack credentials were given at startup
	if c.inventory.Inventory == nil {
		logg.Other("WARNING", "cannot use usage counter %q without a Placement client, falling back to legacy quota counting", name)
		legacyFallbackCounter.WithLabelValues("instances").Inc()
		return c.legacy
	}
	if name == core.UsageCounterPlacement {
		return c.inventory
	}
	return c.hybrid
}

// CountInstancesCoresRAM implements the core.UsageCounter interface.
func (c *Counter) CountInstancesCoresRAM(ctx context.Context, projectID, userID string) (core.UsageCount, error) {
	return c.strategy().CountInstancesCoresRAM(ctx, projectID, userID)
}

// CountKeyPairs implements the core.UsageCounter interface.
func (c *Counter) CountKeyPairs(ctx context.Context, userID string) (core.UsageCount, error) {
	return c.strategy().CountKeyPairs(ctx, userID)
}

// CountServerGroups implements the core.UsageCounter interface.
func (c *Counter) CountServerGroups(ctx context.Context, projectID, userID string) (core.UsageCount, error) {
	return c.strategy().CountServerGroups(ctx, projectID, userID)
}

// CountServerGroupMembers implements the core.UsageCounter interface.
func (c *Counter) CountServerGroupMembers(ctx context.Context, group core.InstanceGroup, userID string) (core.UsageCount, error) {
	return c.strategy().CountServerGroupMembers(ctx, group, userID)
}
