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

// HybridCounter counts through the InventoryCounter once the MigrationGate
// allows it, and through the LegacyCounter otherwise. Key pairs and server
// groups are counted the same way by both, so they are not gated.
type HybridCounter struct {
	Legacy    *LegacyCounter
	Inventory *InventoryCounter
	Gate      *MigrationGate
}

// CountInstancesCoresRAM implements the core.UsageCounter interface.
func (c *HybridCounter) CountInstancesCoresRAM(ctx context.Context, projectID, userID string) (core.UsageCount, error) {
	populated, err := c.Gate.ProjectPopulated(ctx, projectID)
	if err != nil {
		return core.UsageCount{}, err
	}
	if populated {
		return c.Inventory.CountInstancesCoresRAM(ctx, projectID, userID)
	}

	logg.Other("WARNING", "falling back to legacy quota counting method for instances, cores, and ram")
	legacyFallbackCounter.WithLabelValues("instances").Inc()
	return c.Legacy.CountInstancesCoresRAM(ctx, projectID, userID)
}

// CountKeyPairs implements the core.UsageCounter interface.
func (c *HybridCounter) CountKeyPairs(ctx context.Context, userID string) (core.UsageCount, error) {
	return c.Inventory.CountKeyPairs(ctx, userID)
}

// CountServerGroups implements the core.UsageCounter interface.
func (c *HybridCounter) CountServerGroups(ctx context.Context, projectID, userID string) (core.UsageCount, error) {
	return c.Inventory.CountServerGroups(ctx, projectID, userID)
}

// CountServerGroupMembers implements the core.UsageCounter interface. Server
// group members are not scoped to a project, so the gate is checked across
// all projects.
func (c *HybridCounter) CountServerGroupMembers(ctx context.Context, group core.InstanceGroup, userID string) (core.UsageCount, error) {
	populated, err := c.Gate.AllPopulated(ctx)
	if err != nil {
		return core.UsageCount{}, err
	}
	if populated {
		return c.Inventory.CountServerGroupMembers(ctx, group, userID)
	}

	logg.Other("WARNING", "falling back to legacy quota counting method for server group members")
	legacyFallbackCounter.WithLabelValues("server_group_members").Inc()
	return c.Legacy.CountServerGroupMembers(ctx, group, userID)
}
