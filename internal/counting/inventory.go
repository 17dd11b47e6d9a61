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

	"github.com/sapcc/nova-quota/internal/core"
)

// InventoryCounter counts instances from the instance mappings in the API
// database, and cores and RAM from the resource inventory service. This is
// only correct once the instance mappings are fully migrated (see
// MigrationGate).
type InventoryCounter struct {
	Mappings  core.InstanceMappingStore
	Inventory core.InventoryClient
	KeyPairs  core.KeyPairStore
	Groups    core.InstanceGroupStore
}

// CountInstancesCoresRAM implements the core.UsageCounter interface.
func (c *InventoryCounter) CountInstancesCoresRAM(ctx context.Context, projectID, userID string) (core.UsageCount, error) {
	total, err := c.Mappings.CountInstances(ctx, projectID, userID)
	if err != nil {
		return core.UsageCount{}, err
	}
	coresRAM, err := c.Inventory.GetUsageCountsForQuota(ctx, projectID, userID)
	if err != nil {
		return core.UsageCount{}, err
	}

	result := core.UsageCount{Project: mergeCounts(total.Project, coresRAM.Project)}
	if userID != "" {
		result.User = mergeCounts(total.User, coresRAM.User)
	}
	return result, nil
}

func mergeCounts(instances, coresRAM map[string]int64) map[string]int64 {
	result := make(map[string]int64, len(instances)+len(coresRAM))
	for name, count := range instances {
		result[name] = count
	}
	for name, count := range coresRAM {
		result[name] = count
	}
	return result
}

// CountKeyPairs implements the core.UsageCounter interface.
func (c *InventoryCounter) CountKeyPairs(ctx context.Context, userID string) (core.UsageCount, error) {
	return countKeyPairs(ctx, c.KeyPairs, userID)
}

// CountServerGroups implements the core.UsageCounter interface.
func (c *InventoryCounter) CountServerGroups(ctx context.Context, projectID, userID string) (core.UsageCount, error) {
	return c.Groups.CountServerGroups(ctx, projectID, userID)
}

// CountServerGroupMembers implements the core.UsageCounter interface.
func (c *InventoryCounter) CountServerGroupMembers(ctx context.Context, group core.InstanceGroup, userID string) (core.UsageCount, error) {
	count, err := c.Mappings.CountInstancesByUUIDsAndUser(ctx, group.Members, userID)
	if err != nil {
		return core.UsageCount{}, err
	}
	return core.UsageCount{
		User: map[string]int64{core.ResourceServerGroupMembers: count},
	}, nil
}
