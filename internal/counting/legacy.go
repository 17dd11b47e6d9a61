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
	"time"

	"github.com/sapcc/go-bits/logg"

	"github.com/sapcc/nova-quota/internal/core"
)

// LegacyCounter counts usage by querying every cell database. Cells that fail
// or time out are skipped, so usage in unreachable cells is not counted.
type LegacyCounter struct {
	Config        *core.LiveConfiguration
	Cells         core.CellSource
	BuildRequests core.BuildRequestStore
	KeyPairs      core.KeyPairStore
	Groups        core.InstanceGroupStore
}

func (c *LegacyCounter) scatterOptions() ScatterGatherOptions {
	cfg := c.Config.Get().Quota
	return ScatterGatherOptions{
		Timeout:        time.Duration(cfg.CellTimeout),
		MaxConcurrency: cfg.MaxConcurrentCells,
	}
}

// CountInstancesCoresRAM implements the core.UsageCounter interface.
func (c *LegacyCounter) CountInstancesCoresRAM(ctx context.Context, projectID, userID string) (core.UsageCount, error) {
	var (
		cells []core.Cell
		err   error
	)
	if c.Config.Get().Quota.InstanceListPerProjectCells {
		cells, err = c.Cells.ListCellsForProject(ctx, projectID)
	} else {
		cells, err = c.Cells.ListCells(ctx)
	}
	if err != nil {
		return core.UsageCount{}, err
	}

	results := ScatterGather(ctx, cells, c.scatterOptions(), func(ctx context.Context, cell core.Cell) (core.UsageCount, error) {
		return cell.DB.CountInstances(ctx, projectID, userID)
	})
	if err := cellFailures(results); err != nil {
		logg.Other("WARNING", "usage of project %s in some cells was not counted: %s", projectID, err.Error())
	}

	total := core.UsageCount{Project: zeroInstancesCoresRAM()}
	if userID != "" {
		total.User = zeroInstancesCoresRAM()
	}
	for _, result := range results {
		if result.Err == nil {
			total.AddInto(result.Value)
		}
	}
	return total, nil
}

func zeroInstancesCoresRAM() map[string]int64 {
	return map[string]int64{
		core.ResourceInstances: 0,
		core.ResourceCores:     0,
		core.ResourceRAM:       0,
	}
}

// CountKeyPairs implements the core.UsageCounter interface.
func (c *LegacyCounter) CountKeyPairs(ctx context.Context, userID string) (core.UsageCount, error) {
	return countKeyPairs(ctx, c.KeyPairs, userID)
}

// CountServerGroups implements the core.UsageCounter interface.
func (c *LegacyCounter) CountServerGroups(ctx context.Context, projectID, userID string) (core.UsageCount, error) {
	return c.Groups.CountServerGroups(ctx, projectID, userID)
}

// CountServerGroupMembers implements the core.UsageCounter interface. Members
// are counted as the union of live instances in all cells and pending build
// requests, since an instance can briefly appear in both places.
func (c *LegacyCounter) CountServerGroupMembers(ctx context.Context, group core.InstanceGroup, userID string) (core.UsageCount, error) {
	filter := core.InstanceFilter{UserID: userID, UUIDs: group.Members}

	cells, err := c.Cells.ListCells(ctx)
	if err != nil {
		return core.UsageCount{}, err
	}
	results := ScatterGather(ctx, cells, c.scatterOptions(), func(ctx context.Context, cell core.Cell) ([]string, error) {
		return cell.DB.ListInstanceUUIDs(ctx, filter)
	})
	if err := cellFailures(results); err != nil {
		logg.Other("WARNING", "members of server group %s in some cells were not counted: %s", group.UUID, err.Error())
	}

	members := make(map[string]struct{})
	for _, result := range results {
		if result.Err == nil {
			for _, uuid := range result.Value {
				members[uuid] = struct{}{}
			}
		}
	}

	uuids, err := c.BuildRequests.ListBuildRequestInstanceUUIDs(ctx, filter)
	if err != nil {
		return core.UsageCount{}, err
	}
	for _, uuid := range uuids {
		members[uuid] = struct{}{}
	}

	return core.UsageCount{
		User: map[string]int64{core.ResourceServerGroupMembers: int64(len(members))},
	}, nil
}

func countKeyPairs(ctx context.Context, store core.KeyPairStore, userID string) (core.UsageCount, error) {
	count, err := store.CountKeyPairs(ctx, userID)
	if err != nil {
		return core.UsageCount{}, err
	}
	return core.UsageCount{
		User: map[string]int64{core.ResourceKeyPairs: count},
	}, nil
}
