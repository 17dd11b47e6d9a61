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
	"errors"
	"testing"
	"time"

	"github.com/sapcc/go-bits/assert"

	"github.com/sapcc/nova-quota/internal/core"
	"github.com/sapcc/nova-quota/internal/test"
)

func testConfig(modify func(*core.QuotaConfiguration)) *core.LiveConfiguration {
	cfg := core.NewConfiguration()
	cfg.Quota.CellTimeout = core.Duration(50 * time.Millisecond)
	if modify != nil {
		modify(&cfg.Quota)
	}
	return core.NewLiveConfiguration(cfg)
}

func threeCells() (cells []core.Cell, dbs []*test.CellDatabase) {
	dbs = []*test.CellDatabase{
		{Instances: []test.Instance{
			{UUID: "i1", ProjectID: "p1", UserID: "u1", VCPUs: 2, MemoryMB: 2048},
			{UUID: "i2", ProjectID: "p1", UserID: "u2", VCPUs: 4, MemoryMB: 4096},
			{UUID: "i3", ProjectID: "p1", UserID: "u1", VCPUs: 8, MemoryMB: 8192, Deleted: true},
		}},
		{Instances: []test.Instance{
			{UUID: "i4", ProjectID: "p1", UserID: "u1", VCPUs: 1, MemoryMB: 512},
			{UUID: "i5", ProjectID: "p1", UserID: "u1", VCPUs: 1, MemoryMB: 512, SoftDeleted: true},
			{UUID: "i6", ProjectID: "p2", UserID: "u3", VCPUs: 16, MemoryMB: 32768},
		}},
		{Instances: []test.Instance{
			{UUID: "i7", ProjectID: "p1", UserID: "u2", VCPUs: 32, MemoryMB: 65536},
		}},
	}
	for idx, db := range dbs {
		uuid := []string{"cell1", "cell2", "cell3"}[idx]
		cells = append(cells, core.Cell{UUID: uuid, Name: uuid, DB: db})
	}
	return cells, dbs
}

func TestLegacyCountSumsAllCells(t *testing.T) {
	cells, _ := threeCells()
	counter := &LegacyCounter{
		Config: testConfig(nil),
		Cells:  &test.CellSource{Cells: cells},
	}

	count, err := counter.CountInstancesCoresRAM(context.Background(), "p1", "u1")
	if err != nil {
		t.Fatal(err.Error())
	}
	assert.DeepEqual(t, "project usage", count.Project, map[string]int64{"instances": 4, "cores": 39, "ram": 72192})
	assert.DeepEqual(t, "user usage", count.User, map[string]int64{"instances": 2, "cores": 3, "ram": 2560})

	count, err = counter.CountInstancesCoresRAM(context.Background(), "p2", "")
	if err != nil {
		t.Fatal(err.Error())
	}
	assert.DeepEqual(t, "project usage without user", count.Project, map[string]int64{"instances": 1, "cores": 16, "ram": 32768})
	assert.DeepEqual(t, "no user scope", count.User == nil, true)
}

func TestLegacyCountSkipsFailedCells(t *testing.T) {
	cells, dbs := threeCells()
	dbs[2].Err = errors.New("connection refused")
	counter := &LegacyCounter{
		Config: testConfig(nil),
		Cells:  &test.CellSource{Cells: cells},
	}
	count, err := counter.CountInstancesCoresRAM(context.Background(), "p1", "")
	if err != nil {
		t.Fatal(err.Error())
	}
	assert.DeepEqual(t, "usage without cell3", count.Project, map[string]int64{"instances": 3, "cores": 7, "ram": 6656})

	// a hanging cell is treated like a failed one
	dbs[2].Err = nil
	dbs[2].Hang = true
	start := time.Now()
	count, err = counter.CountInstancesCoresRAM(context.Background(), "p1", "")
	if err != nil {
		t.Fatal(err.Error())
	}
	assert.DeepEqual(t, "usage without slow cell3", count.Project, map[string]int64{"instances": 3, "cores": 7, "ram": 6656})
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("expected the slow cell to time out quickly, but counting took %s", elapsed)
	}

	// so is a panicking cell
	dbs[2].Hang = false
	dbs[2].Panic = true
	count, err = counter.CountInstancesCoresRAM(context.Background(), "p1", "")
	if err != nil {
		t.Fatal(err.Error())
	}
	assert.DeepEqual(t, "usage without panicking cell3", count.Project, map[string]int64{"instances": 3, "cores": 7, "ram": 6656})
}

func TestLegacyCountPerProjectCells(t *testing.T) {
	cells, dbs := threeCells()
	counter := &LegacyCounter{
		Config: testConfig(func(cfg *core.QuotaConfiguration) { cfg.InstanceListPerProjectCells = true }),
		Cells: &test.CellSource{
			Cells:        cells,
			ProjectCells: map[string][]string{"p2": {"cell2"}},
		},
	}
	count, err := counter.CountInstancesCoresRAM(context.Background(), "p2", "")
	if err != nil {
		t.Fatal(err.Error())
	}
	assert.DeepEqual(t, "project usage", count.Project, map[string]int64{"instances": 1, "cores": 16, "ram": 32768})
	assert.DeepEqual(t, "queries in cell1", dbs[0].Queries.Load(), int32(0))
	assert.DeepEqual(t, "queries in cell2", dbs[1].Queries.Load(), int32(1))
	assert.DeepEqual(t, "queries in cell3", dbs[2].Queries.Load(), int32(0))
}

func TestLegacyServerGroupMembers(t *testing.T) {
	cells, dbs := threeCells()
	dbs[1].Err = errors.New("cell is down")
	mappings := &test.InstanceMappings{
		BuildRequests: []test.InstanceMapping{
			{InstanceUUID: "i1", ProjectID: "p1", UserID: "u1"}, //also in cell1
			{InstanceUUID: "i8", ProjectID: "p1", UserID: "u1"},
			{InstanceUUID: "i9", ProjectID: "p1", UserID: "u1"}, //not a member
		},
	}
	counter := &LegacyCounter{
		Config:        testConfig(nil),
		Cells:         &test.CellSource{Cells: cells},
		BuildRequests: mappings,
	}

	group := core.InstanceGroup{UUID: "g1", ProjectID: "p1", Members: []string{"i1", "i2", "i3", "i4", "i8"}}
	count, err := counter.CountServerGroupMembers(context.Background(), group, "u1")
	if err != nil {
		t.Fatal(err.Error())
	}
	// i1 (cell1 + build request), i8 (build request); i3 is deleted, i4 is in the failed cell
	assert.DeepEqual(t, "member count", count.User, map[string]int64{"server_group_members": 2})
	assert.DeepEqual(t, "no project scope", count.Project == nil, true)
}

func TestMigrationGate(t *testing.T) {
	mappings := &test.InstanceMappings{}
	mappings.Add("i1", "p1", "u1", false)
	mappings.AddUnmigrated("i2", "p2")
	gate := NewMigrationGate(mappings)
	ctx := context.Background()

	ok, err := gate.ProjectPopulated(ctx, "p1")
	assert.DeepEqual(t, "p1 populated", ok, true)
	assert.DeepEqual(t, "p1 error", err, nil)
	ok, _ = gate.ProjectPopulated(ctx, "p1")
	assert.DeepEqual(t, "p1 populated again", ok, true)
	assert.DeepEqual(t, "checks after p1 twice", mappings.PopulatedChecks.Load(), int32(1))

	ok, _ = gate.ProjectPopulated(ctx, "p2")
	assert.DeepEqual(t, "p2 not populated", ok, false)
	ok, _ = gate.ProjectPopulated(ctx, "p2")
	assert.DeepEqual(t, "p2 still not populated", ok, false)
	assert.DeepEqual(t, "negative results are not cached", mappings.PopulatedChecks.Load(), int32(3))

	ok, _ = gate.AllPopulated(ctx)
	assert.DeepEqual(t, "all not populated", ok, false)

	mappings.MigrateAll("u2")
	ok, _ = gate.AllPopulated(ctx)
	assert.DeepEqual(t, "all populated after migration", ok, true)

	// once all projects are known to be populated, no more checks are done
	checks := mappings.PopulatedChecks.Load()
	ok, _ = gate.ProjectPopulated(ctx, "p3")
	assert.DeepEqual(t, "p3 populated", ok, true)
	ok, _ = gate.AllPopulated(ctx)
	assert.DeepEqual(t, "all still populated", ok, true)
	assert.DeepEqual(t, "no further checks", mappings.PopulatedChecks.Load(), checks)

	// the cached state never reverts
	mappings.AddUnmigrated("i3", "p3")
	ok, _ = gate.ProjectPopulated(ctx, "p3")
	assert.DeepEqual(t, "p3 stays populated", ok, true)
}

func TestMigrationGateIgnoresDeletedMappings(t *testing.T) {
	mappings := &test.InstanceMappings{}
	mappings.Add("i1", "p1", "u1", false)
	// deleted before the migration ran, so user_id was never filled
	mappings.Add("i2", "p1", "", true)
	gate := NewMigrationGate(mappings)
	ctx := context.Background()

	ok, err := gate.ProjectPopulated(ctx, "p1")
	assert.DeepEqual(t, "error", err, nil)
	assert.DeepEqual(t, "p1 populated", ok, true)
	ok, _ = gate.AllPopulated(ctx)
	assert.DeepEqual(t, "all populated", ok, true)

	// a live mapping without user_id still blocks the gate
	mappings.Add("i3", "p2", "", false)
	ok, _ = NewMigrationGate(mappings).ProjectPopulated(ctx, "p2")
	assert.DeepEqual(t, "p2 not populated", ok, false)
}

func TestHybridCounter(t *testing.T) {
	cells, _ := threeCells()
	mappings := &test.InstanceMappings{}
	mappings.AddUnmigrated("i1", "p1")
	mappings.AddUnmigrated("i2", "p1")

	cfg := testConfig(nil)
	counter := NewCounter(cfg, Backends{
		Cells:         &test.CellSource{Cells: cells},
		Mappings:      mappings,
		BuildRequests: mappings,
		KeyPairs:      test.KeyPairStore{"u1": 3},
		Groups: test.InstanceGroupStore{
			{UUID: "g1", ProjectID: "p1", UserID: "u1"},
			{UUID: "g2", ProjectID: "p1", UserID: "u2"},
		},
		Inventory: &test.InventoryClient{
			ProjectUsage: map[string]map[string]int64{"p1": {"cores": 100, "ram": 1000}},
			UserUsage:    map[string]map[string]map[string]int64{"p1": {"u1": {"cores": 10, "ram": 100}}},
		},
	})
	ctx := context.Background()

	// before the migration, the cells are scanned
	count, err := counter.CountInstancesCoresRAM(ctx, "p1", "u1")
	if err != nil {
		t.Fatal(err.Error())
	}
	assert.DeepEqual(t, "legacy project usage", count.Project, map[string]int64{"instances": 4, "cores": 39, "ram": 72192})

	// afterwards, instance mappings and inventory are used
	mappings.MigrateAll("u1")
	count, err = counter.CountInstancesCoresRAM(ctx, "p1", "u1")
	if err != nil {
		t.Fatal(err.Error())
	}
	assert.DeepEqual(t, "inventory project usage", count.Project, map[string]int64{"instances": 2, "cores": 100, "ram": 1000})
	assert.DeepEqual(t, "inventory user usage", count.User, map[string]int64{"instances": 2, "cores": 10, "ram": 100})

	// the strategy can be forced through the configuration
	c := cfg.Get()
	c.Quota.UsageCounter = core.UsageCounterLegacy
	cfg.Set(c)
	count, err = counter.CountInstancesCoresRAM(ctx, "p1", "")
	if err != nil {
		t.Fatal(err.Error())
	}
	assert.DeepEqual(t, "forced legacy usage", count.Project, map[string]int64{"instances": 4, "cores": 39, "ram": 72192})

	// key pairs and server groups do not depend on the strategy
	count, _ = counter.CountKeyPairs(ctx, "u1")
	assert.DeepEqual(t, "key pairs", count.User, map[string]int64{"key_pairs": 3})
	count, _ = counter.CountServerGroups(ctx, "p1", "u2")
	assert.DeepEqual(t, "server groups", count, core.UsageCount{
		Project: map[string]int64{"server_groups": 2},
		User:    map[string]int64{"server_groups": 1},
	})
}

func TestCounterWithoutInventory(t *testing.T) {
	cells, _ := threeCells()
	mappings := &test.InstanceMappings{}
	mappings.Add("i1", "p1", "u1", false)

	cfg := testConfig(func(q *core.QuotaConfiguration) {
		q.UsageCounter = core.UsageCounterLegacy
	})
	counter := NewCounter(cfg, Backends{
		Cells:         &test.CellSource{Cells: cells},
		Mappings:      mappings,
		BuildRequests: mappings,
	})
	ctx := context.Background()

	// switching away from legacy counting without a Placement client keeps scanning the cells
	for _, name := range []string{core.UsageCounterPlacement, core.UsageCounterHybrid} {
		c := cfg.Get()
		c.Quota.UsageCounter = name
		cfg.Set(c)
		count, err := counter.CountInstancesCoresRAM(ctx, "p1", "")
		if err != nil {
			t.Fatal(err.Error())
		}
		assert.DeepEqual(t, "legacy usage with "+name, count.Project, map[string]int64{"instances": 4, "cores": 39, "ram": 72192})
	}
}

func TestHybridServerGroupMembers(t *testing.T) {
	cells, _ := threeCells()
	mappings := &test.InstanceMappings{}
	mappings.Add("i1", "p1", "u1", false)
	mappings.Add("i4", "p1", "u1", true)
	mappings.AddUnmigrated("i6", "p2")

	counter := &HybridCounter{
		Legacy: &LegacyCounter{
			Config:        testConfig(nil),
			Cells:         &test.CellSource{Cells: cells},
			BuildRequests: mappings,
		},
		Inventory: &InventoryCounter{Mappings: mappings},
		Gate:      NewMigrationGate(mappings),
	}
	group := core.InstanceGroup{UUID: "g1", Members: []string{"i1", "i4"}}
	ctx := context.Background()

	// p2 is not migrated, so the legacy path finds both members in the cells
	count, err := counter.CountServerGroupMembers(ctx, group, "u1")
	if err != nil {
		t.Fatal(err.Error())
	}
	assert.DeepEqual(t, "legacy member count", count.User, map[string]int64{"server_group_members": 2})

	// after migration, the mapping of i4 is queued for delete
	mappings.MigrateAll("u3")
	count, err = counter.CountServerGroupMembers(ctx, group, "u1")
	if err != nil {
		t.Fatal(err.Error())
	}
	assert.DeepEqual(t, "inventory member count", count.User, map[string]int64{"server_group_members": 1})
}

func TestScatterGatherKeepsAllCells(t *testing.T) {
	cells := []core.Cell{{UUID: "a"}, {UUID: "b"}, test.SlowCell("c")}
	results := ScatterGather(context.Background(), cells, ScatterGatherOptions{Timeout: 20 * time.Millisecond, MaxConcurrency: 1},
		func(ctx context.Context, cell core.Cell) (string, error) {
			if cell.DB != nil {
				_, err := cell.DB.CountInstances(ctx, "p1", "")
				return "", err
			}
			return cell.UUID + "!", nil
		})
	assert.DeepEqual(t, "result count", len(results), 3)
	assert.DeepEqual(t, "result a", results["a"], CellResult[string]{Value: "a!"})
	assert.DeepEqual(t, "result b", results["b"], CellResult[string]{Value: "b!"})
	assert.DeepEqual(t, "result c", results["c"].Err, ErrCellTimeout)
}
