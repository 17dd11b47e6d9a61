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
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/sapcc/nova-quota/internal/core"
)

////////////////////////////////////////////////////////////////////////////////
// QuotaStore

// QuotaStore is an in-memory core.QuotaStore.
type QuotaStore struct {
	Classes  map[string]map[string]int64            // class -> resource -> limit
	Projects map[string]map[string]int64            // project -> resource -> limit
	Users    map[string]map[string]map[string]int64 // project -> user -> resource -> limit
}

// NewQuotaStore builds an empty QuotaStore.
func NewQuotaStore() *QuotaStore {
	return &QuotaStore{
		Classes:  make(map[string]map[string]int64),
		Projects: make(map[string]map[string]int64),
		Users:    make(map[string]map[string]map[string]int64),
	}
}

// SetUserQuota adds a per-user override.
func (s *QuotaStore) SetUserQuota(projectID, userID, resource string, limit int64) {
	if s.Users[projectID] == nil {
		s.Users[projectID] = make(map[string]map[string]int64)
	}
	if s.Users[projectID][userID] == nil {
		s.Users[projectID][userID] = make(map[string]int64)
	}
	s.Users[projectID][userID][resource] = limit
}

func copyLimits(in map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// GetClassQuotas implements the core.QuotaStore interface.
func (s *QuotaStore) GetClassQuotas(_ context.Context, className string) (map[string]int64, error) {
	return copyLimits(s.Classes[className]), nil
}

// GetProjectQuotas implements the core.QuotaStore interface.
func (s *QuotaStore) GetProjectQuotas(_ context.Context, projectID string) (map[string]int64, error) {
	return copyLimits(s.Projects[projectID]), nil
}

// GetProjectUserQuotas implements the core.QuotaStore interface.
func (s *QuotaStore) GetProjectUserQuotas(_ context.Context, projectID, userID string) (map[string]int64, error) {
	return copyLimits(s.Users[projectID][userID]), nil
}

// ListUserQuotas implements the core.QuotaStore interface.
func (s *QuotaStore) ListUserQuotas(_ context.Context, projectID string) ([]core.UserQuota, error) {
	var result []core.UserQuota
	for userID, limits := range s.Users[projectID] {
		for resource, limit := range limits {
			result = append(result, core.UserQuota{UserID: userID, Resource: resource, HardLimit: limit})
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].UserID != result[j].UserID {
			return result[i].UserID < result[j].UserID
		}
		return result[i].Resource < result[j].Resource
	})
	return result, nil
}

////////////////////////////////////////////////////////////////////////////////
// cells

// Instance is an instance record in a CellDatabase.
type Instance struct {
	UUID        string
	ProjectID   string
	UserID      string
	VCPUs       int64
	MemoryMB    int64
	Deleted     bool
	SoftDeleted bool
}

// CellDatabase is an in-memory core.CellDatabase.
type CellDatabase struct {
	Instances []Instance
	//If set, all queries fail with this error.
	Err error
	//If set, all queries block until the context expires.
	Hang bool
	//If set, all queries panic.
	Panic bool

	Queries atomic.Int32
}

func (db *CellDatabase) enter(ctx context.Context) error {
	db.Queries.Add(1)
	if db.Panic {
		panic("cell database exploded")
	}
	if db.Hang {
		<-ctx.Done()
		return ctx.Err()
	}
	return db.Err
}

func (db *CellDatabase) liveInstances() []Instance {
	var result []Instance
	for _, inst := range db.Instances {
		if !inst.Deleted && !inst.SoftDeleted {
			result = append(result, inst)
		}
	}
	return result
}

// CountInstances implements the core.CellDatabase interface.
func (db *CellDatabase) CountInstances(ctx context.Context, projectID, userID string) (core.UsageCount, error) {
	if err := db.enter(ctx); err != nil {
		return core.UsageCount{}, err
	}
	count := func(match func(Instance) bool) map[string]int64 {
		result := map[string]int64{core.ResourceInstances: 0, core.ResourceCores: 0, core.ResourceRAM: 0}
		for _, inst := range db.liveInstances() {
			if match(inst) {
				result[core.ResourceInstances]++
				result[core.ResourceCores] += inst.VCPUs
				result[core.ResourceRAM] += inst.MemoryMB
			}
		}
		return result
	}

	result := core.UsageCount{
		Project: count(func(inst Instance) bool { return inst.ProjectID == projectID }),
	}
	if userID != "" {
		result.User = count(func(inst Instance) bool { return inst.ProjectID == projectID && inst.UserID == userID })
	}
	return result, nil
}

// ListInstanceUUIDs implements the core.CellDatabase interface.
func (db *CellDatabase) ListInstanceUUIDs(ctx context.Context, filter core.InstanceFilter) ([]string, error) {
	if err := db.enter(ctx); err != nil {
		return nil, err
	}
	var result []string
	for _, inst := range db.liveInstances() {
		if matchesFilter(inst.UUID, inst.UserID, filter) {
			result = append(result, inst.UUID)
		}
	}
	return result, nil
}

func matchesFilter(uuid, userID string, filter core.InstanceFilter) bool {
	if filter.UserID != "" && filter.UserID != userID {
		return false
	}
	for _, candidate := range filter.UUIDs {
		if candidate == uuid {
			return true
		}
	}
	return false
}

// CellSource is an in-memory core.CellSource.
type CellSource struct {
	Cells []core.Cell
	//Project ID -> UUIDs of cells where the project has instances.
	ProjectCells map[string][]string
}

// ListCells implements the core.CellSource interface.
func (s *CellSource) ListCells(_ context.Context) ([]core.Cell, error) {
	return s.Cells, nil
}

// ListCellsForProject implements the core.CellSource interface.
func (s *CellSource) ListCellsForProject(_ context.Context, projectID string) ([]core.Cell, error) {
	var result []core.Cell
	for _, cell := range s.Cells {
		for _, uuid := range s.ProjectCells[projectID] {
			if cell.UUID == uuid {
				result = append(result, cell)
			}
		}
	}
	return result, nil
}

////////////////////////////////////////////////////////////////////////////////
// API database

// InstanceMapping is a record in InstanceMappings.
type InstanceMapping struct {
	InstanceUUID    string
	ProjectID       string
	UserID          string //empty if not yet migrated
	QueuedForDelete *bool  //nil if not yet migrated
}

// InstanceMappings is an in-memory core.InstanceMappingStore, combined with
// core.BuildRequestStore.
type InstanceMappings struct {
	Mutex         sync.Mutex
	Mappings      []InstanceMapping
	BuildRequests []InstanceMapping

	PopulatedChecks atomic.Int32
}

// Add adds a fully migrated instance mapping.
func (m *InstanceMappings) Add(instanceUUID, projectID, userID string, queuedForDelete bool) {
	m.Mutex.Lock()
	defer m.Mutex.Unlock()
	m.Mappings = append(m.Mappings, InstanceMapping{instanceUUID, projectID, userID, &queuedForDelete})
}

// AddUnmigrated adds an instance mapping without user_id and queued_for_delete.
func (m *InstanceMappings) AddUnmigrated(instanceUUID, projectID string) {
	m.Mutex.Lock()
	defer m.Mutex.Unlock()
	m.Mappings = append(m.Mappings, InstanceMapping{InstanceUUID: instanceUUID, ProjectID: projectID})
}

// MigrateAll fills user_id and queued_for_delete on all mappings.
func (m *InstanceMappings) MigrateAll(userID string) {
	m.Mutex.Lock()
	defer m.Mutex.Unlock()
	for idx := range m.Mappings {
		if m.Mappings[idx].QueuedForDelete == nil {
			qfd := false
			m.Mappings[idx].QueuedForDelete = &qfd
			m.Mappings[idx].UserID = userID
		}
	}
}

// UserIDQueuedForDeletePopulated implements the core.InstanceMappingStore interface.
func (m *InstanceMappings) UserIDQueuedForDeletePopulated(_ context.Context, projectID string) (bool, error) {
	m.Mutex.Lock()
	defer m.Mutex.Unlock()
	m.PopulatedChecks.Add(1)
	for _, mapping := range m.Mappings {
		if projectID != "" && mapping.ProjectID != projectID {
			continue
		}
		if mapping.QueuedForDelete == nil || (mapping.UserID == "" && !*mapping.QueuedForDelete) {
			return false, nil
		}
	}
	return true, nil
}

func (m *InstanceMappings) liveMappings() []InstanceMapping {
	var result []InstanceMapping
	for _, mapping := range m.Mappings {
		if mapping.QueuedForDelete != nil && !*mapping.QueuedForDelete {
			result = append(result, mapping)
		}
	}
	return result
}

// CountInstances implements the core.InstanceMappingStore interface.
func (m *InstanceMappings) CountInstances(_ context.Context, projectID, userID string) (core.UsageCount, error) {
	m.Mutex.Lock()
	defer m.Mutex.Unlock()
	result := core.UsageCount{Project: map[string]int64{core.ResourceInstances: 0}}
	if userID != "" {
		result.User = map[string]int64{core.ResourceInstances: 0}
	}
	for _, mapping := range m.liveMappings() {
		if mapping.ProjectID != projectID {
			continue
		}
		result.Project[core.ResourceInstances]++
		if userID != "" && mapping.UserID == userID {
			result.User[core.ResourceInstances]++
		}
	}
	return result, nil
}

// CountInstancesByUUIDsAndUser implements the core.InstanceMappingStore interface.
func (m *InstanceMappings) CountInstancesByUUIDsAndUser(_ context.Context, uuids []string, userID string) (int64, error) {
	m.Mutex.Lock()
	defer m.Mutex.Unlock()
	var count int64
	for _, mapping := range m.liveMappings() {
		if matchesFilter(mapping.InstanceUUID, mapping.UserID, core.InstanceFilter{UserID: userID, UUIDs: uuids}) {
			count++
		}
	}
	return count, nil
}

// ListBuildRequestInstanceUUIDs implements the core.BuildRequestStore interface.
func (m *InstanceMappings) ListBuildRequestInstanceUUIDs(_ context.Context, filter core.InstanceFilter) ([]string, error) {
	m.Mutex.Lock()
	defer m.Mutex.Unlock()
	var result []string
	for _, req := range m.BuildRequests {
		if matchesFilter(req.InstanceUUID, req.UserID, filter) {
			result = append(result, req.InstanceUUID)
		}
	}
	return result, nil
}

// KeyPairStore is an in-memory core.KeyPairStore.
type KeyPairStore map[string]int64

// CountKeyPairs implements the core.KeyPairStore interface.
func (s KeyPairStore) CountKeyPairs(_ context.Context, userID string) (int64, error) {
	return s[userID], nil
}

// InstanceGroupStore is an in-memory core.InstanceGroupStore.
type InstanceGroupStore []core.InstanceGroup

// CountServerGroups implements the core.InstanceGroupStore interface.
func (s InstanceGroupStore) CountServerGroups(_ context.Context, projectID, userID string) (core.UsageCount, error) {
	result := core.UsageCount{Project: map[string]int64{core.ResourceServerGroups: 0}}
	if userID != "" {
		result.User = map[string]int64{core.ResourceServerGroups: 0}
	}
	for _, group := range s {
		if group.ProjectID != projectID {
			continue
		}
		result.Project[core.ResourceServerGroups]++
		if userID != "" && group.UserID == userID {
			result.User[core.ResourceServerGroups]++
		}
	}
	return result, nil
}

// GetInstanceGroup implements the core.InstanceGroupStore interface.
func (s InstanceGroupStore) GetInstanceGroup(_ context.Context, uuid string) (*core.InstanceGroup, error) {
	for _, group := range s {
		if group.UUID == uuid {
			g := group
			return &g, nil
		}
	}
	return nil, fmt.Errorf("no such server group: %s", uuid)
}

////////////////////////////////////////////////////////////////////////////////
// external services

// InventoryClient is an in-memory core.InventoryClient.
type InventoryClient struct {
	//Project ID -> resource -> usage.
	ProjectUsage map[string]map[string]int64
	//Project ID -> user ID -> resource -> usage.
	UserUsage map[string]map[string]map[string]int64
	Err       error
}

// GetUsageCountsForQuota implements the core.InventoryClient interface.
func (c *InventoryClient) GetUsageCountsForQuota(_ context.Context, projectID, userID string) (core.UsageCount, error) {
	if c.Err != nil {
		return core.UsageCount{}, c.Err
	}
	withZeros := func(usage map[string]int64) map[string]int64 {
		return map[string]int64{
			core.ResourceCores: usage[core.ResourceCores],
			core.ResourceRAM:   usage[core.ResourceRAM],
		}
	}
	result := core.UsageCount{Project: withZeros(c.ProjectUsage[projectID])}
	if userID != "" {
		result.User = withZeros(c.UserUsage[projectID][userID])
	}
	return result, nil
}

// UsageCounter is a core.UsageCounter that returns fixed counts.
type UsageCounter struct {
	//Project ID -> resource -> usage.
	Project map[string]map[string]int64
	//User ID -> resource -> usage.
	User map[string]map[string]int64
	//Group UUID -> user ID -> member count.
	Members map[string]map[string]int64

	Calls atomic.Int32
}

func (c *UsageCounter) pick(names []string, projectID, userID string) core.UsageCount {
	c.Calls.Add(1)
	result := core.UsageCount{Project: make(map[string]int64)}
	if userID != "" {
		result.User = make(map[string]int64)
	}
	for _, name := range names {
		if projectID != "" {
			result.Project[name] = c.Project[projectID][name]
		}
		if userID != "" {
			result.User[name] = c.User[userID][name]
		}
	}
	return result
}

// CountInstancesCoresRAM implements the core.UsageCounter interface.
func (c *UsageCounter) CountInstancesCoresRAM(_ context.Context, projectID, userID string) (core.UsageCount, error) {
	return c.pick([]string{core.ResourceInstances, core.ResourceCores, core.ResourceRAM}, projectID, userID), nil
}

// CountKeyPairs implements the core.UsageCounter interface.
func (c *UsageCounter) CountKeyPairs(_ context.Context, userID string) (core.UsageCount, error) {
	result := c.pick([]string{core.ResourceKeyPairs}, "", userID)
	result.Project = nil
	return result, nil
}

// CountServerGroups implements the core.UsageCounter interface.
func (c *UsageCounter) CountServerGroups(_ context.Context, projectID, userID string) (core.UsageCount, error) {
	return c.pick([]string{core.ResourceServerGroups}, projectID, userID), nil
}

// CountServerGroupMembers implements the core.UsageCounter interface.
func (c *UsageCounter) CountServerGroupMembers(_ context.Context, group core.InstanceGroup, userID string) (core.UsageCount, error) {
	c.Calls.Add(1)
	return core.UsageCount{
		User: map[string]int64{core.ResourceServerGroupMembers: c.Members[group.UUID][userID]},
	}, nil
}

// LimitsClient is an in-memory core.LimitsClient.
type LimitsClient struct {
	Registered []core.RegisteredLimit
	Projects   []core.ProjectLimit
}

// ListRegisteredLimits implements the core.LimitsClient interface.
func (c *LimitsClient) ListRegisteredLimits(_ context.Context) ([]core.RegisteredLimit, error) {
	return c.Registered, nil
}

// ListProjectLimits implements the core.LimitsClient interface.
func (c *LimitsClient) ListProjectLimits(_ context.Context, projectID string) ([]core.ProjectLimit, error) {
	var result []core.ProjectLimit
	for _, limit := range c.Projects {
		if limit.ProjectID == projectID {
			result = append(result, limit)
		}
	}
	return result, nil
}

// SlowCell returns a cell that hangs until the query times out.
func SlowCell(uuid string) core.Cell {
	return core.Cell{UUID: uuid, Name: uuid, DB: &CellDatabase{Hang: true}}
}
