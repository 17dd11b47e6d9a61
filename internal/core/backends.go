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

import "context"

// DefaultQuotaClass is the name of the quota class whose limits override the
// configured defaults.
const DefaultQuotaClass = "default"

// UserQuota is a per-user quota override inside a project.
type UserQuota struct {
	UserID    string
	Resource  string
	HardLimit int64
}

// QuotaStore is the part of the API database that holds quota overrides.
// All methods return maps of resource name to hard limit.
type QuotaStore interface {
	GetClassQuotas(ctx context.Context, className string) (map[string]int64, error)
	GetProjectQuotas(ctx context.Context, projectID string) (map[string]int64, error)
	GetProjectUserQuotas(ctx context.Context, projectID, userID string) (map[string]int64, error)
	//ListUserQuotas returns the per-user overrides of all users in the project.
	ListUserQuotas(ctx context.Context, projectID string) ([]UserQuota, error)
}

// Cell is a shard of the instance database.
type Cell struct {
	UUID string
	Name string
	DB   CellDatabase
}

// InstanceFilter selects instances in a cell database or build requests.
type InstanceFilter struct {
	UserID string
	UUIDs  []string
}

// CellDatabase is the counting contract of a single cell.
type CellDatabase interface {
	//CountInstances counts the instances, cores and RAM of all live instances
	//in the project. The user scope is only filled if userID is not empty.
	CountInstances(ctx context.Context, projectID, userID string) (UsageCount, error)
	//ListInstanceUUIDs lists the UUIDs of all live instances that match the filter.
	ListInstanceUUIDs(ctx context.Context, filter InstanceFilter) ([]string, error)
}

// CellSource enumerates cells.
type CellSource interface {
	ListCells(ctx context.Context) ([]Cell, error)
	//ListCellsForProject only returns cells where the project has instances.
	ListCellsForProject(ctx context.Context, projectID string) ([]Cell, error)
}

// MigrationChecker performs the existence check behind the migration gate.
type MigrationChecker interface {
	//UserIDQueuedForDeletePopulated returns whether user_id and
	//queued_for_delete are populated for all instance mappings of the given
	//project, or of all projects if projectID is empty.
	UserIDQueuedForDeletePopulated(ctx context.Context, projectID string) (bool, error)
}

// InstanceMappingStore is the part of the API database that maps instances to
// cells.
type InstanceMappingStore interface {
	MigrationChecker
	//CountInstances counts instance mappings that are not queued for delete.
	CountInstances(ctx context.Context, projectID, userID string) (UsageCount, error)
	CountInstancesByUUIDsAndUser(ctx context.Context, uuids []string, userID string) (int64, error)
}

// BuildRequestStore lists instances that are still being scheduled.
type BuildRequestStore interface {
	ListBuildRequestInstanceUUIDs(ctx context.Context, filter InstanceFilter) ([]string, error)
}

// KeyPairStore counts key pairs.
type KeyPairStore interface {
	CountKeyPairs(ctx context.Context, userID string) (int64, error)
}

// InstanceGroup is a server group.
type InstanceGroup struct {
	UUID      string
	ProjectID string
	UserID    string
	Members   []string
}

// InstanceGroupStore counts server groups.
type InstanceGroupStore interface {
	CountServerGroups(ctx context.Context, projectID, userID string) (UsageCount, error)
	GetInstanceGroup(ctx context.Context, uuid string) (*InstanceGroup, error)
}

// InventoryClient is the resource inventory service (Placement).
type InventoryClient interface {
	//GetUsageCountsForQuota returns cores and ram usage for the project and,
	//if userID is not empty, for the user.
	GetUsageCountsForQuota(ctx context.Context, projectID, userID string) (UsageCount, error)
}

// UsageCounter is a strategy for counting the usage of countable resources.
type UsageCounter interface {
	CountInstancesCoresRAM(ctx context.Context, projectID, userID string) (UsageCount, error)
	CountKeyPairs(ctx context.Context, userID string) (UsageCount, error)
	CountServerGroups(ctx context.Context, projectID, userID string) (UsageCount, error)
	CountServerGroupMembers(ctx context.Context, group InstanceGroup, userID string) (UsageCount, error)
}

// RegisteredLimit is a default limit from the unified limits service.
type RegisteredLimit struct {
	ResourceName string
	DefaultLimit int64
}

// ProjectLimit is a project-specific limit from the unified limits service.
type ProjectLimit struct {
	ProjectID     string
	ResourceName  string
	ResourceLimit int64
}

// LimitsClient is the unified limits API (Keystone).
type LimitsClient interface {
	ListRegisteredLimits(ctx context.Context) ([]RegisteredLimit, error)
	ListProjectLimits(ctx context.Context, projectID string) ([]ProjectLimit, error)
}

// UnifiedLimits translates unified limits into the resource names of the
// quota engine. All maps are keyed by resource name.
type UnifiedLimits interface {
	GetLegacyDefaultLimits(ctx context.Context) (map[string]int64, error)
	GetLegacyProjectLimits(ctx context.Context, projectID string) (map[string]int64, error)
	GetInUse(ctx context.Context, projectID string) (map[string]int64, error)
}
