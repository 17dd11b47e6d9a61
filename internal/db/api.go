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

package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/sapcc/go-bits/logg"
	gorp "gopkg.in/gorp.v2"

	"github.com/sapcc/nova-quota/internal/core"
)

//APIStore implements the stores of the engine that live in the API database:
//quota overrides, cell mappings, instance mappings, build requests, key pairs
//and server groups.
type APIStore struct {
	DB *gorp.DbMap
	//ConnectCell opens the database of a cell. Defaults to InitCell.
	ConnectCell func(connection string) (*gorp.DbMap, error)

	cellMutex sync.Mutex
	cellDBs   map[string]*CellStore //key = database connection string
}

//NewAPIStore builds an APIStore.
func NewAPIStore(dbMap *gorp.DbMap) *APIStore {
	return &APIStore{DB: dbMap, ConnectCell: InitCell}
}

func (s *APIStore) limitsQuery(ctx context.Context, query string, args ...interface{}) (map[string]int64, error) {
	result := make(map[string]int64)
	err := ForeachRow(s.DB.WithContext(ctx), query, args, func(rows *sql.Rows) error {
		var (
			resource  string
			hardLimit int64
		)
		err := rows.Scan(&resource, &hardLimit)
		if err != nil {
			return err
		}
		result[resource] = hardLimit
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

////////////////////////////////////////////////////////////////////////////////
// core.QuotaStore

var classQuotasQuery = `SELECT resource, hard_limit FROM quota_classes WHERE class_name = $1`

//GetClassQuotas implements the core.QuotaStore interface.
func (s *APIStore) GetClassQuotas(ctx context.Context, className string) (map[string]int64, error) {
	return s.limitsQuery(ctx, classQuotasQuery, className)
}

var projectQuotasQuery = `SELECT resource, hard_limit FROM quotas WHERE project_id = $1`

//GetProjectQuotas implements the core.QuotaStore interface.
func (s *APIStore) GetProjectQuotas(ctx context.Context, projectID string) (map[string]int64, error) {
	return s.limitsQuery(ctx, projectQuotasQuery, projectID)
}

var projectUserQuotasQuery = `SELECT resource, hard_limit FROM project_user_quotas WHERE project_id = $1 AND user_id = $2`

//GetProjectUserQuotas implements the core.QuotaStore interface.
func (s *APIStore) GetProjectUserQuotas(ctx context.Context, projectID, userID string) (map[string]int64, error) {
	return s.limitsQuery(ctx, projectUserQuotasQuery, projectID, userID)
}

var listUserQuotasQuery = `SELECT * FROM project_user_quotas WHERE project_id = $1 ORDER BY user_id, resource`

//ListUserQuotas implements the core.QuotaStore interface.
func (s *APIStore) ListUserQuotas(ctx context.Context, projectID string) ([]core.UserQuota, error) {
	var records []ProjectUserQuota
	_, err := s.DB.WithContext(ctx).Select(&records, listUserQuotasQuery, projectID)
	if err != nil {
		return nil, err
	}
	result := make([]core.UserQuota, len(records))
	for idx, record := range records {
		result[idx] = core.UserQuota{
			UserID:    record.UserID,
			Resource:  record.Resource,
			HardLimit: record.HardLimit,
		}
	}
	return result, nil
}

////////////////////////////////////////////////////////////////////////////////
// core.CellSource

var listCellsQuery = `SELECT * FROM cell_mappings ORDER BY id`

var listCellsForProjectQuery = `
	SELECT * FROM cell_mappings WHERE id IN (
		SELECT DISTINCT cell_id FROM instance_mappings WHERE project_id = $1
	) ORDER BY id
`

//ListCells implements the core.CellSource interface.
func (s *APIStore) ListCells(ctx context.Context) ([]core.Cell, error) {
	var mappings []CellMapping
	_, err := s.DB.WithContext(ctx).Select(&mappings, listCellsQuery)
	if err != nil {
		return nil, err
	}
	return s.connectCells(mappings)
}

//ListCellsForProject implements the core.CellSource interface.
func (s *APIStore) ListCellsForProject(ctx context.Context, projectID string) ([]core.Cell, error) {
	var mappings []CellMapping
	_, err := s.DB.WithContext(ctx).Select(&mappings, listCellsForProjectQuery, projectID)
	if err != nil {
		return nil, err
	}
	return s.connectCells(mappings)
}

//Cell connections are opened once and reused for the lifetime of the process.
func (s *APIStore) connectCells(mappings []CellMapping) ([]core.Cell, error) {
	s.cellMutex.Lock()
	defer s.cellMutex.Unlock()
	if s.cellDBs == nil {
		s.cellDBs = make(map[string]*CellStore)
	}

	result := make([]core.Cell, len(mappings))
	for idx, mapping := range mappings {
		store, exists := s.cellDBs[mapping.DatabaseConnection]
		if !exists {
			logg.Debug("connecting to database of cell %s (%s)", mapping.UUID, mapping.Name)
			dbMap, err := s.ConnectCell(mapping.DatabaseConnection)
			if err != nil {
				return nil, fmt.Errorf("cannot connect to database of cell %s: %w", mapping.UUID, err)
			}
			store = &CellStore{DB: dbMap}
			s.cellDBs[mapping.DatabaseConnection] = store
		}
		result[idx] = core.Cell{UUID: mapping.UUID, Name: mapping.Name, DB: store}
	}
	return result, nil
}

////////////////////////////////////////////////////////////////////////////////
// core.InstanceMappingStore

//The online data migration fills user_id and queued_for_delete. Mappings of
//deleted instances do not need a user_id.
var unmigratedMappingsQuery = `
	SELECT EXISTS (
		SELECT 1 FROM instance_mappings
		 WHERE (queued_for_delete IS NULL OR (user_id IS NULL AND queued_for_delete = FALSE))
	)
`

var unmigratedMappingsOfProjectQuery = `
	SELECT EXISTS (
		SELECT 1 FROM instance_mappings
		 WHERE project_id = $1 AND (queued_for_delete IS NULL OR (user_id IS NULL AND queued_for_delete = FALSE))
	)
`

//UserIDQueuedForDeletePopulated implements the core.MigrationChecker interface.
func (s *APIStore) UserIDQueuedForDeletePopulated(ctx context.Context, projectID string) (bool, error) {
	var (
		unmigrated bool
		err        error
	)
	if projectID == "" {
		err = s.DB.WithContext(ctx).QueryRow(unmigratedMappingsQuery).Scan(&unmigrated)
	} else {
		err = s.DB.WithContext(ctx).QueryRow(unmigratedMappingsOfProjectQuery, projectID).Scan(&unmigrated)
	}
	return !unmigrated, err
}

var countMappingsQuery = `SELECT COUNT(*) FROM instance_mappings WHERE project_id = $1 AND queued_for_delete = FALSE`

var countMappingsOfUserQuery = `SELECT COUNT(*) FROM instance_mappings WHERE project_id = $1 AND user_id = $2 AND queued_for_delete = FALSE`

//CountInstances implements the core.InstanceMappingStore interface.
func (s *APIStore) CountInstances(ctx context.Context, projectID, userID string) (core.UsageCount, error) {
	dbi := s.DB.WithContext(ctx)
	count, err := dbi.SelectInt(countMappingsQuery, projectID)
	if err != nil {
		return core.UsageCount{}, err
	}
	result := core.UsageCount{Project: map[string]int64{core.ResourceInstances: count}}

	if userID != "" {
		count, err := dbi.SelectInt(countMappingsOfUserQuery, projectID, userID)
		if err != nil {
			return core.UsageCount{}, err
		}
		result.User = map[string]int64{core.ResourceInstances: count}
	}
	return result, nil
}

//CountInstancesByUUIDsAndUser implements the core.InstanceMappingStore interface.
func (s *APIStore) CountInstancesByUUIDsAndUser(ctx context.Context, uuids []string, userID string) (int64, error) {
	fields := instanceFilterFields("instance_uuid", uuids, userID)
	fields["queued_for_delete"] = false
	whereStr, args := BuildSimpleWhereClause(fields, 0)
	return s.DB.WithContext(ctx).SelectInt(`SELECT COUNT(*) FROM instance_mappings WHERE `+whereStr, args...)
}

////////////////////////////////////////////////////////////////////////////////
// core.BuildRequestStore

//ListBuildRequestInstanceUUIDs implements the core.BuildRequestStore interface.
func (s *APIStore) ListBuildRequestInstanceUUIDs(ctx context.Context, filter core.InstanceFilter) ([]string, error) {
	whereStr, args := BuildSimpleWhereClause(instanceFilterFields("instance_uuid", filter.UUIDs, filter.UserID), 0)
	var uuids []string
	_, err := s.DB.WithContext(ctx).Select(&uuids, `SELECT instance_uuid FROM build_requests WHERE `+whereStr+` ORDER BY instance_uuid`, args...)
	return uuids, err
}

////////////////////////////////////////////////////////////////////////////////
// core.KeyPairStore and core.InstanceGroupStore

var countKeyPairsQuery = `SELECT COUNT(*) FROM key_pairs WHERE user_id = $1`

//CountKeyPairs implements the core.KeyPairStore interface.
func (s *APIStore) CountKeyPairs(ctx context.Context, userID string) (int64, error) {
	return s.DB.WithContext(ctx).SelectInt(countKeyPairsQuery, userID)
}

var countServerGroupsQuery = `SELECT COUNT(*) FROM instance_groups WHERE project_id = $1`

var countServerGroupsOfUserQuery = `SELECT COUNT(*) FROM instance_groups WHERE project_id = $1 AND user_id = $2`

//CountServerGroups implements the core.InstanceGroupStore interface.
func (s *APIStore) CountServerGroups(ctx context.Context, projectID, userID string) (core.UsageCount, error) {
	dbi := s.DB.WithContext(ctx)
	count, err := dbi.SelectInt(countServerGroupsQuery, projectID)
	if err != nil {
		return core.UsageCount{}, err
	}
	result := core.UsageCount{Project: map[string]int64{core.ResourceServerGroups: count}}

	if userID != "" {
		count, err := dbi.SelectInt(countServerGroupsOfUserQuery, projectID, userID)
		if err != nil {
			return core.UsageCount{}, err
		}
		result.User = map[string]int64{core.ResourceServerGroups: count}
	}
	return result, nil
}

var getInstanceGroupQuery = `SELECT * FROM instance_groups WHERE uuid = $1`

var listGroupMembersQuery = `SELECT instance_uuid FROM instance_group_member WHERE group_id = $1 ORDER BY instance_uuid`

//GetInstanceGroup implements the core.InstanceGroupStore interface.
func (s *APIStore) GetInstanceGroup(ctx context.Context, uuid string) (*core.InstanceGroup, error) {
	dbi := s.DB.WithContext(ctx)
	var group InstanceGroup
	err := dbi.SelectOne(&group, getInstanceGroupQuery, uuid)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("no such server group: %s", uuid)
	}
	if err != nil {
		return nil, err
	}

	var members []string
	_, err = dbi.Select(&members, listGroupMembersQuery, group.ID)
	if err != nil {
		return nil, err
	}
	return &core.InstanceGroup{
		UUID:      group.UUID,
		ProjectID: group.ProjectID,
		UserID:    group.UserID,
		Members:   members,
	}, nil
}
