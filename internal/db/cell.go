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

	gorp "gopkg.in/gorp.v2"

	"github.com/sapcc/nova-quota/internal/core"
)

//CellStore implements core.CellDatabase on the database of a single cell.
type CellStore struct {
	DB *gorp.DbMap
}

//Instances that are deleted, soft-deleted or hidden do not consume quota.
var liveInstanceCondition = `deleted = 0 AND hidden = FALSE AND (vm_state IS NULL OR vm_state != 'soft-delete')`

var countInstancesQuery = `
	SELECT COUNT(*), COALESCE(SUM(vcpus), 0), COALESCE(SUM(memory_mb), 0)
	  FROM instances WHERE project_id = $1 AND ` + liveInstanceCondition

var countInstancesOfUserQuery = `
	SELECT COUNT(*), COALESCE(SUM(vcpus), 0), COALESCE(SUM(memory_mb), 0)
	  FROM instances WHERE project_id = $1 AND user_id = $2 AND ` + liveInstanceCondition

//CountInstances implements the core.CellDatabase interface.
func (s *CellStore) CountInstances(ctx context.Context, projectID, userID string) (core.UsageCount, error) {
	dbi := s.DB.WithContext(ctx)
	scan := func(query string, args ...interface{}) (map[string]int64, error) {
		var instances, cores, ram int64
		err := dbi.QueryRow(query, args...).Scan(&instances, &cores, &ram)
		if err != nil {
			return nil, err
		}
		return map[string]int64{
			core.ResourceInstances: instances,
			core.ResourceCores:     cores,
			core.ResourceRAM:       ram,
		}, nil
	}

	var (
		result core.UsageCount
		err    error
	)
	result.Project, err = scan(countInstancesQuery, projectID)
	if err != nil {
		return core.UsageCount{}, err
	}
	if userID != "" {
		result.User, err = scan(countInstancesOfUserQuery, projectID, userID)
		if err != nil {
			return core.UsageCount{}, err
		}
	}
	return result, nil
}

//ListInstanceUUIDs implements the core.CellDatabase interface.
func (s *CellStore) ListInstanceUUIDs(ctx context.Context, filter core.InstanceFilter) ([]string, error) {
	whereStr, args := BuildSimpleWhereClause(instanceFilterFields("uuid", filter.UUIDs, filter.UserID), 0)
	query := `SELECT uuid FROM instances WHERE ` + whereStr + ` AND ` + liveInstanceCondition + ` ORDER BY uuid`
	var uuids []string
	_, err := s.DB.WithContext(ctx).Select(&uuids, query, args...)
	return uuids, err
}
