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

import gorp "gopkg.in/gorp.v2"

//Quota contains a record from the `quotas` table.
type Quota struct {
	ID        int64  `db:"id"`
	ProjectID string `db:"project_id"`
	Resource  string `db:"resource"`
	HardLimit int64  `db:"hard_limit"`
}

//ProjectUserQuota contains a record from the `project_user_quotas` table.
type ProjectUserQuota struct {
	ID        int64  `db:"id"`
	ProjectID string `db:"project_id"`
	UserID    string `db:"user_id"`
	Resource  string `db:"resource"`
	HardLimit int64  `db:"hard_limit"`
}

//QuotaClass contains a record from the `quota_classes` table.
type QuotaClass struct {
	ID        int64  `db:"id"`
	ClassName string `db:"class_name"`
	Resource  string `db:"resource"`
	HardLimit int64  `db:"hard_limit"`
}

//CellMapping contains a record from the `cell_mappings` table.
type CellMapping struct {
	ID                 int64  `db:"id"`
	UUID               string `db:"uuid"`
	Name               string `db:"name"`
	DatabaseConnection string `db:"database_connection"`
}

//InstanceMapping contains a record from the `instance_mappings` table.
type InstanceMapping struct {
	ID              int64   `db:"id"`
	InstanceUUID    string  `db:"instance_uuid"`
	CellID          *int64  `db:"cell_id"` //NULL while the instance is being scheduled
	ProjectID       string  `db:"project_id"`
	UserID          *string `db:"user_id"`           //NULL until the online migration ran
	QueuedForDelete *bool   `db:"queued_for_delete"` //NULL until the online migration ran
}

//BuildRequest contains a record from the `build_requests` table.
type BuildRequest struct {
	ID           int64  `db:"id"`
	ProjectID    string `db:"project_id"`
	UserID       string `db:"user_id"`
	InstanceUUID string `db:"instance_uuid"`
}

//KeyPair contains a record from the `key_pairs` table.
type KeyPair struct {
	ID     int64  `db:"id"`
	Name   string `db:"name"`
	UserID string `db:"user_id"`
	Type   string `db:"type"`
}

//InstanceGroup contains a record from the `instance_groups` table.
type InstanceGroup struct {
	ID        int64  `db:"id"`
	UUID      string `db:"uuid"`
	ProjectID string `db:"project_id"`
	UserID    string `db:"user_id"`
	Name      string `db:"name"`
}

//InstanceGroupMember contains a record from the `instance_group_member` table.
type InstanceGroupMember struct {
	ID           int64  `db:"id"`
	GroupID      int64  `db:"group_id"`
	InstanceUUID string `db:"instance_uuid"`
}

//Instance contains a record from the `instances` table of a cell database.
type Instance struct {
	ID        int64   `db:"id"`
	UUID      string  `db:"uuid"`
	ProjectID string  `db:"project_id"`
	UserID    string  `db:"user_id"`
	VCPUs     int64   `db:"vcpus"`
	MemoryMB  int64   `db:"memory_mb"`
	VMState   *string `db:"vm_state"`
	Hidden    bool    `db:"hidden"`
	Deleted   int64   `db:"deleted"` //0 for live instances, the ID otherwise
}

//InitGorp is used by Init() and InitCell() to setup the ORM part of the
//database connection. It's available as an exported function because the unit
//tests need to call this while bypassing the normal Init() logic.
func InitGorp(dbMap *gorp.DbMap) {
	dbMap.AddTableWithName(Quota{}, "quotas").SetKeys(true, "id")
	dbMap.AddTableWithName(ProjectUserQuota{}, "project_user_quotas").SetKeys(true, "id")
	dbMap.AddTableWithName(QuotaClass{}, "quota_classes").SetKeys(true, "id")
	dbMap.AddTableWithName(CellMapping{}, "cell_mappings").SetKeys(true, "id")
	dbMap.AddTableWithName(InstanceMapping{}, "instance_mappings").SetKeys(true, "id")
	dbMap.AddTableWithName(BuildRequest{}, "build_requests").SetKeys(true, "id")
	dbMap.AddTableWithName(KeyPair{}, "key_pairs").SetKeys(true, "id")
	dbMap.AddTableWithName(InstanceGroup{}, "instance_groups").SetKeys(true, "id")
	dbMap.AddTableWithName(InstanceGroupMember{}, "instance_group_member").SetKeys(true, "id")
	dbMap.AddTableWithName(Instance{}, "instances").SetKeys(true, "id")
}
