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

//APIMigrations must be public because it's also used by internal/test.
var APIMigrations = map[string]string{
	"001_initial.down.sql": `
		DROP TABLE quotas;
		DROP TABLE project_user_quotas;
		DROP TABLE quota_classes;
		DROP TABLE instance_mappings;
		DROP TABLE cell_mappings;
		DROP TABLE build_requests;
		DROP TABLE key_pairs;
		DROP TABLE instance_group_member;
		DROP TABLE instance_groups;
	`,
	"001_initial.up.sql": `
		---------- quota overrides

		CREATE TABLE quotas (
		  id         BIGSERIAL NOT NULL PRIMARY KEY,
		  project_id TEXT      NOT NULL,
		  resource   TEXT      NOT NULL,
		  hard_limit BIGINT    NOT NULL,
		  UNIQUE (project_id, resource)
		);

		CREATE TABLE project_user_quotas (
		  id         BIGSERIAL NOT NULL PRIMARY KEY,
		  project_id TEXT      NOT NULL,
		  user_id    TEXT      NOT NULL,
		  resource   TEXT      NOT NULL,
		  hard_limit BIGINT    NOT NULL,
		  UNIQUE (project_id, user_id, resource)
		);

		CREATE TABLE quota_classes (
		  id         BIGSERIAL NOT NULL PRIMARY KEY,
		  class_name TEXT      NOT NULL,
		  resource   TEXT      NOT NULL,
		  hard_limit BIGINT    NOT NULL,
		  UNIQUE (class_name, resource)
		);

		---------- cells and instance placement

		CREATE TABLE cell_mappings (
		  id                  BIGSERIAL NOT NULL PRIMARY KEY,
		  uuid                TEXT      NOT NULL UNIQUE,
		  name                TEXT      NOT NULL DEFAULT '',
		  database_connection TEXT      NOT NULL
		);

		CREATE TABLE instance_mappings (
		  id                BIGSERIAL NOT NULL PRIMARY KEY,
		  instance_uuid     TEXT      NOT NULL UNIQUE,
		  cell_id           BIGINT    DEFAULT NULL REFERENCES cell_mappings ON DELETE SET NULL,
		  project_id        TEXT      NOT NULL,
		  user_id           TEXT      DEFAULT NULL,
		  queued_for_delete BOOLEAN   DEFAULT NULL
		);
		CREATE INDEX instance_mappings_project_id_idx ON instance_mappings (project_id);

		CREATE TABLE build_requests (
		  id            BIGSERIAL NOT NULL PRIMARY KEY,
		  project_id    TEXT      NOT NULL,
		  user_id       TEXT      NOT NULL,
		  instance_uuid TEXT      NOT NULL UNIQUE
		);

		---------- key pairs and server groups

		CREATE TABLE key_pairs (
		  id      BIGSERIAL NOT NULL PRIMARY KEY,
		  name    TEXT      NOT NULL,
		  user_id TEXT      NOT NULL,
		  type    TEXT      NOT NULL DEFAULT 'ssh',
		  UNIQUE (user_id, name)
		);

		CREATE TABLE instance_groups (
		  id         BIGSERIAL NOT NULL PRIMARY KEY,
		  uuid       TEXT      NOT NULL UNIQUE,
		  project_id TEXT      NOT NULL,
		  user_id    TEXT      NOT NULL,
		  name       TEXT      NOT NULL DEFAULT ''
		);

		CREATE TABLE instance_group_member (
		  id            BIGSERIAL NOT NULL PRIMARY KEY,
		  group_id      BIGINT    NOT NULL REFERENCES instance_groups ON DELETE CASCADE,
		  instance_uuid TEXT      NOT NULL,
		  UNIQUE (group_id, instance_uuid)
		);
	`,
}

//CellMigrations contains the schema of a cell database.
var CellMigrations = map[string]string{
	"001_initial.down.sql": `
		DROP TABLE instances;
	`,
	"001_initial.up.sql": `
		CREATE TABLE instances (
		  id         BIGSERIAL NOT NULL PRIMARY KEY,
		  uuid       TEXT      NOT NULL UNIQUE,
		  project_id TEXT      NOT NULL,
		  user_id    TEXT      NOT NULL,
		  vcpus      BIGINT    NOT NULL DEFAULT 0,
		  memory_mb  BIGINT    NOT NULL DEFAULT 0,
		  vm_state   TEXT      DEFAULT NULL,
		  hidden     BOOLEAN   NOT NULL DEFAULT FALSE,
		  deleted    BIGINT    NOT NULL DEFAULT 0
		);
		CREATE INDEX instances_project_id_idx ON instances (project_id, deleted);
	`,
}
