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

import (
	"context"
	"errors"
)

// Names of the resources in the catalog.
const (
	ResourceInstances                = "instances"
	ResourceCores                    = "cores"
	ResourceRAM                      = "ram"
	ResourceMetadataItems            = "metadata_items"
	ResourceInjectedFiles            = "injected_files"
	ResourceInjectedFileContentBytes = "injected_file_content_bytes"
	ResourceInjectedFilePathBytes    = "injected_file_path_bytes"
	ResourceKeyPairs                 = "key_pairs"
	ResourceServerGroups             = "server_groups"
	ResourceServerGroupMembers       = "server_group_members"
	ResourceFixedIPs                 = "fixed_ips"
	ResourceFloatingIPs              = "floating_ips"
	ResourceSecurityGroups           = "security_groups"
	ResourceSecurityGroupRules       = "security_group_rules"
)

// errMissingGroup is returned when server_group_members is counted without a group.
var errMissingGroup = errors.New("counting server_group_members requires a server group")

// NewCatalog builds the registry with all resources known to the compute
// service. Usage of countable resources is computed by the given counter.
func NewCatalog(counter UsageCounter) (*Registry, error) {
	countInstancesCoresRAM := func(ctx context.Context, req CountRequest) (UsageCount, error) {
		return counter.CountInstancesCoresRAM(ctx, req.ProjectID, req.UserID)
	}
	countKeyPairs := func(ctx context.Context, req CountRequest) (UsageCount, error) {
		return counter.CountKeyPairs(ctx, req.UserID)
	}
	countServerGroups := func(ctx context.Context, req CountRequest) (UsageCount, error) {
		return counter.CountServerGroups(ctx, req.ProjectID, req.UserID)
	}
	countServerGroupMembers := func(ctx context.Context, req CountRequest) (UsageCount, error) {
		if req.Group == nil {
			return UsageCount{}, errMissingGroup
		}
		return counter.CountServerGroupMembers(ctx, *req.Group, req.UserID)
	}

	return NewRegistry(
		NewCountableResource(ResourceInstances, countInstancesCoresRAM, "instances"),
		NewCountableResource(ResourceCores, countInstancesCoresRAM, "cores"),
		NewCountableResource(ResourceRAM, countInstancesCoresRAM, "ram"),
		NewAbsoluteResource(ResourceMetadataItems, "metadata_items"),
		NewAbsoluteResource(ResourceInjectedFiles, "injected_files"),
		NewAbsoluteResource(ResourceInjectedFileContentBytes, "injected_file_content_bytes"),
		NewAbsoluteResource(ResourceInjectedFilePathBytes, "injected_file_path_length"),
		NewCountableResource(ResourceKeyPairs, countKeyPairs, "key_pairs"),
		NewCountableResource(ResourceServerGroups, countServerGroups, "server_groups"),
		NewCountableResource(ResourceServerGroupMembers, countServerGroupMembers, "server_group_members"),
		// deprecated nova-network quotas, retained to avoid changing API responses
		NewAbsoluteResource(ResourceFixedIPs, ""),
		NewAbsoluteResource(ResourceFloatingIPs, ""),
		NewAbsoluteResource(ResourceSecurityGroups, ""),
		NewAbsoluteResource(ResourceSecurityGroupRules, ""),
	)
}
