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

// Package limits translates between the resource names of the unified limits
// service and the resource names of the quota engine.
package limits

import (
	"context"
	"fmt"

	"github.com/sapcc/nova-quota/internal/core"
)

// PlacementLimits maps unified limit names for resources that are counted by
// the resource inventory service to quota resource names. These limits
// always exist; if no limit is registered, the limit is 0.
var PlacementLimits = map[string]string{
	"servers":         core.ResourceInstances,
	"class:VCPU":      core.ResourceCores,
	"class:MEMORY_MB": core.ResourceRAM,
}

// LocalLimits maps unified limit names for resources that are counted by this
// service to quota resource names. These limits only exist if they are
// registered.
var LocalLimits = map[string]string{
	"server_metadata_items":              core.ResourceMetadataItems,
	"server_injected_files":              core.ResourceInjectedFiles,
	"server_injected_file_content_bytes": core.ResourceInjectedFileContentBytes,
	"server_injected_file_path_bytes":    core.ResourceInjectedFilePathBytes,
	"server_key_pairs":                   core.ResourceKeyPairs,
	"server_groups":                      core.ResourceServerGroups,
	"server_group_members":               core.ResourceServerGroupMembers,
}

// Service implements core.UnifiedLimits.
type Service struct {
	Client  core.LimitsClient
	Counter core.UsageCounter
}

// GetLegacyDefaultLimits implements the core.UnifiedLimits interface.
func (s *Service) GetLegacyDefaultLimits(ctx context.Context) (map[string]int64, error) {
	registered, err := s.Client.ListRegisteredLimits(ctx)
	if err != nil {
		return nil, fmt.Errorf("cannot list registered limits: %w", err)
	}

	result := make(map[string]int64, len(PlacementLimits)+len(LocalLimits))
	for _, resourceName := range PlacementLimits {
		result[resourceName] = 0
	}
	for _, limit := range registered {
		if name, exists := PlacementLimits[limit.ResourceName]; exists {
			result[name] = limit.DefaultLimit
		}
		if name, exists := LocalLimits[limit.ResourceName]; exists {
			result[name] = limit.DefaultLimit
		}
	}
	return result, nil
}

// GetLegacyProjectLimits implements the core.UnifiedLimits interface. Only
// placement limits are returned; project-specific local limits are not
// considered.
func (s *Service) GetLegacyProjectLimits(ctx context.Context, projectID string) (map[string]int64, error) {
	registered, err := s.Client.ListRegisteredLimits(ctx)
	if err != nil {
		return nil, fmt.Errorf("cannot list registered limits: %w", err)
	}
	projectLimits, err := s.Client.ListProjectLimits(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("cannot list limits for project %s: %w", projectID, err)
	}

	result := make(map[string]int64, len(PlacementLimits))
	for _, resourceName := range PlacementLimits {
		result[resourceName] = 0
	}
	for _, limit := range registered {
		if name, exists := PlacementLimits[limit.ResourceName]; exists {
			result[name] = limit.DefaultLimit
		}
	}
	for _, limit := range projectLimits {
		if name, exists := PlacementLimits[limit.ResourceName]; exists {
			result[name] = limit.ResourceLimit
		}
	}
	return result, nil
}

// GetInUse implements the core.UnifiedLimits interface. Key pairs are counted
// for the user of the request context.
func (s *Service) GetInUse(ctx context.Context, projectID string) (map[string]int64, error) {
	result := make(map[string]int64)

	counts, err := s.Counter.CountInstancesCoresRAM(ctx, projectID, "")
	if err != nil {
		return nil, err
	}
	for name, count := range counts.Project {
		result[name] = count
	}

	counts, err = s.Counter.CountServerGroups(ctx, projectID, "")
	if err != nil {
		return nil, err
	}
	result[core.ResourceServerGroups] = counts.Project[core.ResourceServerGroups]

	if userID := core.RequestContextFrom(ctx).UserID; userID != "" {
		counts, err = s.Counter.CountKeyPairs(ctx, userID)
		if err != nil {
			return nil, err
		}
		result[core.ResourceKeyPairs] = counts.User[core.ResourceKeyPairs]
	}
	return result, nil
}
