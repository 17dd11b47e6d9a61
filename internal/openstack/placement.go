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

package openstack

import (
	"context"
	"net/url"

	"github.com/gophercloud/gophercloud/v2"
	"github.com/gophercloud/gophercloud/v2/openstack"

	"github.com/sapcc/nova-quota/internal/core"
)

// PlacementClient implements core.InventoryClient.
type PlacementClient struct {
	*gophercloud.ServiceClient
}

// NewPlacementClient builds a PlacementClient.
func NewPlacementClient(provider *gophercloud.ProviderClient, eo gophercloud.EndpointOpts) (*PlacementClient, error) {
	sc, err := openstack.NewPlacementV1(provider, eo)
	if err != nil {
		return nil, err
	}
	sc.Microversion = "1.9" //for query parameter "user_id" on GET /usages
	return &PlacementClient{ServiceClient: sc}, nil
}

type usagesResponse struct {
	Usages map[string]int64 `json:"usages"`
}

func (c *PlacementClient) getUsages(ctx context.Context, query url.Values) (map[string]int64, error) {
	var r gophercloud.Result
	_, r.Header, r.Err = gophercloud.ParseResponse(c.Get(ctx, c.ServiceURL("usages")+"?"+query.Encode(), &r.Body, nil)) //nolint:bodyclose // already closed by gophercloud

	var data usagesResponse
	err := r.ExtractInto(&data)
	if err != nil {
		return nil, unpackError("Placement", err)
	}
	return map[string]int64{
		core.ResourceCores: data.Usages["VCPU"] + data.Usages["PCPU"],
		core.ResourceRAM:   data.Usages["MEMORY_MB"],
	}, nil
}

// GetUsageCountsForQuota implements the core.InventoryClient interface.
func (c *PlacementClient) GetUsageCountsForQuota(ctx context.Context, projectID, userID string) (core.UsageCount, error) {
	var (
		result core.UsageCount
		err    error
	)
	result.Project, err = c.getUsages(ctx, url.Values{"project_id": {projectID}})
	if err != nil {
		return core.UsageCount{}, err
	}
	if userID != "" {
		result.User, err = c.getUsages(ctx, url.Values{"project_id": {projectID}, "user_id": {userID}})
		if err != nil {
			return core.UsageCount{}, err
		}
	}
	return result, nil
}
