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

// LimitsClient implements core.LimitsClient on the unified limits API of
// Keystone. Only limits of the configured service (and region, if any) are
// considered.
type LimitsClient struct {
	*gophercloud.ServiceClient
	ServiceID string
	RegionID  string
}

// NewLimitsClient builds a LimitsClient.
func NewLimitsClient(provider *gophercloud.ProviderClient, eo gophercloud.EndpointOpts, cfg core.UnifiedLimitsConfiguration) (*LimitsClient, error) {
	sc, err := openstack.NewIdentityV3(provider, eo)
	if err != nil {
		return nil, err
	}
	return &LimitsClient{ServiceClient: sc, ServiceID: cfg.ServiceID, RegionID: cfg.RegionID}, nil
}

func (c *LimitsClient) query() url.Values {
	query := url.Values{"service_id": {c.ServiceID}}
	if c.RegionID != "" {
		query.Set("region_id", c.RegionID)
	}
	return query
}

func (c *LimitsClient) list(ctx context.Context, path string, query url.Values, data interface{}) error {
	var r gophercloud.Result
	_, r.Header, r.Err = gophercloud.ParseResponse(c.Get(ctx, c.ServiceURL(path)+"?"+query.Encode(), &r.Body, nil)) //nolint:bodyclose // already closed by gophercloud
	return unpackError("Keystone", r.ExtractInto(data))
}

// ListRegisteredLimits implements the core.LimitsClient interface.
func (c *LimitsClient) ListRegisteredLimits(ctx context.Context) ([]core.RegisteredLimit, error) {
	var data struct {
		RegisteredLimits []struct {
			ResourceName string `json:"resource_name"`
			DefaultLimit int64  `json:"default_limit"`
		} `json:"registered_limits"`
	}
	err := c.list(ctx, "registered_limits", c.query(), &data)
	if err != nil {
		return nil, err
	}

	result := make([]core.RegisteredLimit, len(data.RegisteredLimits))
	for idx, limit := range data.RegisteredLimits {
		result[idx] = core.RegisteredLimit{ResourceName: limit.ResourceName, DefaultLimit: limit.DefaultLimit}
	}
	return result, nil
}

// ListProjectLimits implements the core.LimitsClient interface.
func (c *LimitsClient) ListProjectLimits(ctx context.Context, projectID string) ([]core.ProjectLimit, error) {
	var data struct {
		Limits []struct {
			ProjectID     string `json:"project_id"`
			ResourceName  string `json:"resource_name"`
			ResourceLimit int64  `json:"resource_limit"`
		} `json:"limits"`
	}
	query := c.query()
	query.Set("project_id", projectID)
	err := c.list(ctx, "limits", query, &data)
	if err != nil {
		return nil, err
	}

	result := make([]core.ProjectLimit, len(data.Limits))
	for idx, limit := range data.Limits {
		result[idx] = core.ProjectLimit{
			ProjectID:     limit.ProjectID,
			ResourceName:  limit.ResourceName,
			ResourceLimit: limit.ResourceLimit,
		}
	}
	return result, nil
}
