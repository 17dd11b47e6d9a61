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
	"errors"
	"fmt"

	"github.com/gophercloud/gophercloud/v2"
)

// unpackError removes the outer layer of Gophercloud errors that obscures the
// status code and response body, and names the service that failed.
func unpackError(service string, err error) error {
	if err == nil {
		return nil
	}
	var innerErr gophercloud.ErrUnexpectedResponseCode
	if errors.As(err, &innerErr) {
		err = innerErr
	}
	return fmt.Errorf("%s request failed: %w", service, err)
}
