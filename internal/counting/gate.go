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

package counting

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/sapcc/go-bits/logg"

	"github.com/sapcc/nova-quota/internal/core"
)

// MigrationGate decides whether the instance mappings are complete enough to
// count usage from them instead of from the cell databases. Once the check
// succeeds for a project (or for all projects), the result is cached for the
// lifetime of the process. Cached results never go from true back to false.
type MigrationGate struct {
	checker   core.MigrationChecker
	all       atomic.Bool
	byProject sync.Map // project ID -> struct{}
}

// NewMigrationGate builds a MigrationGate.
func NewMigrationGate(checker core.MigrationChecker) *MigrationGate {
	return &MigrationGate{checker: checker}
}

// ProjectPopulated returns whether all instance mappings of this project have
// their user_id and queued_for_delete fields populated.
func (g *MigrationGate) ProjectPopulated(ctx context.Context, projectID string) (bool, error) {
	if g.all.Load() {
		return true, nil
	}
	if _, cached := g.byProject.Load(projectID); cached {
		return true, nil
	}

	logg.Debug("checking whether user_id and queued_for_delete are populated for project %s", projectID)
	populated, err := g.checker.UserIDQueuedForDeletePopulated(ctx, projectID)
	if err != nil {
		return false, err
	}
	if populated {
		g.byProject.Store(projectID, struct{}{})
	}
	return populated, nil
}

// AllPopulated is like ProjectPopulated, but checks the instance mappings of
// all projects.
func (g *MigrationGate) AllPopulated(ctx context.Context) (bool, error) {
	if g.all.Load() {
		return true, nil
	}

	logg.Debug("checking whether user_id and queued_for_delete are populated for all projects")
	populated, err := g.checker.UserIDQueuedForDeletePopulated(ctx, "")
	if err != nil {
		return false, err
	}
	if populated {
		g.all.Store(true)
	}
	return populated, nil
}

// cachedProjectCount is reported by the metrics collector.
func (g *MigrationGate) cachedProjectCount() int {
	count := 0
	g.byProject.Range(func(_, _ any) bool {
		count++
		return true
	})
	return count
}
