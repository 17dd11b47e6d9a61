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
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/sapcc/nova-quota/internal/core"
)

// ErrCellTimeout is the result of a cell that did not respond in time.
var ErrCellTimeout = errors.New("timed out waiting for response from cell")

// CellResult is the result of a single cell in ScatterGather. If Err is set,
// the cell failed and Value must be ignored.
type CellResult[T any] struct {
	Value T
	Err   error
}

// ScatterGatherOptions appears in func ScatterGather.
type ScatterGatherOptions struct {
	Timeout        time.Duration
	MaxConcurrency int
}

// ScatterGather runs the given function once for each cell, with bounded
// concurrency and a per-cell timeout. Failures of individual cells do not
// abort the other cells; they are reported in the respective CellResult. The
// result is keyed by cell UUID and contains an entry for every cell.
func ScatterGather[T any](ctx context.Context, cells []core.Cell, opts ScatterGatherOptions, fn func(context.Context, core.Cell) (T, error)) map[string]CellResult[T] {
	results := make([]CellResult[T], len(cells))

	var eg errgroup.Group
	if opts.MaxConcurrency > 0 {
		eg.SetLimit(opts.MaxConcurrency)
	}
	for idx, cell := range cells {
		idx, cell := idx, cell
		eg.Go(func() error {
			results[idx] = queryCell(ctx, cell, opts.Timeout, fn)
			return nil
		})
	}
	_ = eg.Wait() //never fails, cell errors are collected in results

	resultsByCell := make(map[string]CellResult[T], len(cells))
	for idx, cell := range cells {
		resultsByCell[cell.UUID] = results[idx]
	}
	return resultsByCell
}

func queryCell[T any](ctx context.Context, cell core.Cell, timeout time.Duration, fn func(context.Context, core.Cell) (T, error)) (result CellResult[T]) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	done := make(chan CellResult[T], 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- CellResult[T]{Err: fmt.Errorf("panic while querying cell %s: %v", cell.UUID, r)}
			}
		}()
		value, err := fn(ctx, cell)
		done <- CellResult[T]{Value: value, Err: err}
	}()

	select {
	case result = <-done:
		if errors.Is(result.Err, context.DeadlineExceeded) {
			result.Err = ErrCellTimeout
		}
		return result
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return CellResult[T]{Err: ErrCellTimeout}
		}
		return CellResult[T]{Err: ctx.Err()}
	}
}

// cellFailures collects the errors of all failed cells, sorted by cell UUID,
// or returns nil if no cell failed.
func cellFailures[T any](results map[string]CellResult[T]) error {
	uuids := make([]string, 0, len(results))
	for uuid, result := range results {
		if result.Err != nil {
			uuids = append(uuids, uuid)
		}
	}
	sort.Strings(uuids)

	var errs *multierror.Error
	for _, uuid := range uuids {
		cellFailuresCounter.Inc()
		errs = multierror.Append(errs, fmt.Errorf("cell %s: %w", uuid, results[uuid].Err))
	}
	return errs.ErrorOrNil()
}
