// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package rcf

import (
	"context"
	"fmt"

	"github.com/datawire/dlib/dgroup"
	"golang.org/x/exp/constraints"
)

// forEachComponent runs fn once per component and collects the
// results in component order.  In parallel mode the calls are
// dispatched to a bounded worker pool; per-tree work is the unit of
// parallelism, and the caller only proceeds after all workers have
// joined.
func forEachComponent[T constraints.Float, R any](
	ctx context.Context,
	f *Forest[T],
	fn func(ctx context.Context, i int, c *component[T]) (R, error),
) ([]R, error) {
	results := make([]R, len(f.components))

	if !f.opts.ParallelExecution || len(f.components) == 1 {
		for i, c := range f.components {
			r, err := fn(ctx, i, c)
			if err != nil {
				return nil, err
			}
			results[i] = r
		}
		return results, nil
	}

	workers := f.opts.ThreadPoolSize
	if workers > len(f.components) {
		workers = len(f.components)
	}
	idxCh := make(chan int)
	grp := dgroup.NewGroup(ctx, dgroup.GroupConfig{})
	grp.Go("feed", func(ctx context.Context) error {
		defer close(idxCh)
		for i := range f.components {
			select {
			case idxCh <- i:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})
	for w := 0; w < workers; w++ {
		grp.Go(fmt.Sprintf("worker-%d", w), func(ctx context.Context) error {
			for i := range idxCh {
				r, err := fn(ctx, i, f.components[i])
				if err != nil {
					return err
				}
				results[i] = r
			}
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
