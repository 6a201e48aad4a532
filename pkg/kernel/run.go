/*
 * Copyright 2025 SREDiag Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package kernel

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"

	"github.com/srediag/shmregion/pkg/region"
)

// Task is one unit of process work run by Run.
type Task func(ctx context.Context) error

// Run executes tasks on the kernel's worker pool and waits for all of them.
// Tasks that have not started when ctx is done are skipped with ctx.Err().
// The returned error joins every task error.
func (k *Kernel) Run(ctx context.Context, tasks ...Task) error {
	if k.isClosed() {
		return ErrShutdown
	}
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	record := func(err error) {
		if err == nil {
			return
		}
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}
	for _, task := range tasks {
		wg.Add(1)
		err := k.pool.Submit(func() {
			defer wg.Done()
			if err := ctx.Err(); err != nil {
				record(err)
				return
			}
			record(task(ctx))
		})
		if err != nil {
			wg.Done()
			record(errors.Wrap(err, "submit task"))
		}
	}
	wg.Wait()
	return stderrors.Join(errs...)
}

// ShmOpenRetry retries ShmOpen while the table is full, pacing attempts with b.
// Any other error ends the retry and is returned as is. b is bound to ctx.
func (k *Kernel) ShmOpenRetry(ctx context.Context, pid int, key region.Key, b backoff.BackOff) (uintptr, error) {
	var va uintptr
	op := func() error {
		v, err := k.ShmOpen(ctx, pid, key)
		va = v
		if err == nil || stderrors.Is(err, region.ErrTableFull) {
			return err
		}
		return backoff.Permanent(err)
	}
	notify := func(err error, d time.Duration) {
		logger.Debugf("pid %d key %d: %v, retrying in %s", pid, key, err, d)
	}
	err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify)
	return va, err
}
