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

// Package kernel assembles a frame pool, a region table and a set of processes
// into a small system that exposes the shared region calls by pid.
package kernel

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/panjf2000/ants/v2"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/srediag/shmregion/internal/logging"
	"github.com/srediag/shmregion/pkg/audit"
	"github.com/srediag/shmregion/pkg/frame"
	"github.com/srediag/shmregion/pkg/region"
	"github.com/srediag/shmregion/pkg/vm"
)

var (
	ErrNoProcess = errors.New("no such process")
	ErrShutdown  = errors.New("kernel is shut down")
)

var logger = logging.New("kernel")

// Process is a user process: a pid and its address space.
type Process struct {
	space *vm.AddressSpace
}

func (p *Process) PID() int { return p.space.PID() }

// Space returns the process's address space.
func (p *Process) Space() *vm.AddressSpace { return p.space }

type options struct {
	registerer prometheus.Registerer
	meter      metric.Meter
	tracer     trace.Tracer
	observers  []region.Observer
}

// Option customises Boot.
type Option func(*options)

// WithRegisterer registers the region table metrics on r.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(o *options) { o.registerer = r }
}

// WithMeter records region operations on m.
func WithMeter(m metric.Meter) Option {
	return func(o *options) { o.meter = m }
}

// WithTracer traces region operations with t.
func WithTracer(t trace.Tracer) Option {
	return func(o *options) { o.tracer = t }
}

// WithObserver adds an observer next to the audit log.
func WithObserver(ob region.Observer) Option {
	return func(o *options) { o.observers = append(o.observers, ob) }
}

type observers []region.Observer

func (obs observers) Observe(e region.Event) {
	for _, o := range obs {
		o.Observe(e)
	}
}

// Kernel owns the frame pool, the region table and the process registry.
type Kernel struct {
	cfg    *Config
	frames *frame.Pool
	table  *region.Table
	audit  *audit.Log
	pool   *ants.Pool

	procs   cmap.ConcurrentMap[int, *Process]
	nextPID atomic.Int32

	// mu is held shared by region calls and exclusively by Shutdown.
	mu     sync.RWMutex
	closed bool
}

// Boot builds the kernel. The region table is initialized before any process
// exists. A nil config means DefaultConfig.
func Boot(ctx context.Context, cfg *Config, opts ...Option) (*Kernel, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := VerifyConfig(cfg); err != nil {
		return nil, err
	}
	if cfg.LogLevel != nil {
		logging.SetLogLevel(*cfg.LogLevel)
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	frames, err := frame.NewPool(ctx, &cfg.Frames)
	if err != nil {
		return nil, errors.Wrap(err, "boot frame pool")
	}
	k := &Kernel{
		cfg:    cfg,
		frames: frames,
		audit:  audit.New(cfg.AuditCapacity),
		procs: cmap.NewWithCustomShardingFunction[int, *Process](func(pid int) uint32 {
			return uint32(pid)
		}),
	}

	// the table registers collectors, so it is built last
	k.pool, err = ants.NewPool(cfg.Workers)
	if err != nil {
		_ = frames.Close(ctx)
		return nil, errors.Wrap(err, "boot worker pool")
	}

	rc := cfg.Region
	rc.Registerer, rc.Meter, rc.Tracer = o.registerer, o.meter, o.tracer
	rc.Observer = append(observers{k.audit}, o.observers...)
	k.table, err = region.NewTable(&rc, frames, vm.PageMapper{})
	if err != nil {
		k.pool.Release()
		_ = frames.Close(ctx)
		return nil, errors.Wrap(err, "boot region table")
	}
	logger.Infof("booted: %d slots, %d frames, %d workers", rc.Capacity, cfg.Frames.Frames, cfg.Workers)
	return k, nil
}

// Spawn creates a process. Pids start at 1.
func (k *Kernel) Spawn() *Process {
	pid := int(k.nextPID.Add(1))
	p := &Process{space: vm.NewAddressSpace(pid, k.cfg.ProcessImageSize, k.cfg.ProcessLimit)}
	k.procs.Set(pid, p)
	logger.Debugf("spawned pid %d", pid)
	return p
}

// Process returns the live process with pid.
func (k *Kernel) Process(pid int) (*Process, bool) {
	return k.procs.Get(pid)
}

// Exit removes pid. Its mappings and region references are left as they are.
func (k *Kernel) Exit(pid int) error {
	if _, ok := k.procs.Pop(pid); !ok {
		return errors.Wrapf(ErrNoProcess, "pid %d", pid)
	}
	logger.Debugf("pid %d exited", pid)
	return nil
}

// Processes returns the number of live processes.
func (k *Kernel) Processes() int {
	return k.procs.Count()
}

// ShmOpen opens key on behalf of pid and returns the address the region was
// mapped at.
func (k *Kernel) ShmOpen(ctx context.Context, pid int, key region.Key) (uintptr, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.closed {
		return 0, ErrShutdown
	}
	p, ok := k.procs.Get(pid)
	if !ok {
		return 0, errors.Wrapf(ErrNoProcess, "pid %d", pid)
	}
	return k.table.Open(ctx, key, p.space)
}

// ShmClose closes key on behalf of pid.
func (k *Kernel) ShmClose(ctx context.Context, pid int, key region.Key) error {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.closed {
		return ErrShutdown
	}
	if _, ok := k.procs.Get(pid); !ok {
		return errors.Wrapf(ErrNoProcess, "pid %d", pid)
	}
	return k.table.Close(ctx, key)
}

// Table returns the region table.
func (k *Kernel) Table() *region.Table { return k.table }

// Frames returns the frame pool.
func (k *Kernel) Frames() *frame.Pool { return k.frames }

// Audit returns the audit log.
func (k *Kernel) Audit() *audit.Log { return k.audit }

// Config returns the config the kernel was booted with.
func (k *Kernel) Config() *Config { return k.cfg }

// Shutdown stops the worker pool, flushes the audit log and unmaps the frame
// pool. The region table is not torn down; slots still name their frames.
// The table's collectors are unregistered so the same registry can serve a new
// kernel. ShmOpen, ShmClose and Run return ErrShutdown afterwards, and word access
// through existing mappings returns vm.ErrNoMemory.
func (k *Kernel) Shutdown(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return ErrShutdown
	}
	k.closed = true
	k.pool.Release()
	k.table.Unregister()
	n := k.audit.Flush()
	k.audit.Dispose()
	logger.Infof("shutdown: flushed %d audit events", n)
	return k.frames.Close(ctx)
}

func (k *Kernel) isClosed() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.closed
}
