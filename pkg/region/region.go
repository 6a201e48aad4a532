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

// Package region implements the shared region table: a fixed set of slots that
// map small integer keys to physical frames so that unrelated processes can map
// the same page.
//
// A process calls Open(key) to get the frame for key mapped at the top of its
// address space, creating the frame on first use, and Close(key) to drop its
// interest. One mutex serializes every operation, including the frame
// allocation and the mapping call made on the caller's behalf.
package region

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/srediag/shmregion/pkg/frame"
	"github.com/srediag/shmregion/pkg/vm"
)

// Key identifies a shared region. Zero is reserved.
type Key int32

// FrameAllocator hands out zeroed physical frames.
type FrameAllocator interface {
	Alloc() (*frame.Frame, error)
	Free(*frame.Frame) error
}

// Mapper installs a frame into an address space. It is called with the table
// lock held and must not call back into the table.
type Mapper interface {
	Map(space vm.Space, va, size uintptr, f *frame.Frame, perm vm.Perm) error
}

type slot struct {
	key   Key
	frame *frame.Frame
	refs  int
}

func (s *slot) reset() {
	s.key = 0
	s.frame = nil
	s.refs = 0
}

// SlotInfo is a copy of one occupied slot.
type SlotInfo struct {
	Index    int
	Key      Key
	PhysAddr uintptr
	Refs     int
}

// Stats summarises slot usage.
type Stats struct {
	Capacity int
	Occupied int
	Free     int
}

// Table is the shared region table.
type Table struct {
	mu       sync.Mutex
	slots    []slot
	occupied int

	frames FrameAllocator
	mapper Mapper

	release  ReleasePolicy
	rollback bool
	reclaim  bool

	metrics  *metrics
	tracer   trace.Tracer
	observer Observer
}

// NewTable returns an initialized table. A nil config means DefaultConfig.
func NewTable(config *Config, frames FrameAllocator, mapper Mapper) (*Table, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := VerifyConfig(config); err != nil {
		return nil, err
	}
	if frames == nil || mapper == nil {
		return nil, errors.New("region table needs a frame allocator and a mapper")
	}
	m, err := newMetrics(config)
	if err != nil {
		return nil, err
	}
	tracer := config.Tracer
	if tracer == nil {
		tracer = tracenoop.NewTracerProvider().Tracer(instrumentationName)
	}
	t := &Table{
		slots:    make([]slot, config.Capacity),
		frames:   frames,
		mapper:   mapper,
		release:  config.Release,
		rollback: config.RollbackOnMapFailure,
		reclaim:  config.ReclaimFrames,
		metrics:  m,
		tracer:   tracer,
		observer: config.Observer,
	}
	t.Initialize()
	return t, nil
}

// Initialize marks every slot unused. It must run before the table is shared and
// must not race with Open or Close. Frames held by slots are dropped, not freed.
func (t *Table) Initialize() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.slots {
		t.slots[i].reset()
	}
	t.occupied = 0
	t.metrics.occupied.Set(0)
	logger.Debugf("region table initialized with %d slots", len(t.slots))
}

// Open maps the frame for key into space at the space's high-water mark rounded
// up to a page, creating the region if key is not live. The high-water mark is
// advanced by one page once a slot has been found or created.
//
// A mapper failure is returned unchanged together with the address the frame
// was meant to occupy. Unless RollbackOnMapFailure is set the slot creation or
// reference increment and the high-water-mark advance stay in place.
func (t *Table) Open(ctx context.Context, key Key, space vm.Space) (uintptr, error) {
	if space == nil {
		return 0, ErrNilSpace
	}
	ctx, span := t.tracer.Start(ctx, "region.Open", trace.WithAttributes(
		attribute.Int("shm.key", int(key)),
		attribute.Int("shm.pid", space.PID()),
	))
	defer span.End()

	t.mu.Lock()
	defer t.mu.Unlock()

	ev := Event{Op: OpOpen, Key: key, PID: space.PID()}
	if key == 0 {
		ev.Result, ev.Err = ResultInvalidKey, ErrInvalidKey
		t.emit(ctx, span, ev)
		return 0, ErrInvalidKey
	}

	if i := t.find(key); i >= 0 {
		s := &t.slots[i]
		va := vm.PageRoundUp(space.HighWaterMark())
		err := t.mapper.Map(space, va, vm.PageSize, s.frame, vm.PermWrite|vm.PermUser)
		ev.VA, ev.PhysAddr, ev.Err = va, s.frame.PhysAddr(), err
		if err != nil && t.rollback {
			ev.Result, ev.Refs = ResultMapFailed, s.refs
			t.emit(ctx, span, ev)
			return va, err
		}
		s.refs++
		space.SetHighWaterMark(va + vm.PageSize)
		ev.Result, ev.Refs = ResultJoined, s.refs
		if err != nil {
			ev.Result = ResultMapFailed
		}
		t.emit(ctx, span, ev)
		return va, err
	}

	i := t.findFree()
	if i < 0 {
		ev.Result, ev.Err = ResultTableFull, ErrTableFull
		t.emit(ctx, span, ev)
		return 0, ErrTableFull
	}
	f, err := t.frames.Alloc()
	if err != nil {
		err = errors.Wrapf(err, "allocate frame for key %d", key)
		ev.Result, ev.Err = ResultAllocFailed, err
		t.emit(ctx, span, ev)
		return 0, err
	}
	s := &t.slots[i]
	s.key, s.frame, s.refs = key, f, 1
	t.occupied++

	va := vm.PageRoundUp(space.HighWaterMark())
	err = t.mapper.Map(space, va, vm.PageSize, f, vm.PermWrite|vm.PermUser)
	ev.VA, ev.PhysAddr, ev.Err = va, f.PhysAddr(), err
	if err != nil && t.rollback {
		// nobody else has seen the frame, hand it back regardless of ReclaimFrames
		t.releaseSlot(s, true)
		ev.Result = ResultMapFailed
		t.emit(ctx, span, ev)
		return va, err
	}
	space.SetHighWaterMark(va + vm.PageSize)
	ev.Result, ev.Refs = ResultCreated, s.refs
	if err != nil {
		ev.Result = ResultMapFailed
	}
	t.emit(ctx, span, ev)
	return va, err
}

// Close drops one unit of interest in key. Under ReleaseDeferred a slot whose
// count is already zero is freed, otherwise the count is decremented. Under
// ReleaseOnZero the slot is freed as soon as the count reaches zero.
func (t *Table) Close(ctx context.Context, key Key) error {
	ctx, span := t.tracer.Start(ctx, "region.Close", trace.WithAttributes(
		attribute.Int("shm.key", int(key)),
	))
	defer span.End()

	t.mu.Lock()
	defer t.mu.Unlock()

	ev := Event{Op: OpClose, Key: key, PID: -1}
	if key == 0 {
		ev.Result, ev.Err = ResultInvalidKey, ErrInvalidKey
		t.emit(ctx, span, ev)
		return ErrInvalidKey
	}

	i := t.find(key)
	if i < 0 {
		ev.Result, ev.Err = ResultUnknownKey, ErrUnknownKey
		t.emit(ctx, span, ev)
		return ErrUnknownKey
	}
	s := &t.slots[i]
	ev.PhysAddr = s.frame.PhysAddr()
	if s.refs > 0 {
		s.refs--
		if s.refs > 0 || t.release == ReleaseDeferred {
			ev.Result, ev.Refs = ResultDecremented, s.refs
			t.emit(ctx, span, ev)
			return nil
		}
	}
	t.releaseSlot(s, t.reclaim)
	ev.Result = ResultReleased
	t.emit(ctx, span, ev)
	return nil
}

// releaseSlot clears s and, when reclaim is set, hands its frame back.
func (t *Table) releaseSlot(s *slot, reclaim bool) {
	f := s.frame
	s.reset()
	t.occupied--
	if !reclaim || f == nil {
		return
	}
	if err := t.frames.Free(f); err != nil {
		logger.Warnf("free frame %#x: %v", f.PhysAddr(), err)
	}
}

func (t *Table) find(key Key) int {
	for i := range t.slots {
		if t.slots[i].key == key {
			return i
		}
	}
	return -1
}

func (t *Table) findFree() int {
	return t.find(0)
}

// emit must be called with t.mu held.
func (t *Table) emit(ctx context.Context, span trace.Span, ev Event) {
	ev.Time = time.Now()
	if ev.Err != nil {
		span.RecordError(ev.Err)
		span.SetStatus(codes.Error, ev.Result.String())
	}
	span.SetAttributes(attribute.String("shm.result", ev.Result.String()))
	t.metrics.observe(ctx, ev, t.occupied)
	if t.observer != nil {
		t.observer.Observe(ev)
	}
	if ev.Err != nil {
		logger.Debugf("%s key %d pid %d: %s: %v", ev.Op, ev.Key, ev.PID, ev.Result, ev.Err)
	} else {
		logger.Tracef("%s key %d pid %d: %s va %#x refs %d", ev.Op, ev.Key, ev.PID, ev.Result, ev.VA, ev.Refs)
	}
}

// Lookup returns the slot holding key.
func (t *Table) Lookup(key Key) (SlotInfo, bool) {
	if key == 0 {
		return SlotInfo{}, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	i := t.find(key)
	if i < 0 {
		return SlotInfo{}, false
	}
	return t.info(i), true
}

// Snapshot returns the occupied slots in slot order.
func (t *Table) Snapshot() []SlotInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]SlotInfo, 0, t.occupied)
	for i := range t.slots {
		if t.slots[i].key != 0 {
			out = append(out, t.info(i))
		}
	}
	return out
}

func (t *Table) info(i int) SlotInfo {
	s := &t.slots[i]
	return SlotInfo{Index: i, Key: s.key, PhysAddr: s.frame.PhysAddr(), Refs: s.refs}
}

// Stats returns slot usage.
func (t *Table) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Stats{Capacity: len(t.slots), Occupied: t.occupied, Free: len(t.slots) - t.occupied}
}

// Unregister removes the table's collectors from the configured Registerer.
// The table keeps working; its metrics are no longer exported.
func (t *Table) Unregister() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.metrics.unregister()
}

// Capacity returns the number of slots.
func (t *Table) Capacity() int {
	return len(t.slots)
}
