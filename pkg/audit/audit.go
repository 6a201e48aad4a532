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

// Package audit keeps a trail of region table events and writes them out as
// structured log entries.
package audit

import (
	"github.com/Workiva/go-datastructures/queue"
	"github.com/sirupsen/logrus"

	"github.com/srediag/shmregion/internal/logging"
	"github.com/srediag/shmregion/pkg/region"
)

// DefaultCapacity is the initial size hint of the event queue.
const DefaultCapacity = 1024

var logger = logging.New("audit")

// Log queues region events. It implements region.Observer; Observe never
// blocks, so it is safe to call with the table lock held.
type Log struct {
	q   *queue.Queue
	out *logrus.Logger
}

// New returns a Log whose queue starts with room for capacity events.
// A non-positive capacity means DefaultCapacity.
func New(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{
		q:   queue.New(int64(capacity)),
		out: logging.Base(),
	}
}

// Observe implements region.Observer.
func (l *Log) Observe(e region.Event) {
	if err := l.q.Put(e); err != nil {
		// the queue has been disposed
		logger.Debugf("drop %s event for key %d: %v", e.Op, e.Key, err)
	}
}

// Len returns the number of queued events.
func (l *Log) Len() int {
	return int(l.q.Len())
}

// Drain removes up to max queued events in arrival order. A non-positive max
// drains everything. It never blocks.
func (l *Log) Drain(max int) []region.Event {
	if l.q.Empty() {
		return nil
	}
	n := l.q.Len()
	if max > 0 && int64(max) < n {
		n = int64(max)
	}
	items, err := l.q.Get(n)
	if err != nil {
		return nil
	}
	out := make([]region.Event, 0, len(items))
	for _, it := range items {
		if e, ok := it.(region.Event); ok {
			out = append(out, e)
		}
	}
	return out
}

// Flush drains the queue and writes one structured entry per event. Failed
// operations are logged at warn level. It returns the number of entries written.
func (l *Log) Flush() int {
	events := l.Drain(0)
	for _, e := range events {
		entry := l.out.WithFields(Fields(e))
		if e.Err != nil {
			entry.WithError(e.Err).Warn("region " + e.Op.String())
			continue
		}
		entry.Info("region " + e.Op.String())
	}
	return len(events)
}

// Fields renders an event as logrus fields.
func Fields(e region.Event) logrus.Fields {
	f := logrus.Fields{
		"op":     e.Op.String(),
		"result": e.Result.String(),
		"key":    int(e.Key),
		"refs":   e.Refs,
	}
	if e.PID >= 0 {
		f["pid"] = e.PID
	}
	if e.VA != 0 {
		f["va"] = e.VA
	}
	if e.PhysAddr != 0 {
		f["frame"] = e.PhysAddr
	}
	return f
}

// Dispose releases the queue. Later events are dropped.
func (l *Log) Dispose() {
	l.q.Dispose()
}

// Disposed reports whether Dispose has been called.
func (l *Log) Disposed() bool {
	return l.q.Disposed()
}
