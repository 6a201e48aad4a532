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

package region

import (
	"fmt"
	"time"
)

type Op uint8

const (
	OpOpen Op = iota
	OpClose
)

func (o Op) String() string {
	switch o {
	case OpOpen:
		return "open"
	case OpClose:
		return "close"
	}
	return fmt.Sprintf("Op(%d)", uint8(o))
}

// Result is the outcome of one Open or Close.
type Result uint8

const (
	ResultCreated Result = iota
	ResultJoined
	ResultMapFailed
	ResultTableFull
	ResultAllocFailed
	ResultInvalidKey
	ResultDecremented
	ResultReleased
	ResultUnknownKey
)

var resultNames = []string{
	"created",
	"joined",
	"map_failed",
	"table_full",
	"alloc_failed",
	"invalid_key",
	"decremented",
	"released",
	"unknown_key",
}

func (r Result) String() string {
	if int(r) < len(resultNames) {
		return resultNames[r]
	}
	return fmt.Sprintf("Result(%d)", uint8(r))
}

// Event describes one table operation. PID is -1 for Close, which is not tied
// to an address space.
type Event struct {
	Time     time.Time
	Op       Op
	Result   Result
	Key      Key
	PID      int
	VA       uintptr
	PhysAddr uintptr
	Refs     int
	Err      error
}

// Observer receives table events. It runs under the table lock and must not call
// back into the table.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) Observe(e Event) { f(e) }
