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
	"strings"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// DefaultCapacity is the number of distinct keys a table holds.
const DefaultCapacity = 64

// ReleasePolicy decides which Close frees a slot.
type ReleasePolicy uint8

const (
	// ReleaseDeferred decrements the reference count on Close and frees the slot
	// on the next Close after the count has reached zero. A region opened n times
	// is freed by the (n+1)th Close.
	ReleaseDeferred ReleasePolicy = iota
	// ReleaseOnZero frees the slot on the Close that brings the count to zero.
	ReleaseOnZero
)

var releasePolicyNames = []string{"deferred", "on-zero"}

func (p ReleasePolicy) String() string {
	if int(p) < len(releasePolicyNames) {
		return releasePolicyNames[p]
	}
	return fmt.Sprintf("ReleasePolicy(%d)", uint8(p))
}

// MarshalText implements encoding.TextMarshaler.
func (p ReleasePolicy) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *ReleasePolicy) UnmarshalText(b []byte) error {
	s := strings.ToLower(strings.TrimSpace(string(b)))
	for i, name := range releasePolicyNames {
		if s == name {
			*p = ReleasePolicy(i)
			return nil
		}
	}
	return errors.Errorf("unknown release policy %q", s)
}

// Config is used to tune the region table.
type Config struct {
	// Capacity is the number of slots.
	Capacity int `yaml:"capacity"`

	// Release selects when Close frees a slot.
	Release ReleasePolicy `yaml:"release"`

	// RollbackOnMapFailure undoes the slot creation or reference increment and the
	// high-water-mark advance when the mapper fails. When false the table keeps the
	// bookkeeping and only the error reaches the caller.
	RollbackOnMapFailure bool `yaml:"rollbackOnMapFailure"`

	// ReclaimFrames returns a released slot's frame to the allocator.
	// Existing mappings are not torn down, so they alias whichever region
	// is handed the frame next.
	ReclaimFrames bool `yaml:"reclaimFrames"`

	// Registerer receives the table's prometheus collectors. Nil skips registration.
	Registerer prometheus.Registerer `yaml:"-"`

	// Meter and Tracer default to no-op implementations.
	Meter  metric.Meter `yaml:"-"`
	Tracer trace.Tracer `yaml:"-"`

	// Observer is notified of every Open and Close with the table lock held.
	Observer Observer `yaml:"-"`
}

// DefaultConfig is used to create a default config.
func DefaultConfig() *Config {
	return &Config{
		Capacity:      DefaultCapacity,
		Release:       ReleaseDeferred,
		ReclaimFrames: true,
	}
}

// VerifyConfig is used to verify the sanity of configuration.
func VerifyConfig(config *Config) error {
	if config.Capacity <= 0 {
		return errors.Errorf("capacity must be positive, got %d", config.Capacity)
	}
	if int(config.Release) >= len(releasePolicyNames) {
		return errors.Errorf("invalid release policy %d", config.Release)
	}
	return nil
}
