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

import "github.com/pkg/errors"

var (
	// ErrInvalidKey is returned for key 0, which marks unused slots.
	ErrInvalidKey = errors.New("region key 0 is reserved")
	// ErrTableFull is returned when a new key needs a slot and none is free.
	ErrTableFull = errors.New("region table full")
	// ErrUnknownKey is returned by Close when no slot holds the key.
	ErrUnknownKey = errors.New("unknown region key")
	// ErrNilSpace is returned when Open is called without an address space.
	ErrNilSpace = errors.New("nil address space")
)
