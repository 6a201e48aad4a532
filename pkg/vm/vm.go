// Package vm models per-process address spaces and the page mapping primitive
// that installs shared frames into them.
package vm

import (
	"fmt"
	"strings"

	"github.com/srediag/shmregion/pkg/frame"
)

// PageSize is the mapping granularity.
const PageSize = frame.PageSize

// PageRoundUp rounds a up to the next page boundary.
func PageRoundUp(a uintptr) uintptr {
	return (a + PageSize - 1) &^ (PageSize - 1)
}

// PageRoundDown rounds a down to the page containing it.
func PageRoundDown(a uintptr) uintptr {
	return a &^ (PageSize - 1)
}

// Perm holds page permission bits.
type Perm uint8

const (
	PermWrite Perm = 1 << iota
	PermUser
)

func (p Perm) String() string {
	if p == 0 {
		return "-"
	}
	var parts []string
	if p&PermWrite != 0 {
		parts = append(parts, "W")
	}
	if p&PermUser != 0 {
		parts = append(parts, "U")
	}
	if rest := p &^ (PermWrite | PermUser); rest != 0 {
		parts = append(parts, fmt.Sprintf("%#x", uint8(rest)))
	}
	return strings.Join(parts, "|")
}

// Space is the part of a process address space the region table touches: the
// high-water mark above which new mappings are appended.
type Space interface {
	PID() int
	HighWaterMark() uintptr
	SetHighWaterMark(uintptr)
}
