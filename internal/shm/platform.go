// Package shm contains platform-specific helpers for the memory that backs the frame pool.
package shm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// MemMapType selects where a MappedRegion's bytes live.
type MemMapType uint8

const (
	// MemMapTypeHeap backs the region with ordinary Go memory.
	MemMapTypeHeap MemMapType = iota
	// MemMapTypeMemFd backs the region with an anonymous memfd mapping.
	MemMapTypeMemFd
	// MemMapTypeDevShmFile backs the region with a file under DevShmDir.
	MemMapTypeDevShmFile
)

var memMapTypeNames = []string{"heap", "memfd", "devshm"}

func (t MemMapType) String() string {
	if int(t) < len(memMapTypeNames) {
		return memMapTypeNames[t]
	}
	return fmt.Sprintf("MemMapType(%d)", uint8(t))
}

// MarshalText implements encoding.TextMarshaler.
func (t MemMapType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *MemMapType) UnmarshalText(b []byte) error {
	s := strings.ToLower(strings.TrimSpace(string(b)))
	for i, name := range memMapTypeNames {
		if s == name {
			*t = MemMapType(i)
			return nil
		}
	}
	return fmt.Errorf("unknown memory map type %q", s)
}

var (
	// ErrUnsupported is returned for map types the platform cannot provide.
	ErrUnsupported = errors.New("memory map type not supported on this platform")
	// ErrNoSpace is returned when /dev/shm cannot hold the requested region.
	ErrNoSpace = errors.New("share memory had not left space")
)

// MappedRegion represents a memory-mapped shared region.
type MappedRegion struct {
	Addr []byte
	Type MemMapType

	fd   int
	path string
}

// MapOptions defines options for mapping shared memory.
type MapOptions struct {
	Name string
	Size int
	Type MemMapType
}

// MapRegion maps a zeroed region of opts.Size bytes.
func MapRegion(ctx context.Context, opts MapOptions) (*MappedRegion, error) {
	if opts.Size <= 0 {
		return nil, fmt.Errorf("invalid region size %d", opts.Size)
	}
	if opts.Type == MemMapTypeHeap {
		return &MappedRegion{Addr: make([]byte, opts.Size), Type: MemMapTypeHeap, fd: -1}, nil
	}
	return mapPlatform(ctx, opts)
}

// UnmapRegion releases the region. Calling it twice is a no-op.
func UnmapRegion(ctx context.Context, region *MappedRegion) error {
	if region == nil || region.Addr == nil {
		return nil
	}
	if region.Type == MemMapTypeHeap {
		region.Addr = nil
		return nil
	}
	return unmapPlatform(ctx, region)
}
