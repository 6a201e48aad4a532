// Package frame provides the physical frame allocator used by the region table.
//
// A Pool carves one backing region into page-size frames. Physical addresses are
// synthetic: they start at PoolConfig.Base and advance one page per frame, which is
// enough for page tables to reason about alignment and identity.
package frame

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	internalshm "github.com/srediag/shmregion/internal/shm"
)

// PageSize is the size of one frame in bytes.
const PageSize = 4096

var (
	ErrOutOfFrames       = errors.New("out of physical frames")
	ErrFrameNotAllocated = errors.New("frame not allocated")
)

// Frame is one page of physical memory owned by a Pool.
type Frame struct {
	pa    uintptr
	data  []byte
	inUse bool
}

// PhysAddr returns the frame's physical address.
func (f *Frame) PhysAddr() uintptr { return f.pa }

// Bytes returns the frame contents. Every mapping of the frame aliases this slice.
func (f *Frame) Bytes() []byte { return f.data }

// Size returns the frame size in bytes.
func (f *Frame) Size() uintptr { return uintptr(len(f.data)) }

// PoolConfig holds pool creation parameters.
type PoolConfig struct {
	// Frames is the number of frames in the pool.
	Frames int `yaml:"frames"`
	// Base is the physical address of the first frame, page aligned.
	Base uintptr `yaml:"base"`
	// MemMapType selects the backing memory.
	MemMapType internalshm.MemMapType `yaml:"memMapType"`
	// Name identifies memfd or /dev/shm backings.
	Name string `yaml:"name"`
}

// DefaultPoolConfig returns a heap-backed pool of 256 frames starting at 1MiB.
func DefaultPoolConfig() *PoolConfig {
	return &PoolConfig{
		Frames:     256,
		Base:       0x100000,
		MemMapType: internalshm.MemMapTypeHeap,
		Name:       "shmregion-frames",
	}
}

// VerifyPoolConfig checks cfg before a pool is built from it.
func VerifyPoolConfig(cfg *PoolConfig) error {
	if cfg.Frames <= 0 {
		return errors.Errorf("frame count must be positive, got %d", cfg.Frames)
	}
	if cfg.Base%PageSize != 0 {
		return errors.Errorf("frame base %#x is not page aligned", cfg.Base)
	}
	return nil
}

// Pool is a fixed set of frames handed out lowest address first.
type Pool struct {
	mu     sync.Mutex
	frames []*Frame
	free   int
	base   uintptr
	region *internalshm.MappedRegion
}

// NewPool maps the backing memory and splits it into frames.
func NewPool(ctx context.Context, cfg *PoolConfig) (*Pool, error) {
	if cfg == nil {
		cfg = DefaultPoolConfig()
	}
	if err := VerifyPoolConfig(cfg); err != nil {
		return nil, err
	}
	region, err := internalshm.MapRegion(ctx, internalshm.MapOptions{
		Name: cfg.Name,
		Size: cfg.Frames * PageSize,
		Type: cfg.MemMapType,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "map %s backing for %d frames", cfg.MemMapType, cfg.Frames)
	}
	p := &Pool{
		frames: make([]*Frame, cfg.Frames),
		free:   cfg.Frames,
		base:   cfg.Base,
		region: region,
	}
	for i := range p.frames {
		off := i * PageSize
		p.frames[i] = &Frame{
			pa:   cfg.Base + uintptr(off),
			data: region.Addr[off : off+PageSize : off+PageSize],
		}
	}
	logger.Debugf("frame pool ready: %d frames at %#x (%s)", cfg.Frames, cfg.Base, cfg.MemMapType)
	return p, nil
}

// Alloc returns a zero-filled frame.
func (p *Pool) Alloc() (*Frame, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.free == 0 {
		return nil, ErrOutOfFrames
	}
	for _, f := range p.frames {
		if !f.inUse {
			f.inUse = true
			p.free--
			clear(f.data)
			return f, nil
		}
	}
	return nil, ErrOutOfFrames
}

// Free returns f to the pool.
func (p *Pool) Free(f *Frame) error {
	if f == nil {
		return errors.Wrap(ErrFrameNotAllocated, "nil frame")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	own, ok := p.lookupLocked(f.pa)
	if !ok || own != f || !f.inUse {
		return errors.Wrapf(ErrFrameNotAllocated, "frame %#x", f.pa)
	}
	f.inUse = false
	p.free++
	return nil
}

// Lookup returns the allocated frame at physical address pa.
func (p *Pool) Lookup(pa uintptr) (*Frame, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	f, ok := p.lookupLocked(pa)
	if !ok || !f.inUse {
		return nil, false
	}
	return f, true
}

func (p *Pool) lookupLocked(pa uintptr) (*Frame, bool) {
	if pa < p.base || (pa-p.base)%PageSize != 0 {
		return nil, false
	}
	i := int((pa - p.base) / PageSize)
	if i >= len(p.frames) {
		return nil, false
	}
	return p.frames[i], true
}

// PoolStats is a point-in-time view of pool usage.
type PoolStats struct {
	Total int
	Free  int
}

// Stats returns the number of total and free frames.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStats{Total: len(p.frames), Free: p.free}
}

// Close unmaps the backing memory. Frames must not be used afterwards.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := internalshm.UnmapRegion(ctx, p.region); err != nil {
		return errors.Wrap(err, "unmap frame pool")
	}
	for _, f := range p.frames {
		f.data = nil
		f.inUse = false
	}
	p.free = 0
	return nil
}
