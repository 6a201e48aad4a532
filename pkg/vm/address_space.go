package vm

import (
	"sync"
	"unsafe"

	cmap "github.com/orcaman/concurrent-map/v2"

	internalshm "github.com/srediag/shmregion/internal/shm"
	"github.com/srediag/shmregion/pkg/frame"
)

// DefaultLimit is the first address above the user half, like KERNBASE.
const DefaultLimit uintptr = 0x80000000

type mapping struct {
	frame *frame.Frame
	perm  Perm
}

// AddressSpace is a process's user address space: a high-water mark and a page
// table from page address to frame.
type AddressSpace struct {
	pid   int
	limit uintptr

	mu  sync.Mutex
	hwm uintptr

	pages cmap.ConcurrentMap[uintptr, mapping]
}

// NewAddressSpace returns an empty address space whose high-water mark starts at
// size. Mappings must stay below limit; zero means DefaultLimit.
func NewAddressSpace(pid int, size, limit uintptr) *AddressSpace {
	if limit == 0 {
		limit = DefaultLimit
	}
	return &AddressSpace{
		pid:   pid,
		limit: limit,
		hwm:   size,
		pages: cmap.NewWithCustomShardingFunction[uintptr, mapping](shardPage),
	}
}

func shardPage(va uintptr) uint32 {
	return uint32(va / PageSize)
}

func (as *AddressSpace) PID() int { return as.pid }

// Limit returns the first address mappings may not reach.
func (as *AddressSpace) Limit() uintptr { return as.limit }

func (as *AddressSpace) HighWaterMark() uintptr {
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.hwm
}

func (as *AddressSpace) SetHighWaterMark(v uintptr) {
	as.mu.Lock()
	as.hwm = v
	as.mu.Unlock()
}

// Translate returns the frame mapped at the page containing va.
func (as *AddressSpace) Translate(va uintptr) (*frame.Frame, Perm, bool) {
	m, ok := as.pages.Get(PageRoundDown(va))
	if !ok {
		return nil, 0, false
	}
	return m.frame, m.perm, true
}

// Mapped returns the number of mapped pages.
func (as *AddressSpace) Mapped() int {
	return as.pages.Count()
}

// LoadUint64 reads the word at va as a user access.
func (as *AddressSpace) LoadUint64(va uintptr) (uint64, error) {
	p, err := as.word(va, 0)
	if err != nil {
		return 0, err
	}
	return internalshm.AtomicLoadUint64(p), nil
}

// StoreUint64 writes the word at va as a user access.
func (as *AddressSpace) StoreUint64(va uintptr, v uint64) error {
	p, err := as.word(va, PermWrite)
	if err != nil {
		return err
	}
	internalshm.AtomicStoreUint64(p, v)
	return nil
}

func (as *AddressSpace) word(va uintptr, need Perm) (unsafe.Pointer, error) {
	if va%8 != 0 {
		return nil, ErrAlignment
	}
	f, perm, ok := as.Translate(va)
	if !ok {
		return nil, ErrNotMapped
	}
	if perm&PermUser == 0 || perm&need != need {
		return nil, ErrPermission
	}
	off := va - PageRoundDown(va)
	b := f.Bytes()
	if uintptr(len(b)) < off+8 {
		return nil, ErrNoMemory
	}
	return unsafe.Pointer(&b[off]), nil
}
