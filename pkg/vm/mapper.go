package vm

import (
	"github.com/srediag/shmregion/pkg/frame"
)

// PageMapper installs frames into AddressSpaces. It holds no state of its own
// and never calls back into its caller.
type PageMapper struct{}

// Map installs f at va in space. size must equal the frame size.
func (PageMapper) Map(space Space, va, size uintptr, f *frame.Frame, perm Perm) error {
	as, ok := space.(*AddressSpace)
	if !ok || as == nil {
		return &MapError{Status: StatusBadSpace, VA: va, Reason: "unknown address space"}
	}
	if f == nil || size == 0 || size != f.Size() || size%PageSize != 0 {
		return &MapError{Status: StatusBadSize, VA: va, Reason: "size does not match frame"}
	}
	if va%PageSize != 0 {
		return &MapError{Status: StatusMisaligned, VA: va, Reason: "virtual address not page aligned"}
	}
	if va >= as.limit || as.limit-va < size {
		return &MapError{Status: StatusNoSpace, VA: va, Reason: "mapping crosses address space limit"}
	}
	if !as.pages.SetIfAbsent(va, mapping{frame: f, perm: perm}) {
		return &MapError{Status: StatusRemap, VA: va, Reason: "page already mapped"}
	}
	logger.Tracef("pid %d: mapped %#x -> %#x [%s]", as.pid, va, f.PhysAddr(), perm)
	return nil
}
