package vm

import (
	"fmt"

	"github.com/pkg/errors"
)

// Map status codes. Zero means success.
const (
	StatusOK         = 0
	StatusBadSpace   = -1
	StatusMisaligned = -2
	StatusNoSpace    = -3
	StatusRemap      = -4
	StatusBadSize    = -5
)

var (
	ErrNotMapped  = errors.New("address not mapped")
	ErrPermission = errors.New("page not user accessible")
	ErrAlignment  = errors.New("address not 8-byte aligned")
	ErrNoMemory   = errors.New("frame memory released")
)

// MapError reports a failed Map call.
type MapError struct {
	Status int
	VA     uintptr
	Reason string
}

func (e *MapError) Error() string {
	return fmt.Sprintf("map %#x: %s (status %d)", e.VA, e.Reason, e.Status)
}

// MapStatus converts a Map result into its status code.
func MapStatus(err error) int {
	if err == nil {
		return StatusOK
	}
	var me *MapError
	if errors.As(err, &me) {
		return me.Status
	}
	return StatusBadSpace
}
