package vm

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srediag/shmregion/pkg/frame"
)

type fakeSpace struct{ hwm uintptr }

func (f *fakeSpace) PID() int                   { return 0 }
func (f *fakeSpace) HighWaterMark() uintptr     { return f.hwm }
func (f *fakeSpace) SetHighWaterMark(v uintptr) { f.hwm = v }

func newFrames(t *testing.T, n int) *frame.Pool {
	t.Helper()
	p, err := frame.NewPool(context.Background(), &frame.PoolConfig{Frames: n, Base: 0x100000})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close(context.Background()) })
	return p
}

func TestPageRounding(t *testing.T) {
	assert.Equal(t, uintptr(0), PageRoundUp(0))
	assert.Equal(t, uintptr(PageSize), PageRoundUp(1))
	assert.Equal(t, uintptr(PageSize), PageRoundUp(PageSize))
	assert.Equal(t, uintptr(2*PageSize), PageRoundUp(PageSize+1))
	assert.Equal(t, uintptr(PageSize), PageRoundDown(2*PageSize-1))
}

func TestPermString(t *testing.T) {
	assert.Equal(t, "-", Perm(0).String())
	assert.Equal(t, "W|U", (PermWrite | PermUser).String())
	assert.Equal(t, "U", PermUser.String())
}

func TestMapAndAccess(t *testing.T) {
	frames := newFrames(t, 2)
	f, err := frames.Alloc()
	require.NoError(t, err)

	as := NewAddressSpace(1, 3*PageSize, 0)
	assert.Equal(t, DefaultLimit, as.Limit())
	require.NoError(t, PageMapper{}.Map(as, 3*PageSize, PageSize, f, PermWrite|PermUser))
	assert.Equal(t, 1, as.Mapped())

	got, perm, ok := as.Translate(3*PageSize + 100)
	require.True(t, ok)
	assert.Same(t, f, got)
	assert.Equal(t, PermWrite|PermUser, perm)

	require.NoError(t, as.StoreUint64(3*PageSize+8, 0xdeadbeef))
	v, err := as.LoadUint64(3*PageSize + 8)
	require.NoError(t, err)
	assert.Equal(t, uint64(0xdeadbeef), v)
	assert.Equal(t, byte(0xef), f.Bytes()[8])
}

func TestAccessErrors(t *testing.T) {
	frames := newFrames(t, 2)
	f, err := frames.Alloc()
	require.NoError(t, err)
	as := NewAddressSpace(1, 0, 0)

	_, err = as.LoadUint64(0)
	assert.ErrorIs(t, err, ErrNotMapped)

	require.NoError(t, PageMapper{}.Map(as, 0, PageSize, f, PermUser))
	_, err = as.LoadUint64(3)
	assert.ErrorIs(t, err, ErrAlignment)
	assert.ErrorIs(t, as.StoreUint64(0, 1), ErrPermission, "read-only page")

	g, err := frames.Alloc()
	require.NoError(t, err)
	require.NoError(t, PageMapper{}.Map(as, PageSize, PageSize, g, PermWrite))
	_, err = as.LoadUint64(PageSize)
	assert.ErrorIs(t, err, ErrPermission, "kernel-only page")
}

func TestMapFailures(t *testing.T) {
	frames := newFrames(t, 1)
	f, err := frames.Alloc()
	require.NoError(t, err)
	as := NewAddressSpace(1, 0, 4*PageSize)
	m := PageMapper{}
	perm := PermWrite | PermUser

	cases := []struct {
		name   string
		space  Space
		va     uintptr
		size   uintptr
		status int
	}{
		{"foreign space", &fakeSpace{}, 0, PageSize, StatusBadSpace},
		{"nil space", (*AddressSpace)(nil), 0, PageSize, StatusBadSpace},
		{"bad size", as, 0, 2 * PageSize, StatusBadSize},
		{"misaligned", as, 10, PageSize, StatusMisaligned},
		{"at limit", as, 4 * PageSize, PageSize, StatusNoSpace},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := m.Map(c.space, c.va, c.size, f, perm)
			require.Error(t, err)
			assert.Equal(t, c.status, MapStatus(err))
		})
	}

	require.NoError(t, m.Map(as, 0, PageSize, f, perm))
	err = m.Map(as, 0, PageSize, f, perm)
	assert.Equal(t, StatusRemap, MapStatus(err))
	var me *MapError
	require.True(t, errors.As(err, &me))
	assert.Equal(t, uintptr(0), me.VA)
	assert.Contains(t, me.Error(), "already mapped")
}

func TestMapStatus(t *testing.T) {
	assert.Equal(t, StatusOK, MapStatus(nil))
	assert.Equal(t, StatusBadSpace, MapStatus(errors.New("other")))
	assert.Equal(t, StatusNoSpace, MapStatus(errors.Wrap(&MapError{Status: StatusNoSpace}, "wrapped")))
}

func TestHighWaterMark(t *testing.T) {
	as := NewAddressSpace(7, 100, 0)
	assert.Equal(t, 7, as.PID())
	assert.Equal(t, uintptr(100), as.HighWaterMark())
	as.SetHighWaterMark(PageSize)
	assert.Equal(t, uintptr(PageSize), as.HighWaterMark())
}

func TestAccessAfterPoolClose(t *testing.T) {
	frames := newFrames(t, 1)
	f, err := frames.Alloc()
	require.NoError(t, err)
	as := NewAddressSpace(1, 0, 0)
	require.NoError(t, PageMapper{}.Map(as, 0, PageSize, f, PermWrite|PermUser))
	require.NoError(t, frames.Close(context.Background()))

	assert.NotPanics(t, func() {
		_, err = as.LoadUint64(8)
		assert.ErrorIs(t, err, ErrNoMemory)
		assert.ErrorIs(t, as.StoreUint64(8, 1), ErrNoMemory)
	})
}
