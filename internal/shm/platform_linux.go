//go:build linux

package shm

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/shirou/gopsutil/v3/disk"
	"golang.org/x/sys/unix"
)

// DevShmDir is where MemMapTypeDevShmFile regions are created.
var DevShmDir = "/dev/shm"

func mapPlatform(ctx context.Context, opts MapOptions) (*MappedRegion, error) {
	var (
		fd   int
		path string
		err  error
	)
	switch opts.Type {
	case MemMapTypeMemFd:
		fd, err = unix.MemfdCreate(opts.Name, unix.MFD_CLOEXEC)
		if err != nil {
			return nil, fmt.Errorf("memfd_create: %w", err)
		}
	case MemMapTypeDevShmFile:
		path = filepath.Join(DevShmDir, opts.Name)
		if !canCreateOnDevShm(uint64(opts.Size), path) {
			return nil, fmt.Errorf("err:%w path:%s, size:%d", ErrNoSpace, path, opts.Size)
		}
		fd, err = unix.Open(path, unix.O_RDWR|unix.O_CREAT|unix.O_CLOEXEC, 0600)
		if err != nil {
			return nil, fmt.Errorf("open: %w", err)
		}
	default:
		return nil, fmt.Errorf("%s: %w", opts.Type, ErrUnsupported)
	}

	if err := unix.Ftruncate(fd, int64(opts.Size)); err != nil {
		closeBacking(fd, path)
		return nil, fmt.Errorf("ftruncate: %w", err)
	}
	addr, err := unix.Mmap(fd, 0, opts.Size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		closeBacking(fd, path)
		return nil, fmt.Errorf("mmap: %w", err)
	}
	// an existing /dev/shm file may carry old bytes
	clear(addr)
	return &MappedRegion{Addr: addr, Type: opts.Type, fd: fd, path: path}, nil
}

func unmapPlatform(ctx context.Context, region *MappedRegion) error {
	if err := unix.Munmap(region.Addr); err != nil {
		return fmt.Errorf("munmap: %w", err)
	}
	region.Addr = nil
	closeBacking(region.fd, region.path)
	region.fd = -1
	return nil
}

func closeBacking(fd int, path string) {
	_ = unix.Close(fd)
	if path != "" {
		_ = os.Remove(path)
	}
}

// canCreateOnDevShm only checks paths under DevShmDir, anything else is assumed to fit.
func canCreateOnDevShm(size uint64, path string) bool {
	if !strings.Contains(path, DevShmDir) {
		return true
	}
	stat, err := disk.Usage(DevShmDir)
	if err != nil {
		return false
	}
	return stat.Free >= size
}
