//go:build !linux

package shm

import (
	"context"
	"fmt"
)

func mapPlatform(ctx context.Context, opts MapOptions) (*MappedRegion, error) {
	return nil, fmt.Errorf("%s: %w", opts.Type, ErrUnsupported)
}

func unmapPlatform(ctx context.Context, region *MappedRegion) error {
	region.Addr = nil
	return nil
}
