// Package health exposes liveness and readiness checks for the region table and
// the frame pool behind it.
package health

import (
	"time"

	"github.com/heptiolabs/healthcheck"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/srediag/shmregion/pkg/frame"
	"github.com/srediag/shmregion/pkg/region"
)

// DefaultLockTimeout bounds how long the liveness check waits for the table lock.
const DefaultLockTimeout = time.Second

// Check names, as reported by the handler's ?full=1 output.
const (
	CheckTableLock     = "region-table-lock"
	CheckTableCapacity = "region-table-capacity"
	CheckFramePool     = "frame-pool"
)

var (
	ErrTableFull = errors.New("region table has no free slot")
	ErrPoolEmpty = errors.New("frame pool has no free frame")
)

// Options tune NewHandler.
type Options struct {
	// LockTimeout defaults to DefaultLockTimeout.
	LockTimeout time.Duration
	// Registerer, when set, also exports every check as a prometheus gauge
	// under Namespace.
	Registerer prometheus.Registerer
	Namespace  string
}

// NewHandler returns a handler serving /live and /ready for t and p.
func NewHandler(t *region.Table, p *frame.Pool, opts *Options) healthcheck.Handler {
	if opts == nil {
		opts = &Options{}
	}
	timeout := opts.LockTimeout
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}

	var h healthcheck.Handler
	if opts.Registerer != nil {
		h = healthcheck.NewMetricsHandler(opts.Registerer, opts.Namespace)
	} else {
		h = healthcheck.NewHandler()
	}
	h.AddLivenessCheck(CheckTableLock, healthcheck.Timeout(TableLockCheck(t), timeout))
	h.AddReadinessCheck(CheckTableCapacity, TableCapacityCheck(t))
	h.AddReadinessCheck(CheckFramePool, FramePoolCheck(p))
	return h
}

// TableLockCheck succeeds once the table lock can be taken.
func TableLockCheck(t *region.Table) healthcheck.Check {
	return func() error {
		_ = t.Stats()
		return nil
	}
}

// TableCapacityCheck fails while every slot is occupied.
func TableCapacityCheck(t *region.Table) healthcheck.Check {
	return func() error {
		st := t.Stats()
		if st.Free == 0 {
			return errors.Wrapf(ErrTableFull, "%d/%d slots occupied", st.Occupied, st.Capacity)
		}
		return nil
	}
}

// FramePoolCheck fails while the pool has nothing left to hand out.
func FramePoolCheck(p *frame.Pool) healthcheck.Check {
	return func() error {
		st := p.Stats()
		if st.Free == 0 {
			return errors.Wrapf(ErrPoolEmpty, "%d frames in use", st.Total)
		}
		return nil
	}
}
