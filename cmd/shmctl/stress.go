package main

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/srediag/shmregion/pkg/kernel"
	"github.com/srediag/shmregion/pkg/region"
	"github.com/srediag/shmregion/pkg/vm"
)

type stressOptions struct {
	procs int
	keys  int
	ops   int
	seed  int64
}

func init() {
	rootCmd.AddCommand(newStressCmd())
}

func newStressCmd() *cobra.Command {
	opts := stressOptions{}
	cmd := &cobra.Command{
		Use:   "stress",
		Short: "Open and close random keys from many processes at once",
		Long: `The stress command spawns --procs processes that each issue --ops random
opens and closes over keys 1..--keys on the worker pool, then checks that no key
holds two slots and prints the counts.

Example:
  shmctl stress --procs 32 --keys 100 --ops 1000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.procs <= 0 || opts.keys <= 0 || opts.ops < 0 {
				return fmt.Errorf("procs and keys must be positive, ops must not be negative")
			}
			k, err := boot(cmd.Context())
			if err != nil {
				return err
			}
			defer k.Shutdown(context.Background())
			return runStress(cmd.Context(), cmd.OutOrStdout(), k, opts)
		},
	}
	cmd.Flags().IntVar(&opts.procs, "procs", 16, "number of processes")
	cmd.Flags().IntVar(&opts.keys, "keys", 96, "keys are drawn from 1..keys")
	cmd.Flags().IntVar(&opts.ops, "ops", 500, "operations per process")
	cmd.Flags().Int64Var(&opts.seed, "seed", 1, "random seed")
	return cmd
}

type stressCounts struct {
	opens, full, mapFailed, closes, unknown atomic.Int64
}

func runStress(ctx context.Context, w io.Writer, k *kernel.Kernel, opts stressOptions) error {
	var c stressCounts
	tasks := make([]kernel.Task, opts.procs)
	for i := range tasks {
		p := k.Spawn()
		rng := rand.New(rand.NewSource(opts.seed + int64(i)))
		tasks[i] = func(ctx context.Context) error {
			for j := 0; j < opts.ops; j++ {
				key := region.Key(rng.Intn(opts.keys) + 1)
				if rng.Intn(2) == 0 {
					_, err := k.ShmOpen(ctx, p.PID(), key)
					var mapErr *vm.MapError
					switch {
					case err == nil:
						c.opens.Add(1)
					case errors.Is(err, region.ErrTableFull):
						c.full.Add(1)
					case errors.As(err, &mapErr):
						c.mapFailed.Add(1)
					default:
						return err
					}
					continue
				}
				err := k.ShmClose(ctx, p.PID(), key)
				switch {
				case err == nil:
					c.closes.Add(1)
				case errors.Is(err, region.ErrUnknownKey):
					c.unknown.Add(1)
				default:
					return err
				}
			}
			return nil
		}
	}

	start := time.Now()
	if err := k.Run(ctx, tasks...); err != nil {
		return err
	}
	elapsed := time.Since(start)

	seen := map[region.Key]int{}
	for _, info := range k.Table().Snapshot() {
		if prev, dup := seen[info.Key]; dup {
			return errors.Errorf("key %d held by slots %d and %d", info.Key, prev, info.Index)
		}
		seen[info.Key] = info.Index
	}
	st := k.Table().Stats()
	fs := k.Frames().Stats()
	fmt.Fprintf(w, "procs:%d ops:%d elapsed:%s\n", opts.procs, opts.procs*opts.ops, elapsed.Round(time.Millisecond))
	fmt.Fprintf(w, "open ok:%d full:%d map_failed:%d\n", c.opens.Load(), c.full.Load(), c.mapFailed.Load())
	fmt.Fprintf(w, "close ok:%d unknown:%d\n", c.closes.Load(), c.unknown.Load())
	fmt.Fprintf(w, "slots occupied:%d/%d frames free:%d/%d audit queued:%d\n",
		st.Occupied, st.Capacity, fs.Free, fs.Total, k.Audit().Len())
	// the trail of a stress run is too long to be useful in the log
	_ = k.Audit().Drain(0)
	return nil
}
