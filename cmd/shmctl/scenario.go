package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/srediag/shmregion/pkg/kernel"
	"github.com/srediag/shmregion/pkg/region"
)

func init() {
	rootCmd.AddCommand(newScenarioCmd())
}

func newScenarioCmd() *cobra.Command {
	var key int32
	cmd := &cobra.Command{
		Use:   "scenario",
		Short: "Replay the two-process open/close scenario",
		Long: `The scenario command boots a fresh table, has two processes open the same
key, then closes it until the table reports the key unknown. Each step prints
the call, its result, and the slot afterwards.

Example:
  shmctl scenario
  shmctl scenario --key 9`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := boot(cmd.Context())
			if err != nil {
				return err
			}
			defer k.Shutdown(context.Background())
			return runScenario(cmd.Context(), cmd.OutOrStdout(), k, region.Key(key))
		},
	}
	cmd.Flags().Int32Var(&key, "key", 5, "region key")
	return cmd
}

func runScenario(ctx context.Context, w io.Writer, k *kernel.Kernel, key region.Key) error {
	p1, p2 := k.Spawn(), k.Spawn()

	slot := func() string {
		info, ok := k.Table().Lookup(key)
		if !ok {
			return "slot: none"
		}
		return fmt.Sprintf("slot: %d frame: %#x refs: %d", info.Index, info.PhysAddr, info.Refs)
	}
	open := func(p *kernel.Process) error {
		va, err := k.ShmOpen(ctx, p.PID(), key)
		fmt.Fprintf(w, "pid %d open(%d) = %#x, %v; %s\n", p.PID(), key, va, err, slot())
		return err
	}
	closeKey := func(p *kernel.Process) error {
		err := k.ShmClose(ctx, p.PID(), key)
		fmt.Fprintf(w, "pid %d close(%d) = %v; %s\n", p.PID(), key, err, slot())
		return err
	}

	if err := open(p1); err != nil {
		return err
	}
	if err := open(p2); err != nil {
		return err
	}
	for _, p := range []*kernel.Process{p1, p2, p1} {
		if err := closeKey(p); err != nil {
			return err
		}
	}
	// the key is gone now
	_ = closeKey(p1)
	k.Audit().Flush()
	return nil
}
