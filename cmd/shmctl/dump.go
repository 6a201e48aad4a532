package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/srediag/shmregion/pkg/region"
)

func init() {
	rootCmd.AddCommand(newDumpCmd())
}

func newDumpCmd() *cobra.Command {
	var keys []int32
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Open keys from one process and print the table",
		Long: `The dump command boots a table, opens every key in --keys from a single
process, and prints the occupied slots.

Example:
  shmctl dump --keys 1,2,3,2`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			k, err := boot(ctx)
			if err != nil {
				return err
			}
			defer k.Shutdown(context.Background())

			p := k.Spawn()
			out := cmd.OutOrStdout()
			for _, key := range keys {
				if _, err := k.ShmOpen(ctx, p.PID(), region.Key(key)); err != nil {
					fmt.Fprintf(out, "open(%d): %v\n", key, err)
				}
			}
			region.DebugTableDetail(out, k.Table())
			_ = k.Audit().Drain(0)
			return nil
		},
	}
	cmd.Flags().Int32SliceVar(&keys, "keys", nil, "keys to open, in order")
	return cmd
}
