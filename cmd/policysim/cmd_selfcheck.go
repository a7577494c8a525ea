package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/talgya/policysim/internal/montecarlo"
)

func newSelfCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "selfcheck",
		Short: "Run the built-in end-to-end sanity scenario",
		RunE: func(cmd *cobra.Command, args []string) error {
			seed, _ := cmd.Flags().GetUint64("seed")
			started := time.Now()
			if err := montecarlo.SelfCheck(cmd.Context(), seed); err != nil {
				return fmt.Errorf("selfcheck failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "selfcheck ok (%s)\n", time.Since(started).Round(time.Millisecond))
			return nil
		},
	}
	cmd.Flags().Uint64("seed", 42, "Random seed")
	return cmd
}
