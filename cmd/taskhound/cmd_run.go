package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the discover-dispatch loop until interrupted",
	Long: `Runs continuous cycles: discover new work from all configured
sources, claim the highest-priority pending items, dispatch them to the
execution agent, and record the outcomes. Stops cleanly on SIGINT or
SIGTERM, releasing any claimed items back to pending.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		sys, err := requireSystem(false)
		if err != nil {
			return err
		}
		defer sys.close()

		ctx, cancel := signalContext()
		defer cancel()

		fmt.Println("taskhound running; Ctrl-C to stop")
		err = sys.sched.Run(ctx)
		if errors.Is(err, context.Canceled) {
			fmt.Println("stopped")
			return nil
		}
		return err
	},
}

var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Run a single discover-dispatch cycle and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		sys, err := requireSystem(true)
		if err != nil {
			return err
		}
		defer sys.close()

		ctx, cancel := signalContext()
		defer cancel()

		stats, err := sys.sched.RunCycle(ctx)
		if stats != nil {
			fmt.Printf("cycle: %d discovered, %d claimed, %d completed, %d requeued, %d failed\n",
				stats.Discovered, stats.Claimed, stats.Completed, stats.Requeued, stats.Failed)
		}
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}
