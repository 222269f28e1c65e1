package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"taskhound/internal/queue"
)

var resetCmd = &cobra.Command{
	Use:   "reset [item-id...]",
	Short: "Return terminal items to pending with a fresh attempt count",
	Long: `Administratively requeues completed or failed items. Items that are
still pending or active are left alone and reported.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sys, err := requireSystem(true)
		if err != nil {
			return err
		}
		defer sys.close()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		var failed int
		for _, id := range args {
			switch err := sys.queue.Reset(ctx, id); {
			case err == nil:
				fmt.Printf("reset %s\n", id)
			case errors.Is(err, queue.ErrNotFound):
				fmt.Printf("skip %s: not found\n", id)
				failed++
			case errors.Is(err, queue.ErrNotTerminal):
				fmt.Printf("skip %s: not in a terminal state\n", id)
				failed++
			default:
				return err
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d item(s) not reset", failed)
		}
		return nil
	},
}
