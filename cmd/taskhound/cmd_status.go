package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"taskhound/internal/queue"
	"taskhound/internal/types"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status [item-id]",
	Short: "Show queue statistics, or one item's details and history",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sys, err := requireSystem(true)
		if err != nil {
			return err
		}
		defer sys.close()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if len(args) == 1 {
			return showItem(ctx, sys, args[0])
		}
		return showOverview(ctx, sys)
	},
}

func showOverview(ctx context.Context, sys *system) error {
	stats, err := sys.queue.GetStats(ctx)
	if err != nil {
		return err
	}
	profiles, err := sys.feedback.Profiles(ctx)
	if err != nil {
		return err
	}
	session := sys.session.Stats()

	if statusJSON {
		return json.NewEncoder(os.Stdout).Encode(map[string]interface{}{
			"queue":    stats,
			"profiles": profiles,
			"session":  session,
		})
	}

	fmt.Printf("Queue: %d item(s), %d touched in the last 24h\n", stats.Total, stats.UpdatedLast24)
	for _, status := range []types.ItemStatus{types.StatusPending, types.StatusActive, types.StatusCompleted, types.StatusFailed} {
		if n := stats.ByStatus[status]; n > 0 {
			fmt.Printf("  %-10s %d\n", status, n)
		}
	}

	if len(profiles) > 0 {
		fmt.Println("\nEffectiveness profiles:")
		w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
		fmt.Fprintln(w, "  SOURCE\tTYPE\tPRIO\tATTEMPTS\tSUCCESS\tMEAN")
		for _, p := range profiles {
			fmt.Fprintf(w, "  %s\t%s\t%d\t%d\t%.0f%%\t%.1fs\n",
				p.Source, p.ItemType, p.Priority, p.Attempts, p.SuccessRate()*100, p.MeanExecSecs)
		}
		w.Flush()
	}

	fmt.Printf("\nSession: %d live message(s), %d summaries, %d/%d tokens\n",
		session.LiveMessages, session.Summaries, session.TotalTokens, session.TokenBudget)
	return nil
}

func showItem(ctx context.Context, sys *system, id string) error {
	item, err := sys.queue.Get(ctx, id)
	if errors.Is(err, queue.ErrNotFound) {
		return fmt.Errorf("no work item with id %s", id)
	}
	if err != nil {
		return err
	}
	history, err := sys.queue.History(ctx, id)
	if err != nil {
		return err
	}

	if statusJSON {
		return json.NewEncoder(os.Stdout).Encode(map[string]interface{}{
			"item":    item,
			"history": history,
		})
	}

	fmt.Printf("%s  [%s]  %s\n", item.ID, item.Status, item.Title)
	fmt.Printf("  type=%s priority=%d source=%s/%s attempts=%d\n",
		item.Type, item.Priority, item.Source, item.SourceRef, item.Attempts)
	if item.Description != "" {
		fmt.Printf("  %s\n", item.Description)
	}
	for i, out := range history {
		verdict := "ok"
		if !out.Success {
			verdict = "failed: " + out.Error
		}
		fmt.Printf("  attempt %d: %s (%.1fs)\n", i+1, verdict, out.ExecutionTime.Seconds())
	}
	return nil
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "emit machine-readable output")
}
