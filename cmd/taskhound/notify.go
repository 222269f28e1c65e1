package main

import (
	"context"
	"fmt"

	"taskhound/internal/logging"
	"taskhound/internal/scheduler"
	"taskhound/internal/tracker"
	"taskhound/internal/types"
)

// notifyTracker posts the verdict back to the issue tracker for items
// that originated there. Failures are logged, never fatal: the queue
// already holds the authoritative outcome.
func notifyTracker(client tracker.Client) scheduler.TerminalHook {
	return func(ctx context.Context, item *types.WorkItem, status types.ItemStatus, outcome *types.ExecutionOutcome) {
		if item.Source != "issues" {
			return
		}

		var body string
		switch status {
		case types.StatusCompleted:
			body = fmt.Sprintf("taskhound completed this after %d attempt(s).", item.Attempts)
			if len(outcome.FilesModified) > 0 {
				body += fmt.Sprintf(" Files touched: %v.", outcome.FilesModified)
			}
		case types.StatusFailed:
			body = fmt.Sprintf("taskhound gave up after %d attempt(s): %s", item.Attempts, outcome.Error)
		default:
			return
		}

		if err := client.PostComment(ctx, item.SourceRef, body); err != nil {
			logging.SchedulerWarn("Could not post tracker comment for %s: %v", item.ID, err)
			return
		}
		label := "taskhound-done"
		if status == types.StatusFailed {
			label = "taskhound-failed"
		}
		if err := client.AddLabels(ctx, item.SourceRef, []string{label}); err != nil {
			logging.SchedulerWarn("Could not label issue %s: %v", item.SourceRef, err)
		}
	}
}
