package scheduler

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"taskhound/internal/agent"
	"taskhound/internal/logging"
	"taskhound/internal/types"
)

// Dispatcher executes claimed work items against the agent with bounded
// concurrency. Each item gets its own timeout window; transient errors
// retry inside that window with exponential backoff.
type Dispatcher struct {
	executor   agent.Executor
	classifier *Classifier

	maxConcurrent int64
	timeout       time.Duration
	retries       int // in-window retries for transient errors
	baseDelay     time.Duration
	maxDelay      time.Duration
}

// NewDispatcher creates a dispatcher. Zero config fields fall back to
// defaults (concurrency 3, timeout 300s, 2 retries, 5s..2m backoff).
func NewDispatcher(executor agent.Executor, cfg Config) *Dispatcher {
	maxConcurrent := int64(cfg.MaxConcurrent)
	if maxConcurrent <= 0 {
		maxConcurrent = 3
	}
	timeout := cfg.DispatchTimeout
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	retries := cfg.DispatchRetries
	if retries < 0 {
		retries = 0
	}
	baseDelay := cfg.RetryBaseDelay
	if baseDelay <= 0 {
		baseDelay = 5 * time.Second
	}
	maxDelay := cfg.RetryMaxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Minute
	}
	return &Dispatcher{
		executor:      executor,
		classifier:    NewClassifier(),
		maxConcurrent: maxConcurrent,
		timeout:       timeout,
		retries:       retries,
		baseDelay:     baseDelay,
		maxDelay:      maxDelay,
	}
}

// DispatchBatch runs the batch concurrently under the semaphore and
// returns one outcome per item, in the input order.
func (d *Dispatcher) DispatchBatch(ctx context.Context, items []types.WorkItem, contextBlock string) []*types.ExecutionOutcome {
	sem := semaphore.NewWeighted(d.maxConcurrent)
	outcomes := make([]*types.ExecutionOutcome, len(items))
	var wg sync.WaitGroup

	for i := range items {
		if err := sem.Acquire(ctx, 1); err != nil {
			// Shutdown mid-batch: remaining items get no outcome and
			// stay active for the release pass.
			break
		}
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			defer sem.Release(1)
			outcomes[idx] = d.dispatchOne(ctx, &items[idx], contextBlock)
		}(i)
	}

	wg.Wait()
	return outcomes
}

// dispatchOne runs a single item inside its timeout window, retrying
// transient failures with backoff. Returns nil when shutdown interrupts
// the item before it produced a result.
func (d *Dispatcher) dispatchOne(ctx context.Context, item *types.WorkItem, contextBlock string) *types.ExecutionOutcome {
	itemCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	prompt := BuildPrompt(item)
	logging.SchedulerDebug("Dispatching %s (%s, priority %d)", item.ID, item.Type, item.Priority)

	var lastErr error
	for attempt := 0; ; attempt++ {
		result, err := d.executor.Execute(itemCtx, prompt, contextBlock)
		if err == nil {
			return result.Outcome(item.ID, nil)
		}
		lastErr = err

		if ctx.Err() != nil {
			// Process shutdown, not an item verdict.
			logging.SchedulerWarn("Dispatch of %s interrupted by shutdown", item.ID)
			return nil
		}

		class := d.classifier.Classify(err)
		if class != ClassTransient || attempt >= d.retries {
			break
		}

		delay := d.retryDelay(attempt)
		logging.SchedulerWarn("Transient failure for %s (attempt %d): %v, retrying in %v", item.ID, attempt+1, err, delay)
		select {
		case <-time.After(delay):
		case <-itemCtx.Done():
			lastErr = fmt.Errorf("dispatch window exhausted during backoff: %w", itemCtx.Err())
			return (&types.AgentResult{}).Outcome(item.ID, lastErr)
		}
	}

	logging.Scheduler("Dispatch of %s failed: %v", item.ID, lastErr)
	return (&types.AgentResult{}).Outcome(item.ID, lastErr)
}

// retryDelay is exponential from the base, capped at the max.
func (d *Dispatcher) retryDelay(attempt int) time.Duration {
	shift := attempt
	if shift < 0 {
		shift = 0
	}
	if shift > 10 {
		shift = 10
	}
	delay := d.baseDelay * time.Duration(1<<shift)
	if delay > d.maxDelay {
		delay = d.maxDelay
	}
	return delay
}

// BuildPrompt renders a work item as the task prompt for the agent.
func BuildPrompt(item *types.WorkItem) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task type: %s (priority %d/5)\n", item.Type, item.Priority)
	fmt.Fprintf(&b, "Title: %s\n", item.Title)
	if item.Description != "" {
		fmt.Fprintf(&b, "\n%s\n", item.Description)
	}
	if len(item.Context) > 0 {
		keys := make([]string, 0, len(item.Context))
		for k := range item.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("\nAdditional context:\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "  %s: %s\n", k, item.Context[k])
		}
	}
	return b.String()
}
