// Package scheduler drives the work loop: discover, claim, dispatch,
// record, learn. One cycle is the unit of progress; the loop repeats on
// an interval until the context is canceled, then releases any claimed
// items it never finished.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"taskhound/internal/convo"
	"taskhound/internal/discovery"
	"taskhound/internal/logging"
	"taskhound/internal/queue"
	"taskhound/internal/types"
)

// Config controls the dispatch loop.
type Config struct {
	MaxConcurrent   int           // claim batch size and dispatch parallelism
	CycleInterval   time.Duration // sleep between cycles
	DispatchTimeout time.Duration // per-item execution window
	MaxRetries      int           // attempts before an item fails terminally
	DispatchRetries int           // in-window retries for transient errors
	RetryBaseDelay  time.Duration
	RetryMaxDelay   time.Duration
	ShutdownGrace   time.Duration // wait for in-flight work on stop
	SingleCycle     bool          // run one cycle and return
}

// applyDefaults fills zero fields.
func (c *Config) applyDefaults() {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 3
	}
	if c.CycleInterval <= 0 {
		c.CycleInterval = 60 * time.Second
	}
	if c.DispatchTimeout <= 0 {
		c.DispatchTimeout = 300 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = 10 * time.Second
	}
}

// workQueue is the queue surface the scheduler needs.
type workQueue interface {
	ClaimNext(ctx context.Context, n int, score queue.ScoreFunc) ([]types.WorkItem, error)
	RecordOutcome(ctx context.Context, id string, outcome *types.ExecutionOutcome, maxRetries int) (types.ItemStatus, error)
	ReleaseActive(ctx context.Context, ids []string) error
}

// discoverer runs one discovery pass.
type discoverer interface {
	RunCycle(ctx context.Context) (*discovery.CycleResult, error)
}

// outcomeRecorder folds terminal outcomes into effectiveness profiles.
type outcomeRecorder interface {
	Record(ctx context.Context, item *types.WorkItem, status types.ItemStatus, outcome *types.ExecutionOutcome) error
	Ranker() queue.ScoreFunc
}

// CycleStats summarizes one scheduler cycle.
type CycleStats struct {
	Discovered int
	Claimed    int
	Completed  int
	Requeued   int
	Failed     int
}

// TerminalHook observes items reaching a terminal status. The entry
// point installs it for outward side effects (tracker comments); core
// packages never call trackers directly.
type TerminalHook func(ctx context.Context, item *types.WorkItem, status types.ItemStatus, outcome *types.ExecutionOutcome)

// Scheduler owns the loop. Discovery, feedback, and the conversation
// manager are optional; the queue and dispatcher are not.
type Scheduler struct {
	cfg        Config
	q          workQueue
	disc       discoverer
	dispatcher *Dispatcher
	fb         outcomeRecorder
	session    *convo.Manager
	onTerminal TerminalHook
}

// New creates a scheduler. disc, fb, and session may be nil.
func New(cfg Config, q workQueue, disc discoverer, dispatcher *Dispatcher, fb outcomeRecorder, session *convo.Manager) *Scheduler {
	cfg.applyDefaults()
	return &Scheduler{cfg: cfg, q: q, disc: disc, dispatcher: dispatcher, fb: fb, session: session}
}

// SetTerminalHook installs the terminal-outcome observer.
func (s *Scheduler) SetTerminalHook(hook TerminalHook) {
	s.onTerminal = hook
}

// Run executes cycles until ctx is canceled (or one cycle in
// SingleCycle mode). On shutdown it waits up to ShutdownGrace for the
// in-flight cycle, then releases whatever is still claimed.
func (s *Scheduler) Run(ctx context.Context) error {
	logging.Scheduler("Scheduler starting (concurrency=%d, cycle=%v, max_retries=%d)",
		s.cfg.MaxConcurrent, s.cfg.CycleInterval, s.cfg.MaxRetries)

	for {
		done := make(chan struct{})
		var stats *CycleStats
		var cycleErr error
		go func() {
			defer close(done)
			stats, cycleErr = s.RunCycle(ctx)
		}()

		select {
		case <-done:
		case <-ctx.Done():
			// Give the in-flight cycle a grace window to settle.
			select {
			case <-done:
			case <-time.After(s.cfg.ShutdownGrace):
				logging.SchedulerWarn("Cycle did not finish within %v grace, abandoning", s.cfg.ShutdownGrace)
			}
			logging.Scheduler("Scheduler stopped")
			return ctx.Err()
		}

		if cycleErr != nil {
			logging.SchedulerWarn("Cycle failed: %v", cycleErr)
		} else if stats != nil {
			logging.Scheduler("Cycle done: %d discovered, %d claimed, %d completed, %d requeued, %d failed",
				stats.Discovered, stats.Claimed, stats.Completed, stats.Requeued, stats.Failed)
		}

		if s.cfg.SingleCycle {
			return cycleErr
		}

		select {
		case <-ctx.Done():
			logging.Scheduler("Scheduler stopped")
			return ctx.Err()
		case <-time.After(s.cfg.CycleInterval):
		}
	}
}

// RunCycle performs one discover-claim-dispatch-record pass.
func (s *Scheduler) RunCycle(ctx context.Context) (*CycleStats, error) {
	timer := logging.StartTimer(logging.CategoryScheduler, "RunCycle")
	defer timer.StopWithInfo()

	stats := &CycleStats{}

	if s.disc != nil {
		res, err := s.disc.RunCycle(ctx)
		if err != nil {
			// Discovery trouble does not stop dispatch of existing work.
			logging.SchedulerWarn("Discovery failed: %v", err)
		} else {
			stats.Discovered = res.Enqueued
		}
	}

	var ranker queue.ScoreFunc
	if s.fb != nil {
		ranker = s.fb.Ranker()
	}
	items, err := s.q.ClaimNext(ctx, s.cfg.MaxConcurrent, ranker)
	if err != nil {
		return stats, fmt.Errorf("claim failed: %w", err)
	}
	stats.Claimed = len(items)
	if len(items) == 0 {
		return stats, nil
	}

	contextBlock := ""
	if s.session != nil {
		contextBlock = s.session.RenderText()
	}

	outcomes := s.dispatcher.DispatchBatch(ctx, items, contextBlock)

	var unfinished []string
	for i := range items {
		item := &items[i]
		outcome := outcomes[i]
		if outcome == nil {
			unfinished = append(unfinished, item.ID)
			continue
		}

		status, err := s.q.RecordOutcome(ctx, item.ID, outcome, s.cfg.MaxRetries)
		if err != nil {
			logging.SchedulerWarn("Failed to record outcome for %s: %v", item.ID, err)
			continue
		}
		// The claim snapshot predates the recorded attempt.
		item.Attempts++
		switch status {
		case types.StatusCompleted:
			stats.Completed++
		case types.StatusPending:
			stats.Requeued++
		case types.StatusFailed:
			stats.Failed++
		}

		if s.fb != nil {
			if err := s.fb.Record(ctx, item, status, outcome); err != nil {
				logging.SchedulerWarn("Failed to record effectiveness for %s: %v", item.ID, err)
			}
		}
		if s.onTerminal != nil && status.Terminal() {
			s.onTerminal(ctx, item, status, outcome)
		}
		s.noteInSession(ctx, item, status, outcome)
	}

	if len(unfinished) > 0 {
		// Items interrupted by shutdown go back to pending. The run
		// context may already be canceled, so release on its own clock.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.q.ReleaseActive(releaseCtx, unfinished); err != nil {
			logging.SchedulerWarn("Failed to release %d abandoned item(s): %v", len(unfinished), err)
		}
	}

	return stats, ctx.Err()
}

// noteInSession appends the exchange to the conversation and keeps it
// inside its token budget.
func (s *Scheduler) noteInSession(ctx context.Context, item *types.WorkItem, status types.ItemStatus, outcome *types.ExecutionOutcome) {
	if s.session == nil {
		return
	}
	s.session.AddMessage("user", fmt.Sprintf("Dispatched %s task %q (%s/%s)", item.Type, item.Title, item.Source, item.SourceRef))
	note := outcome.Output
	if note == "" {
		note = outcome.Error
	}
	s.session.AddMessage("assistant", fmt.Sprintf("[%s] %s", status, note))
	if err := s.session.SummarizeIfNeeded(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.SchedulerWarn("Session summarization failed: %v", err)
	}
}
