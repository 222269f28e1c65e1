// Package discovery finds work. Source adapters propose candidates from
// heterogeneous signals (error logs, the issue tracker, static analysis
// findings, coverage gaps); the Aggregator fans them out concurrently,
// de-duplicates the combined batch and feeds the queue. A failing source
// never blocks the cycle: it logs and contributes nothing.
package discovery

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"taskhound/internal/logging"
	"taskhound/internal/queue"
	"taskhound/internal/types"
)

// Source proposes work item candidates from one signal.
type Source interface {
	Name() string
	Discover(ctx context.Context, since time.Time) ([]types.DiscoveryCandidate, error)
}

// Enqueuer is the queue surface the aggregator needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, item types.WorkItem) error
}

// CycleResult summarizes one discovery pass.
type CycleResult struct {
	Candidates int // raw candidates across all sources
	Enqueued   int // new work items created
	Duplicates int // suppressed by in-batch or queue dedup
	Invalid    int // candidates that failed validation
	Failed     []string
}

// Aggregator runs all registered sources and enqueues what survives
// deduplication.
type Aggregator struct {
	sources []Source
	q       Enqueuer

	mu       sync.Mutex
	lastRun  time.Time
	firstRun bool
}

// NewAggregator creates an aggregator over the given sources.
func NewAggregator(q Enqueuer, sources ...Source) *Aggregator {
	return &Aggregator{sources: sources, q: q, firstRun: true}
}

// sourceResult carries one source's output back from its goroutine.
type sourceResult struct {
	name       string
	candidates []types.DiscoveryCandidate
	err        error
}

// RunCycle fans out every source concurrently, then deduplicates and
// enqueues the flattened candidate list. Within a batch the first
// candidate for a (source, source_ref) wins; the queue suppresses the
// rest against its non-terminal items.
func (a *Aggregator) RunCycle(ctx context.Context) (*CycleResult, error) {
	timer := logging.StartTimer(logging.CategoryDiscovery, "RunCycle")
	defer timer.StopWithInfo()

	a.mu.Lock()
	since := a.lastRun
	if a.firstRun {
		// First cycle scans everything.
		since = time.Time{}
		a.firstRun = false
	}
	a.lastRun = time.Now().UTC()
	a.mu.Unlock()

	results := make(chan sourceResult, len(a.sources))
	var wg sync.WaitGroup
	for _, src := range a.sources {
		wg.Add(1)
		go func(s Source) {
			defer wg.Done()
			candidates, err := s.Discover(ctx, since)
			results <- sourceResult{name: s.Name(), candidates: candidates, err: err}
		}(src)
	}
	wg.Wait()
	close(results)

	res := &CycleResult{}
	seen := make(map[string]bool)
	for r := range results {
		if r.err != nil {
			logging.DiscoveryWarn("Source %s failed: %v", r.name, r.err)
			res.Failed = append(res.Failed, r.name)
			continue
		}
		logging.DiscoveryDebug("Source %s proposed %d candidate(s)", r.name, len(r.candidates))
		res.Candidates += len(r.candidates)

		for _, c := range r.candidates {
			if err := c.Validate(); err != nil {
				logging.DiscoveryWarn("Dropping invalid candidate from %s: %v", r.name, err)
				res.Invalid++
				continue
			}
			key := c.Source + "\x00" + c.SourceRef
			if seen[key] {
				res.Duplicates++
				continue
			}
			seen[key] = true

			item := types.WorkItem{
				ID:          uuid.New().String(),
				Type:        c.Type,
				Title:       c.Title,
				Description: c.Description,
				Priority:    types.ClampPriority(c.Priority),
				Source:      c.Source,
				SourceRef:   c.SourceRef,
				Context:     c.Context,
			}
			switch err := a.q.Enqueue(ctx, item); {
			case err == nil:
				res.Enqueued++
			case errors.Is(err, queue.ErrDuplicate):
				res.Duplicates++
			default:
				logging.DiscoveryWarn("Enqueue failed for %s/%s: %v", c.Source, c.SourceRef, err)
			}
		}
	}

	logging.Discovery("Cycle: %d candidates, %d enqueued, %d duplicate(s), %d invalid, %d source failure(s)",
		res.Candidates, res.Enqueued, res.Duplicates, res.Invalid, len(res.Failed))
	return res, nil
}

// SourceNames lists the registered sources in registration order.
func (a *Aggregator) SourceNames() []string {
	names := make([]string, 0, len(a.sources))
	for _, s := range a.sources {
		names = append(names, s.Name())
	}
	return names
}
