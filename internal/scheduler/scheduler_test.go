package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"taskhound/internal/convo"
	"taskhound/internal/discovery"
	"taskhound/internal/queue"
	"taskhound/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeQueue is an in-memory workQueue.
type fakeQueue struct {
	mu       sync.Mutex
	pending  []types.WorkItem
	recorded map[string]types.ItemStatus
	released []string
}

func newFakeQueue(items ...types.WorkItem) *fakeQueue {
	return &fakeQueue{pending: items, recorded: make(map[string]types.ItemStatus)}
}

func (f *fakeQueue) ClaimNext(ctx context.Context, n int, score queue.ScoreFunc) ([]types.WorkItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n > len(f.pending) {
		n = len(f.pending)
	}
	claimed := f.pending[:n]
	f.pending = f.pending[n:]
	return claimed, nil
}

func (f *fakeQueue) RecordOutcome(ctx context.Context, id string, outcome *types.ExecutionOutcome, maxRetries int) (types.ItemStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	status := types.StatusCompleted
	if !outcome.Success {
		status = types.StatusFailed
	}
	f.recorded[id] = status
	return status, nil
}

func (f *fakeQueue) ReleaseActive(ctx context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, ids...)
	return nil
}

// fakeDiscoverer counts cycles.
type fakeDiscoverer struct {
	mu     sync.Mutex
	cycles int
}

func (f *fakeDiscoverer) RunCycle(ctx context.Context) (*discovery.CycleResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cycles++
	return &discovery.CycleResult{Enqueued: 2}, nil
}

// fakeRecorder captures effectiveness records.
type fakeRecorder struct {
	mu      sync.Mutex
	records []types.ItemStatus
}

func (f *fakeRecorder) Record(ctx context.Context, item *types.WorkItem, status types.ItemStatus, outcome *types.ExecutionOutcome) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, status)
	return nil
}

func (f *fakeRecorder) Ranker() queue.ScoreFunc {
	return func(string, types.ItemType, int) float64 { return 1.0 }
}

func TestRunCycleEndToEnd(t *testing.T) {
	q := newFakeQueue(batchItem("ok"), batchItem("broken"))
	disc := &fakeDiscoverer{}
	fb := &fakeRecorder{}
	session := convo.NewManager(convo.Options{TokenThreshold: 100000}, nil)

	exec := &mockExecutor{ExecuteFunc: func(_ context.Context, prompt, _ string) (*types.AgentResult, error) {
		if prompt == BuildPrompt(&[]types.WorkItem{batchItem("broken")}[0]) {
			return &types.AgentResult{Success: false, Content: "could not fix"}, nil
		}
		return &types.AgentResult{Success: true, Content: "fixed"}, nil
	}}

	cfg := fastConfig()
	s := New(cfg, q, disc, NewDispatcher(exec, cfg), fb, session)

	stats, err := s.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if stats.Discovered != 2 || stats.Claimed != 2 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.Completed != 1 || stats.Failed != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if q.recorded["ok"] != types.StatusCompleted || q.recorded["broken"] != types.StatusFailed {
		t.Errorf("recorded = %v", q.recorded)
	}
	if len(fb.records) != 2 {
		t.Errorf("effectiveness records = %d, want 2", len(fb.records))
	}
	if session.Stats().LiveMessages != 4 {
		t.Errorf("session messages = %d, want 4 (two exchanges)", session.Stats().LiveMessages)
	}
}

func TestTerminalHookSeesRecordedAttemptCount(t *testing.T) {
	item := batchItem("ok")
	item.Attempts = 1 // one earlier failed dispatch already on record
	q := newFakeQueue(item)
	exec := &mockExecutor{ExecuteFunc: func(context.Context, string, string) (*types.AgentResult, error) {
		return &types.AgentResult{Success: true, Content: "fixed"}, nil
	}}

	cfg := fastConfig()
	s := New(cfg, q, nil, NewDispatcher(exec, cfg), nil, nil)

	var hookAttempts int
	s.SetTerminalHook(func(_ context.Context, it *types.WorkItem, status types.ItemStatus, _ *types.ExecutionOutcome) {
		if status != types.StatusCompleted {
			t.Errorf("hook status = %s", status)
		}
		hookAttempts = it.Attempts
	})

	if _, err := s.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if hookAttempts != 2 {
		t.Errorf("hook saw attempts = %d, want 2 (claim snapshot plus this dispatch)", hookAttempts)
	}
}

func TestRunCycleEmptyQueue(t *testing.T) {
	q := newFakeQueue()
	cfg := fastConfig()
	exec := &mockExecutor{ExecuteFunc: func(context.Context, string, string) (*types.AgentResult, error) {
		t.Error("executor must not run on an empty queue")
		return nil, nil
	}}
	s := New(cfg, q, nil, NewDispatcher(exec, cfg), nil, nil)

	stats, err := s.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if stats.Claimed != 0 {
		t.Errorf("claimed = %d", stats.Claimed)
	}
}

func TestRunCycleReleasesInterruptedItems(t *testing.T) {
	q := newFakeQueue(batchItem("stuck"))
	exec := &mockExecutor{ExecuteFunc: func(ctx context.Context, _, _ string) (*types.AgentResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}

	cfg := fastConfig()
	s := New(cfg, q, nil, NewDispatcher(exec, cfg), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	if _, err := s.RunCycle(ctx); err == nil {
		t.Error("canceled cycle should surface ctx error")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.released) != 1 || q.released[0] != "stuck" {
		t.Errorf("released = %v, want [stuck]", q.released)
	}
	if _, recorded := q.recorded["stuck"]; recorded {
		t.Error("interrupted item must not get an outcome recorded")
	}
}

func TestRunSingleCycle(t *testing.T) {
	q := newFakeQueue(batchItem("a"))
	exec := &mockExecutor{ExecuteFunc: func(context.Context, string, string) (*types.AgentResult, error) {
		return &types.AgentResult{Success: true}, nil
	}}

	cfg := fastConfig()
	cfg.SingleCycle = true
	s := New(cfg, q, nil, NewDispatcher(exec, cfg), nil, nil)

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if q.recorded["a"] != types.StatusCompleted {
		t.Errorf("recorded = %v", q.recorded)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	q := newFakeQueue()
	cfg := fastConfig()
	cfg.CycleInterval = 10 * time.Millisecond
	cfg.ShutdownGrace = 500 * time.Millisecond
	exec := &mockExecutor{ExecuteFunc: func(context.Context, string, string) (*types.AgentResult, error) {
		return &types.AgentResult{Success: true}, nil
	}}
	s := New(cfg, q, &fakeDiscoverer{}, NewDispatcher(exec, cfg), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != context.Canceled {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
