package convo

import (
	"context"
	"errors"
	"strings"
	"testing"
)

// mockLLM is a func-field completion stub.
type mockLLM struct {
	CompleteFunc func(ctx context.Context, prompt string) (string, error)
	calls        int
}

func (m *mockLLM) Complete(ctx context.Context, prompt string) (string, error) {
	m.calls++
	return m.CompleteFunc(ctx, prompt)
}

func longMessage(word string) string {
	return strings.Repeat(word+" ", 60)
}

func TestSummarizationTriggersAtThreshold(t *testing.T) {
	mgr := NewManager(Options{TokenThreshold: 500, PreserveRecent: 3}, nil)

	for i := 0; i < 10; i++ {
		mgr.AddMessage("user", longMessage("question"))
	}
	if !mgr.NeedsSummarization() {
		t.Fatal("budget exceeded, summarization should be pending")
	}

	if err := mgr.SummarizeIfNeeded(context.Background()); err != nil {
		t.Fatalf("SummarizeIfNeeded: %v", err)
	}

	stats := mgr.Stats()
	if stats.LiveMessages != 3 {
		t.Errorf("live messages = %d, want 3", stats.LiveMessages)
	}
	if stats.Summaries != 1 {
		t.Errorf("summaries = %d, want 1", stats.Summaries)
	}
	if stats.Summarized != 7 {
		t.Errorf("summarized = %d, want 7", stats.Summarized)
	}
}

func TestSummarizeIfNeededIdempotent(t *testing.T) {
	mgr := NewManager(Options{TokenThreshold: 500, PreserveRecent: 3}, nil)
	for i := 0; i < 10; i++ {
		mgr.AddMessage("user", longMessage("word"))
	}
	if err := mgr.SummarizeIfNeeded(context.Background()); err != nil {
		t.Fatal(err)
	}
	before := mgr.Stats()

	// No new messages: second call must change nothing.
	if err := mgr.SummarizeIfNeeded(context.Background()); err != nil {
		t.Fatal(err)
	}
	after := mgr.Stats()
	if before != after {
		t.Errorf("second summarize changed state: %+v -> %+v", before, after)
	}
}

func TestSummarizeBelowThresholdNoop(t *testing.T) {
	mgr := NewManager(Options{TokenThreshold: 10000, PreserveRecent: 3}, nil)
	mgr.AddMessage("user", "short")
	if err := mgr.SummarizeIfNeeded(context.Background()); err != nil {
		t.Fatal(err)
	}
	if stats := mgr.Stats(); stats.Summaries != 0 || stats.LiveMessages != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestTokenInvariantHolds(t *testing.T) {
	mgr := NewManager(Options{TokenThreshold: 400, PreserveRecent: 2}, nil)
	for i := 0; i < 8; i++ {
		mgr.AddMessage("assistant", longMessage("decided to refactor queue.go"))
		if err := mgr.SummarizeIfNeeded(context.Background()); err != nil {
			t.Fatal(err)
		}
	}

	mgr.mu.Lock()
	want := 0
	for _, msg := range mgr.messages {
		want += msg.Tokens
	}
	for _, s := range mgr.summaries {
		want += s.Tokens
	}
	got := mgr.totalTokens
	mgr.mu.Unlock()

	if got != want {
		t.Errorf("total tokens %d != live+summaries %d", got, want)
	}
}

func TestSummaryUsesLLMWhenAvailable(t *testing.T) {
	client := &mockLLM{CompleteFunc: func(ctx context.Context, prompt string) (string, error) {
		if !strings.Contains(prompt, "question one") {
			t.Error("folded messages missing from prompt")
		}
		return "the model summary", nil
	}}
	mgr := NewManager(Options{TokenThreshold: 300, PreserveRecent: 2}, client)

	mgr.AddMessage("user", "question one "+longMessage("pad"))
	for i := 0; i < 5; i++ {
		mgr.AddMessage("assistant", longMessage("answer"))
	}
	if err := mgr.SummarizeIfNeeded(context.Background()); err != nil {
		t.Fatal(err)
	}
	if client.calls != 1 {
		t.Errorf("llm calls = %d, want 1", client.calls)
	}

	rendered := mgr.Render()
	if rendered[0].Role != "system" || !strings.Contains(rendered[0].Content, "the model summary") {
		t.Errorf("rendered[0] = %+v", rendered[0])
	}
}

func TestSummaryFallbackOnLLMError(t *testing.T) {
	client := &mockLLM{CompleteFunc: func(context.Context, string) (string, error) {
		return "", errors.New("provider down")
	}}
	mgr := NewManager(Options{TokenThreshold: 300, PreserveRecent: 2}, client)

	mgr.AddMessage("assistant", "decided to use sqlite for the queue in queue.go "+longMessage("pad"))
	for i := 0; i < 5; i++ {
		mgr.AddMessage("user", longMessage("more"))
	}
	if err := mgr.SummarizeIfNeeded(context.Background()); err != nil {
		t.Fatalf("fallback path must not error: %v", err)
	}

	rendered := mgr.Render()
	summary := rendered[0].Content
	if !strings.Contains(summary, "queue.go") {
		t.Errorf("fallback summary lost file path: %q", summary)
	}
	if !strings.Contains(summary, "decided") {
		t.Errorf("fallback summary lost key decision: %q", summary)
	}
}

func TestSummaryCarriesExtractedHighlights(t *testing.T) {
	client := &mockLLM{CompleteFunc: func(_ context.Context, prompt string) (string, error) {
		// The extracted facts ride along with the raw transcript.
		if !strings.Contains(prompt, "decided to use sqlite for the queue") {
			t.Error("prompt missing extracted decision")
		}
		if !strings.Contains(prompt, "Files referenced: queue.go") {
			t.Error("prompt missing extracted file list")
		}
		return "compact model summary", nil
	}}
	mgr := NewManager(Options{TokenThreshold: 300, PreserveRecent: 2}, client)

	mgr.AddMessage("assistant", "decided to use sqlite for the queue in queue.go "+longMessage("pad"))
	for i := 0; i < 5; i++ {
		mgr.AddMessage("user", longMessage("filler"))
	}
	if err := mgr.SummarizeIfNeeded(context.Background()); err != nil {
		t.Fatalf("SummarizeIfNeeded: %v", err)
	}
	if client.calls != 1 {
		t.Fatalf("llm calls = %d, want 1", client.calls)
	}

	mgr.mu.Lock()
	s := mgr.summaries[0]
	mgr.mu.Unlock()

	if s.OriginalTokens == 0 {
		t.Error("folded span's original token count not recorded")
	}
	if s.Tokens >= s.OriginalTokens {
		t.Errorf("summary tokens %d not smaller than original %d", s.Tokens, s.OriginalTokens)
	}
	if len(s.KeyDecisions) != 1 || !strings.Contains(s.KeyDecisions[0], "decided to use sqlite") {
		t.Errorf("key decisions = %v", s.KeyDecisions)
	}
	if len(s.FilesModified) != 1 || s.FilesModified[0] != "queue.go" {
		t.Errorf("files = %v", s.FilesModified)
	}
}

func TestRenderOrder(t *testing.T) {
	mgr := NewManager(Options{TokenThreshold: 300, PreserveRecent: 2}, nil)
	for i := 0; i < 6; i++ {
		mgr.AddMessage("user", longMessage("older"))
	}
	if err := mgr.SummarizeIfNeeded(context.Background()); err != nil {
		t.Fatal(err)
	}
	mgr.AddMessage("assistant", "newest reply")

	rendered := mgr.Render()
	if rendered[0].Role != "system" {
		t.Errorf("first rendered message role = %s, want system summary", rendered[0].Role)
	}
	if rendered[len(rendered)-1].Content != "newest reply" {
		t.Error("live messages must keep their order after the summary")
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	mgr := NewManager(Options{TokenThreshold: 300, PreserveRecent: 2}, nil)
	for i := 0; i < 6; i++ {
		mgr.AddMessage("user", longMessage("history"))
	}
	if err := mgr.SummarizeIfNeeded(context.Background()); err != nil {
		t.Fatal(err)
	}
	mgr.AddMessage("assistant", "latest")
	want := mgr.Stats()

	data, err := mgr.ExportState()
	if err != nil {
		t.Fatalf("ExportState: %v", err)
	}

	restored := NewManager(Options{TokenThreshold: 300, PreserveRecent: 2}, nil)
	if err := restored.ImportState(data); err != nil {
		t.Fatalf("ImportState: %v", err)
	}

	got := restored.Stats()
	if got != want {
		t.Errorf("round trip stats: got %+v, want %+v", got, want)
	}
	if restored.RenderText() != mgr.RenderText() {
		t.Error("rendered conversation differs after round trip")
	}
}

func TestImportStateRejectsGarbage(t *testing.T) {
	mgr := NewManager(Options{}, nil)
	if err := mgr.ImportState([]byte("not json")); err == nil {
		t.Error("garbage state must error")
	}
}

func TestCountString(t *testing.T) {
	tc := NewTokenCounter()
	if tc.CountString("") != 0 {
		t.Error("empty string is zero tokens")
	}
	if got := tc.CountString("abcdefgh"); got != 2 {
		t.Errorf("CountString(8 chars) = %d, want 2", got)
	}
}
