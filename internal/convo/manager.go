// Package convo bounds a conversation context. Messages accumulate
// against a token budget; crossing the threshold folds the oldest
// messages into a summary, preserving the most recent exchanges
// verbatim. Summaries are monotonic: once folded in, a message only
// ever appears through its summary.
package convo

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"taskhound/internal/llm"
	"taskhound/internal/logging"
)

// Message is one conversation turn.
type Message struct {
	Role      string    `json:"role"` // user | assistant | system
	Content   string    `json:"content"`
	Tokens    int       `json:"tokens"`
	Timestamp time.Time `json:"timestamp"`
}

// Summary is a folded span of older messages. The highlight fields keep
// the structured facts pulled from the span before it was condensed.
type Summary struct {
	Content        string    `json:"content"`
	Tokens         int       `json:"tokens"`
	Covered        int       `json:"covered"`              // number of messages folded in
	OriginalTokens int       `json:"original_token_count"` // tokens of the folded span before condensing
	KeyDecisions   []string  `json:"key_decisions,omitempty"`
	FilesModified  []string  `json:"files_modified,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Stats is a point-in-time view of the manager.
type Stats struct {
	LiveMessages  int  `json:"live_messages"`
	Summaries     int  `json:"summaries"`
	TotalTokens   int  `json:"total_tokens"`
	Summarized    int  `json:"summarized_messages"`
	NeedsSummary  bool `json:"needs_summary"`
	TokenBudget   int  `json:"token_budget"`
	PreserveCount int  `json:"preserve_count"`
}

// Options configures a Manager.
type Options struct {
	TokenThreshold int // summarize when total tokens exceed this
	PreserveRecent int // live messages never folded into a summary
}

const (
	defaultTokenThreshold = 8000
	defaultPreserveRecent = 5
)

// Manager owns one conversation. It is safe for concurrent use but a
// session is not shared across dispatches.
type Manager struct {
	mu        sync.Mutex
	messages  []Message
	summaries []Summary
	counter   *TokenCounter

	threshold      int
	preserveRecent int
	totalTokens    int
	summarizedN    int

	client      llm.Client
	warnedNoLLM bool
}

// NewManager creates a manager. client may be nil; summarization then
// uses the deterministic fallback.
func NewManager(opts Options, client llm.Client) *Manager {
	if opts.TokenThreshold <= 0 {
		opts.TokenThreshold = defaultTokenThreshold
	}
	if opts.PreserveRecent <= 0 {
		opts.PreserveRecent = defaultPreserveRecent
	}
	return &Manager{
		counter:        NewTokenCounter(),
		threshold:      opts.TokenThreshold,
		preserveRecent: opts.PreserveRecent,
		client:         client,
	}
}

// AddMessage appends a turn and updates the running token total.
func (m *Manager) AddMessage(role, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg := Message{Role: role, Content: content, Timestamp: time.Now().UTC()}
	msg.Tokens = m.counter.CountMessage(msg)
	m.messages = append(m.messages, msg)
	m.totalTokens += msg.Tokens

	if m.totalTokens > m.threshold {
		logging.ConvoDebug("Token total %d exceeds threshold %d, summarization pending", m.totalTokens, m.threshold)
	}
}

// NeedsSummarization reports whether the budget is exceeded and enough
// messages exist to fold.
func (m *Manager) NeedsSummarization() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.needsSummarizationLocked()
}

func (m *Manager) needsSummarizationLocked() bool {
	return m.totalTokens > m.threshold && len(m.messages) > m.preserveRecent
}

// SummarizeIfNeeded folds the oldest messages into a summary when the
// token budget is exceeded. Idempotent: a second call with no new
// messages is a no-op.
func (m *Manager) SummarizeIfNeeded(ctx context.Context) error {
	m.mu.Lock()
	if !m.needsSummarizationLocked() {
		m.mu.Unlock()
		return nil
	}

	cut := len(m.messages) - m.preserveRecent
	toFold := make([]Message, cut)
	copy(toFold, m.messages[:cut])
	m.mu.Unlock()

	originalTokens := 0
	for _, msg := range toFold {
		originalTokens += msg.Tokens
	}
	decisions, files := extractHighlights(toFold)

	// LLM call happens outside the lock.
	content := m.summarize(ctx, toFold, decisions, files)

	m.mu.Lock()
	defer m.mu.Unlock()

	// Re-check: another goroutine may have folded already.
	if len(m.messages) < cut+m.preserveRecent {
		return nil
	}

	summary := Summary{
		Content:        content,
		Covered:        cut,
		OriginalTokens: originalTokens,
		KeyDecisions:   decisions,
		FilesModified:  files,
		CreatedAt:      time.Now().UTC(),
	}
	summary.Tokens = m.counter.CountString(content)

	m.messages = append([]Message(nil), m.messages[cut:]...)
	m.summaries = append(m.summaries, summary)
	m.summarizedN += cut
	m.recountLocked()

	logging.Convo("Summarized %d message(s) into %d tokens, %d live message(s) remain (total %d tokens)",
		cut, summary.Tokens, len(m.messages), m.totalTokens)
	return nil
}

// recountLocked recomputes the total from live messages and summaries.
func (m *Manager) recountLocked() {
	total := 0
	for _, msg := range m.messages {
		total += msg.Tokens
	}
	for _, s := range m.summaries {
		total += s.Tokens
	}
	m.totalTokens = total
}

// summarize produces the summary text, via the LLM when available. The
// extracted highlights are handed to the model so they survive the
// condensing even when the model drops detail.
func (m *Manager) summarize(ctx context.Context, msgs []Message, decisions, files []string) string {
	fallback := buildFallbackSummary(len(msgs), decisions, files)

	if m.client == nil {
		m.warnOnce("No summarizer configured, using extractive fallback")
		return fallback
	}

	var b strings.Builder
	b.WriteString("Summarize the following conversation span in a compact paragraph. ")
	b.WriteString("Keep decisions made, file paths touched, and unresolved problems. Drop pleasantries.\n")
	if len(decisions) > 0 {
		b.WriteString("Key decisions that must be preserved:\n")
		for _, d := range decisions {
			fmt.Fprintf(&b, "- %s\n", d)
		}
	}
	if len(files) > 0 {
		fmt.Fprintf(&b, "Files referenced: %s\n", strings.Join(files, ", "))
	}
	b.WriteString("\n")
	for _, msg := range msgs {
		fmt.Fprintf(&b, "[%s] %s\n", msg.Role, msg.Content)
	}

	text, err := m.client.Complete(ctx, b.String())
	if err != nil {
		m.warnOnce("Summarizer unavailable, using extractive fallback: " + err.Error())
		return fallback
	}
	return strings.TrimSpace(text)
}

func (m *Manager) warnOnce(msg string) {
	m.mu.Lock()
	warned := m.warnedNoLLM
	m.warnedNoLLM = true
	m.mu.Unlock()
	if !warned {
		logging.ConvoWarn("%s", msg)
	}
}

// Render returns the conversation for the next dispatch: accumulated
// summaries oldest-first as one leading synthetic message, then the
// live messages in order.
func (m *Manager) Render() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Message, 0, len(m.messages)+1)
	if len(m.summaries) > 0 {
		var b strings.Builder
		b.WriteString("Summary of earlier conversation:\n")
		for _, s := range m.summaries {
			b.WriteString(s.Content)
			b.WriteString("\n")
		}
		out = append(out, Message{
			Role:      "system",
			Content:   strings.TrimRight(b.String(), "\n"),
			Timestamp: m.summaries[0].CreatedAt,
		})
	}
	out = append(out, m.messages...)
	return out
}

// RenderText flattens Render into one prompt-ready block.
func (m *Manager) RenderText() string {
	var b strings.Builder
	for _, msg := range m.Render() {
		fmt.Fprintf(&b, "[%s] %s\n", msg.Role, msg.Content)
	}
	return b.String()
}

// Stats returns the current counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		LiveMessages:  len(m.messages),
		Summaries:     len(m.summaries),
		TotalTokens:   m.totalTokens,
		Summarized:    m.summarizedN,
		NeedsSummary:  m.needsSummarizationLocked(),
		TokenBudget:   m.threshold,
		PreserveCount: m.preserveRecent,
	}
}

// exportedState is the serialized manager shape.
type exportedState struct {
	Messages   []Message `json:"messages"`
	Summaries  []Summary `json:"summaries"`
	Summarized int       `json:"summarized_messages"`
}

// ExportState serializes the conversation for persistence across runs.
func (m *Manager) ExportState() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return json.MarshalIndent(exportedState{
		Messages:   m.messages,
		Summaries:  m.summaries,
		Summarized: m.summarizedN,
	}, "", "  ")
}

// ImportState replaces the conversation with a previously exported one.
// Token totals are recomputed, not trusted from the payload.
func (m *Manager) ImportState(data []byte) error {
	var state exportedState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("failed to parse conversation state: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = state.Messages
	m.summaries = state.Summaries
	m.summarizedN = state.Summarized
	for i := range m.messages {
		m.messages[i].Tokens = m.counter.CountMessage(m.messages[i])
	}
	for i := range m.summaries {
		m.summaries[i].Tokens = m.counter.CountString(m.summaries[i].Content)
	}
	m.recountLocked()
	return nil
}

var (
	decisionPattern = regexp.MustCompile(`(?i)\b(decided|chose|will use|going with|agreed|conclusion:)\b`)
	pathPattern     = regexp.MustCompile(`\b[\w./-]+\.(go|md|yaml|yml|json|sql|log|txt|sh)\b`)
)

// extractHighlights pulls key decision lines and file paths out of a
// span about to be folded. Decisions keep the most recent five, paths
// the first ten distinct mentions.
func extractHighlights(msgs []Message) (decisions, files []string) {
	pathSet := map[string]bool{}

	for _, msg := range msgs {
		for _, line := range strings.Split(msg.Content, "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if msg.Role == "assistant" && decisionPattern.MatchString(line) {
				if len(line) > 200 {
					line = line[:200]
				}
				decisions = append(decisions, line)
			}
		}
		for _, p := range pathPattern.FindAllString(msg.Content, -1) {
			if !pathSet[p] {
				pathSet[p] = true
				files = append(files, p)
			}
		}
	}

	if len(decisions) > 5 {
		decisions = decisions[len(decisions)-5:]
	}
	if len(files) > 10 {
		files = files[:10]
	}
	return decisions, files
}

// buildFallbackSummary renders the extracted highlights when no
// summarizer is available.
func buildFallbackSummary(covered int, decisions, files []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Earlier span of %d message(s).", covered)
	if len(decisions) > 0 {
		b.WriteString(" Key decisions: ")
		b.WriteString(strings.Join(decisions, "; "))
		b.WriteString(".")
	}
	if len(files) > 0 {
		b.WriteString(" Files discussed: ")
		b.WriteString(strings.Join(files, ", "))
		b.WriteString(".")
	}
	return b.String()
}
