// Package types defines the shared data model for taskhound: work items,
// discovery candidates, execution outcomes, and the normalized agent
// response shape. Every other package depends on these declarations, so
// this package depends on nothing internal.
package types

import (
	"fmt"
	"time"
)

// ItemType classifies a unit of work.
type ItemType string

const (
	TypeBugFix        ItemType = "bug_fix"
	TypeFeature       ItemType = "feature"
	TypeTest          ItemType = "test"
	TypeRefactor      ItemType = "refactor"
	TypeDocumentation ItemType = "documentation"
)

// Valid reports whether the item type is one of the known values.
func (t ItemType) Valid() bool {
	switch t {
	case TypeBugFix, TypeFeature, TypeTest, TypeRefactor, TypeDocumentation:
		return true
	}
	return false
}

// ItemStatus is the work item state machine state.
// Transitions: pending -> active -> {completed | failed};
// failed may return to pending while attempts remain.
type ItemStatus string

const (
	StatusPending   ItemStatus = "pending"
	StatusActive    ItemStatus = "active"
	StatusCompleted ItemStatus = "completed"
	StatusFailed    ItemStatus = "failed"
)

// Valid reports whether the status is one of the known values.
func (s ItemStatus) Valid() bool {
	switch s {
	case StatusPending, StatusActive, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether the status is an end state.
func (s ItemStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Priority bounds. 5 is most urgent and always ranks first.
const (
	PriorityMin    = 1
	PriorityMax    = 5
	PriorityUrgent = 5
)

// WorkItem is a unit of discovered work tracked through the queue.
type WorkItem struct {
	ID          string            `json:"id"`
	Type        ItemType          `json:"type"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Priority    int               `json:"priority"` // 1-5, 5 = most urgent
	Status      ItemStatus        `json:"status"`
	Source      string            `json:"source"`
	SourceRef   string            `json:"source_ref"`
	Context     map[string]string `json:"context,omitempty"`
	Attempts    int               `json:"attempts"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
	Result      *ExecutionOutcome `json:"result,omitempty"`
}

// Validate checks construction-time invariants.
func (w *WorkItem) Validate() error {
	if w.ID == "" {
		return fmt.Errorf("work item id required")
	}
	if !w.Type.Valid() {
		return fmt.Errorf("invalid item type %q", w.Type)
	}
	if !w.Status.Valid() {
		return fmt.Errorf("invalid item status %q", w.Status)
	}
	if w.Priority < PriorityMin || w.Priority > PriorityMax {
		return fmt.Errorf("priority %d out of range [%d,%d]", w.Priority, PriorityMin, PriorityMax)
	}
	if w.Source == "" || w.SourceRef == "" {
		return fmt.Errorf("source and source_ref required")
	}
	if w.Attempts < 0 {
		return fmt.Errorf("attempts must not be negative")
	}
	return nil
}

// DedupKey is the identity used for duplicate suppression among
// non-terminal items.
func (w *WorkItem) DedupKey() string {
	return w.Source + "\x00" + w.SourceRef
}

// DiscoveryCandidate is an ephemeral proposal from a source adapter.
// It becomes a WorkItem only after deduplication.
type DiscoveryCandidate struct {
	Source      string            `json:"source"`
	SourceRef   string            `json:"source_ref"`
	Type        ItemType          `json:"type"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Priority    int               `json:"priority"`
	Context     map[string]string `json:"context,omitempty"`
}

// Validate checks that the candidate can be turned into a work item.
func (c *DiscoveryCandidate) Validate() error {
	if c.Source == "" || c.SourceRef == "" {
		return fmt.Errorf("candidate source and source_ref required")
	}
	if !c.Type.Valid() {
		return fmt.Errorf("invalid candidate type %q", c.Type)
	}
	if c.Priority < PriorityMin || c.Priority > PriorityMax {
		return fmt.Errorf("candidate priority %d out of range", c.Priority)
	}
	return nil
}

// ClampPriority bounds a heuristic priority into the valid range.
func ClampPriority(p int) int {
	if p < PriorityMin {
		return PriorityMin
	}
	if p > PriorityMax {
		return PriorityMax
	}
	return p
}

// ExecutionOutcome records one dispatch attempt for a work item.
// The outcome of the last attempt determines the terminal status.
type ExecutionOutcome struct {
	WorkItemID    string        `json:"work_item_id"`
	Success       bool          `json:"success"`
	Output        string        `json:"output"`
	FilesModified []string      `json:"files_modified,omitempty"` // insertion order = modification order
	ExecutionTime time.Duration `json:"execution_time"`
	Error         string        `json:"error,omitempty"` // present iff Success is false
}

// ToolUse is a single tool invocation reported by the execution agent.
type ToolUse struct {
	Name  string `json:"name"`
	Input string `json:"input,omitempty"`
}

// AgentResult is the single normalized shape for execution-agent
// responses. Adapters at the capability boundary produce it; the
// scheduler and context manager never see provider-specific payloads.
type AgentResult struct {
	Success       bool
	Content       string
	ToolUses      []ToolUse
	FilesModified []string
	Duration      time.Duration
}

// Outcome converts the agent result into an execution outcome for the
// given work item. err carries the failure cause when the dispatch did
// not produce a usable result.
func (r *AgentResult) Outcome(itemID string, err error) *ExecutionOutcome {
	out := &ExecutionOutcome{WorkItemID: itemID}
	if err != nil {
		out.Error = err.Error()
		return out
	}
	out.Success = r.Success
	out.Output = r.Content
	out.FilesModified = append(out.FilesModified, r.FilesModified...)
	out.ExecutionTime = r.Duration
	if !r.Success && out.Error == "" {
		out.Error = "agent reported failure"
	}
	return out
}
