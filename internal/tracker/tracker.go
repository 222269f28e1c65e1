// Package tracker defines the issue tracker boundary. The discovery
// layer consumes open issues through the Client interface; concrete
// adapters (GitHub, GitLab, a local JSON file) live behind it so the
// rest of the system never sees provider payloads.
package tracker

import (
	"context"
	"time"
)

// Issue is the normalized issue shape used by discovery.
type Issue struct {
	ID        string    `json:"id"`
	Number    int       `json:"number"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Labels    []string  `json:"labels"`
	Assignee  string    `json:"assignee,omitempty"`
	Comments  int       `json:"comments"`
	URL       string    `json:"url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Client is the capability surface for an issue tracker.
type Client interface {
	// ListOpen returns open issues updated at or after since.
	ListOpen(ctx context.Context, since time.Time) ([]Issue, error)
	// PostComment adds a comment to an issue.
	PostComment(ctx context.Context, issueID, body string) error
	// AddLabels attaches labels to an issue.
	AddLabels(ctx context.Context, issueID string, labels []string) error
	// CreateBranch creates a working branch for an issue.
	CreateBranch(ctx context.Context, name, base string) error
	// CreatePR opens a pull request and returns its URL.
	CreatePR(ctx context.Context, title, body, head, base string) (string, error)
}
