package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"taskhound/internal/logging"
)

// FileClient is a tracker backed by a local JSON file, used when no
// hosted tracker is configured. The file holds an array of issues;
// write-side calls append to the issue's comment count and labels and
// rewrite the file.
type FileClient struct {
	path string
	mu   sync.Mutex
}

// NewFileClient creates a client over the given issues file.
func NewFileClient(path string) *FileClient {
	return &FileClient{path: path}
}

type fileIssue struct {
	Issue
	State      string   `json:"state"` // open | closed
	CommentLog []string `json:"comment_log,omitempty"`
}

func (c *FileClient) load() ([]fileIssue, error) {
	data, err := os.ReadFile(c.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read issues file: %w", err)
	}
	var issues []fileIssue
	if err := json.Unmarshal(data, &issues); err != nil {
		return nil, fmt.Errorf("failed to parse issues file: %w", err)
	}
	return issues, nil
}

func (c *FileClient) save(issues []fileIssue) error {
	data, err := json.MarshalIndent(issues, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode issues: %w", err)
	}
	if err := os.WriteFile(c.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write issues file: %w", err)
	}
	return nil
}

// ListOpen returns open issues updated at or after since.
func (c *FileClient) ListOpen(ctx context.Context, since time.Time) ([]Issue, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	issues, err := c.load()
	if err != nil {
		return nil, err
	}
	var out []Issue
	for _, fi := range issues {
		if fi.State == "closed" {
			continue
		}
		if !since.IsZero() && fi.UpdatedAt.Before(since) {
			continue
		}
		out = append(out, fi.Issue)
	}
	return out, nil
}

// PostComment appends a comment to the issue and bumps its count.
func (c *FileClient) PostComment(ctx context.Context, issueID, body string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	issues, err := c.load()
	if err != nil {
		return err
	}
	for i := range issues {
		if issues[i].ID == issueID {
			issues[i].CommentLog = append(issues[i].CommentLog, body)
			issues[i].Comments++
			issues[i].UpdatedAt = time.Now().UTC()
			return c.save(issues)
		}
	}
	return fmt.Errorf("issue %s not found", issueID)
}

// AddLabels attaches labels, skipping ones already present.
func (c *FileClient) AddLabels(ctx context.Context, issueID string, labels []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	issues, err := c.load()
	if err != nil {
		return err
	}
	for i := range issues {
		if issues[i].ID != issueID {
			continue
		}
		have := map[string]bool{}
		for _, l := range issues[i].Labels {
			have[l] = true
		}
		for _, l := range labels {
			if !have[l] {
				issues[i].Labels = append(issues[i].Labels, l)
			}
		}
		issues[i].UpdatedAt = time.Now().UTC()
		return c.save(issues)
	}
	return fmt.Errorf("issue %s not found", issueID)
}

// CreateBranch records the request; a local file tracker has no VCS to
// act on.
func (c *FileClient) CreateBranch(ctx context.Context, name, base string) error {
	logging.Discovery("Tracker: branch %s from %s requested (file tracker, no-op)", name, base)
	return nil
}

// CreatePR records the request and returns a placeholder reference.
func (c *FileClient) CreatePR(ctx context.Context, title, body, head, base string) (string, error) {
	logging.Discovery("Tracker: PR %q (%s -> %s) requested (file tracker, no-op)", title, head, base)
	return "local://" + head, nil
}
