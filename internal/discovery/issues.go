package discovery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"taskhound/internal/logging"
	"taskhound/internal/tracker"
	"taskhound/internal/types"
)

// Issues older than this with little engagement are treated as stale.
const issueStaleAge = 30 * 24 * time.Hour

// IssueSource turns open tracker issues into candidates. Label
// heuristics pick the item type and adjust priority; stale low-interest
// issues and issues someone is already working on are skipped.
type IssueSource struct {
	client tracker.Client
}

// NewIssueSource wraps a tracker client.
func NewIssueSource(client tracker.Client) *IssueSource {
	return &IssueSource{client: client}
}

func (s *IssueSource) Name() string { return "issues" }

func (s *IssueSource) Discover(ctx context.Context, since time.Time) ([]types.DiscoveryCandidate, error) {
	issues, err := s.client.ListOpen(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list open issues: %w", err)
	}

	var candidates []types.DiscoveryCandidate
	for _, issue := range issues {
		if issue.Assignee != "" {
			logging.DiscoveryDebug("IssueSource: #%d skipped, assigned to %s", issue.Number, issue.Assignee)
			continue
		}
		if time.Since(issue.CreatedAt) > issueStaleAge && issue.Comments < 2 {
			logging.DiscoveryDebug("IssueSource: #%d skipped as stale", issue.Number)
			continue
		}

		itemType, priority := classifyIssue(issue.Labels)
		candidates = append(candidates, types.DiscoveryCandidate{
			Source:      s.Name(),
			SourceRef:   issue.ID,
			Type:        itemType,
			Title:       issue.Title,
			Description: issue.Body,
			Priority:    priority,
			Context: map[string]string{
				"issue_number": fmt.Sprintf("%d", issue.Number),
				"issue_url":    issue.URL,
			},
		})
	}
	return candidates, nil
}

// classifyIssue maps tracker labels to an item type and priority.
// Severity labels raise priority one step; the baseline is 3.
func classifyIssue(labels []string) (types.ItemType, int) {
	itemType := types.TypeFeature
	priority := 3

	for _, label := range labels {
		switch strings.ToLower(label) {
		case "bug", "regression":
			itemType = types.TypeBugFix
		case "enhancement", "feature":
			if itemType != types.TypeBugFix {
				itemType = types.TypeFeature
			}
		case "documentation", "docs":
			if itemType == types.TypeFeature {
				itemType = types.TypeDocumentation
			}
		case "test", "testing":
			if itemType == types.TypeFeature {
				itemType = types.TypeTest
			}
		case "refactor", "tech-debt", "cleanup":
			if itemType == types.TypeFeature {
				itemType = types.TypeRefactor
			}
		case "critical", "urgent", "p0":
			priority = types.PriorityUrgent
		case "high", "p1":
			if priority < 4 {
				priority = 4
			}
		case "low", "p3", "nice-to-have":
			if priority > 2 {
				priority = 2
			}
		}
	}

	if itemType == types.TypeBugFix && priority == 3 {
		priority = 4
	}
	return itemType, types.ClampPriority(priority)
}
