package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"taskhound/internal/types"
)

// coverageSummary is the coverage report shape: package import path to
// statement coverage percentage.
type coverageSummary struct {
	Packages map[string]float64 `json:"packages"`
}

// CoverageSource proposes test-writing candidates for packages whose
// statement coverage sits under the threshold. Like QualitySource it is
// silent when the summary file does not exist.
type CoverageSource struct {
	summaryPath string
	threshold   float64
}

// NewCoverageSource creates the source. threshold is a percentage;
// values <= 0 default to 60.
func NewCoverageSource(summaryPath string, threshold float64) *CoverageSource {
	if threshold <= 0 {
		threshold = 60
	}
	return &CoverageSource{summaryPath: summaryPath, threshold: threshold}
}

func (s *CoverageSource) Name() string { return "coverage" }

func (s *CoverageSource) Discover(ctx context.Context, since time.Time) ([]types.DiscoveryCandidate, error) {
	info, err := os.Stat(s.summaryPath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat coverage summary: %w", err)
	}
	if !since.IsZero() && info.ModTime().Before(since) {
		return nil, nil
	}

	data, err := os.ReadFile(s.summaryPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read coverage summary: %w", err)
	}
	var summary coverageSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		return nil, fmt.Errorf("failed to parse coverage summary: %w", err)
	}

	var candidates []types.DiscoveryCandidate
	for pkg, pct := range summary.Packages {
		if pkg == "" || pct >= s.threshold {
			continue
		}
		priority := 2
		if pct < 25 {
			priority = 3
		}
		candidates = append(candidates, types.DiscoveryCandidate{
			Source:      s.Name(),
			SourceRef:   pkg,
			Type:        types.TypeTest,
			Title:       fmt.Sprintf("Raise test coverage for %s (%.1f%%)", pkg, pct),
			Description: fmt.Sprintf("Package %s has %.1f%% statement coverage, below the %.0f%% target.", pkg, pct, s.threshold),
			Priority:    priority,
			Context: map[string]string{
				"package":  pkg,
				"coverage": fmt.Sprintf("%.1f", pct),
			},
		})
	}
	return candidates, nil
}
