package discovery

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"taskhound/internal/logging"
	"taskhound/internal/types"
)

// qualityFinding is one line of the static-analysis findings report
// (JSON lines, one finding per line).
type qualityFinding struct {
	Rule     string `json:"rule"`
	Severity string `json:"severity"` // error | warning | info
	File     string `json:"file"`
	Line     int    `json:"line"`
	Message  string `json:"message"`
}

// QualitySource reads a findings report produced by static analysis
// tooling and proposes refactor candidates. A missing report is not an
// error; the source simply has nothing to say.
type QualitySource struct {
	reportPath string
}

// NewQualitySource creates the source for the given report file.
func NewQualitySource(reportPath string) *QualitySource {
	return &QualitySource{reportPath: reportPath}
}

func (s *QualitySource) Name() string { return "quality" }

func (s *QualitySource) Discover(ctx context.Context, since time.Time) ([]types.DiscoveryCandidate, error) {
	info, err := os.Stat(s.reportPath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat findings report: %w", err)
	}
	if !since.IsZero() && info.ModTime().Before(since) {
		// Report unchanged since the last cycle.
		return nil, nil
	}

	f, err := os.Open(s.reportPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open findings report: %w", err)
	}
	defer f.Close()

	var candidates []types.DiscoveryCandidate
	scanner := bufio.NewScanner(f)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var finding qualityFinding
		if err := json.Unmarshal(line, &finding); err != nil {
			logging.DiscoveryWarn("QualitySource: bad finding on line %d: %v", lineNum, err)
			continue
		}
		if finding.Rule == "" || finding.File == "" {
			continue
		}

		priority := 2
		switch finding.Severity {
		case "error":
			priority = 4
		case "warning":
			priority = 3
		}

		candidates = append(candidates, types.DiscoveryCandidate{
			Source:      s.Name(),
			SourceRef:   fmt.Sprintf("%s:%s:%d", finding.Rule, finding.File, finding.Line),
			Type:        types.TypeRefactor,
			Title:       fmt.Sprintf("%s: %s", finding.Rule, finding.Message),
			Description: fmt.Sprintf("Static analysis finding at %s:%d (%s severity): %s", finding.File, finding.Line, finding.Severity, finding.Message),
			Priority:    priority,
			Context: map[string]string{
				"file": finding.File,
				"line": fmt.Sprintf("%d", finding.Line),
				"rule": finding.Rule,
			},
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read findings report: %w", err)
	}
	return candidates, nil
}
