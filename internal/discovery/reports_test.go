package discovery

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"taskhound/internal/types"
)

func TestQualitySourceParsesFindings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "findings.jsonl")
	report := `{"rule":"unused-var","severity":"warning","file":"a.go","line":10,"message":"x is unused"}
{"rule":"nil-deref","severity":"error","file":"b.go","line":4,"message":"possible nil dereference"}
not json at all
{"rule":"","severity":"info","file":"","line":0,"message":"incomplete"}
`
	if err := os.WriteFile(path, []byte(report), 0644); err != nil {
		t.Fatal(err)
	}

	src := NewQualitySource(path)
	candidates, err := src.Discover(context.Background(), time.Time{})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(candidates) != 2 {
		t.Fatalf("got %d candidates, want 2", len(candidates))
	}
	for _, c := range candidates {
		if c.Type != types.TypeRefactor {
			t.Errorf("type = %s, want refactor", c.Type)
		}
	}
	if candidates[0].Priority != 3 || candidates[1].Priority != 4 {
		t.Errorf("priorities = %d/%d, want 3/4", candidates[0].Priority, candidates[1].Priority)
	}
}

func TestQualitySourceMissingReport(t *testing.T) {
	src := NewQualitySource(filepath.Join(t.TempDir(), "absent.jsonl"))
	candidates, err := src.Discover(context.Background(), time.Time{})
	if err != nil || candidates != nil {
		t.Fatalf("missing report: candidates=%v err=%v", candidates, err)
	}
}

func TestQualitySourceSkipsUnchangedReport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "findings.jsonl")
	if err := os.WriteFile(path, []byte(`{"rule":"r","severity":"info","file":"a.go","line":1,"message":"m"}`+"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	src := NewQualitySource(path)

	future := time.Now().Add(time.Hour)
	candidates, err := src.Discover(context.Background(), future)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(candidates) != 0 {
		t.Errorf("unchanged report produced %d candidates", len(candidates))
	}
}

func TestCoverageSourceThresholds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "coverage.json")
	summary := `{"packages":{"pkg/low":12.5,"pkg/mid":45.0,"pkg/ok":85.0}}`
	if err := os.WriteFile(path, []byte(summary), 0644); err != nil {
		t.Fatal(err)
	}

	src := NewCoverageSource(path, 60)
	candidates, err := src.Discover(context.Background(), time.Time{})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(candidates) != 2 {
		t.Fatalf("got %d candidates, want 2", len(candidates))
	}

	byRef := map[string]types.DiscoveryCandidate{}
	for _, c := range candidates {
		if c.Type != types.TypeTest {
			t.Errorf("type = %s, want test", c.Type)
		}
		byRef[c.SourceRef] = c
	}
	if byRef["pkg/low"].Priority != 3 {
		t.Errorf("very low coverage priority = %d, want 3", byRef["pkg/low"].Priority)
	}
	if byRef["pkg/mid"].Priority != 2 {
		t.Errorf("moderate coverage priority = %d, want 2", byRef["pkg/mid"].Priority)
	}
}

func TestCoverageSourceMissingSummary(t *testing.T) {
	src := NewCoverageSource(filepath.Join(t.TempDir(), "absent.json"), 60)
	candidates, err := src.Discover(context.Background(), time.Time{})
	if err != nil || candidates != nil {
		t.Fatalf("missing summary: candidates=%v err=%v", candidates, err)
	}
}
