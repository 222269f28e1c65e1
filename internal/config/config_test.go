package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileGivesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Queue.MaxRetries != 3 || cfg.Scheduler.MaxConcurrent != 3 {
		t.Errorf("defaults not applied: %+v", cfg)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
queue:
  max_retries: 5
scheduler:
  max_concurrent: 8
  cycle_interval: 30s
conversation:
  token_threshold: 500
  preserve_recent: 3
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Queue.MaxRetries != 5 {
		t.Errorf("max_retries = %d", cfg.Queue.MaxRetries)
	}
	if cfg.Scheduler.MaxConcurrent != 8 || cfg.Scheduler.CycleInterval != "30s" {
		t.Errorf("scheduler = %+v", cfg.Scheduler)
	}
	if cfg.Convo.TokenThreshold != 500 || cfg.Convo.PreserveRecent != 3 {
		t.Errorf("conversation = %+v", cfg.Convo)
	}
	// Untouched sections keep defaults.
	if cfg.Agent.Binary != "agent" {
		t.Errorf("agent binary = %q", cfg.Agent.Binary)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TASKHOUND_DB", "/tmp/override.db")
	t.Setenv("TASKHOUND_MAX_CONCURRENT", "7")
	t.Setenv("TASKHOUND_DEBUG", "1")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Queue.DatabasePath != "/tmp/override.db" {
		t.Errorf("db path = %q", cfg.Queue.DatabasePath)
	}
	if cfg.Scheduler.MaxConcurrent != 7 {
		t.Errorf("max concurrent = %d", cfg.Scheduler.MaxConcurrent)
	}
	if !cfg.Logging.Debug {
		t.Error("debug not enabled from env")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Queue.MaxRetries = 0
	if err := cfg.Validate(); err == nil {
		t.Error("max_retries=0 must fail validation")
	}

	cfg = DefaultConfig()
	cfg.Scheduler.CycleInterval = "soon"
	if err := cfg.Validate(); err == nil {
		t.Error("unparseable duration must fail validation")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".taskhound", "config.yaml")
	cfg := DefaultConfig()
	cfg.Scheduler.MaxConcurrent = 4
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Scheduler.MaxConcurrent != 4 {
		t.Errorf("round trip lost value: %+v", loaded.Scheduler)
	}
}

func TestDuration(t *testing.T) {
	if got := Duration("90s", time.Second); got != 90*time.Second {
		t.Errorf("Duration(90s) = %v", got)
	}
	if got := Duration("", 5*time.Second); got != 5*time.Second {
		t.Errorf("empty falls back, got %v", got)
	}
	if got := Duration("bogus", 5*time.Second); got != 5*time.Second {
		t.Errorf("bad value falls back, got %v", got)
	}
}

func TestResolvePath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Workspace = "/ws"
	if got := cfg.ResolvePath(".taskhound/queue.db"); got != "/ws/.taskhound/queue.db" {
		t.Errorf("relative: %q", got)
	}
	if got := cfg.ResolvePath("/abs/queue.db"); got != "/abs/queue.db" {
		t.Errorf("absolute: %q", got)
	}
}
